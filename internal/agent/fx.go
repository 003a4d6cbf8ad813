package agent

import (
	agentdomain "github.com/smallbiznis/voicemeter/internal/agent/domain"
	"github.com/smallbiznis/voicemeter/internal/agent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("agent",
	fx.Provide(
		fx.Annotate(service.NewLoggingController, fx.As(new(agentdomain.Controller))),
	),
	fx.Provide(service.NewService),
)
