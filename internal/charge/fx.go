package charge

import (
	"github.com/smallbiznis/voicemeter/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge.service",
	fx.Provide(service.NewService),
)
