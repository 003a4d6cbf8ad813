package usage

import (
	"github.com/smallbiznis/voicemeter/internal/usage/repository"
	"github.com/smallbiznis/voicemeter/internal/usage/service"
	"github.com/smallbiznis/voicemeter/internal/usage/telemetry"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(telemetry.NewIngestor),
)
