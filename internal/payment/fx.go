package payment

import (
	"github.com/smallbiznis/voicemeter/internal/payment/repository"
	"github.com/smallbiznis/voicemeter/internal/payment/service"
	"github.com/smallbiznis/voicemeter/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
