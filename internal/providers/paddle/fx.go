package paddle

import (
	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	"github.com/smallbiznis/voicemeter/internal/config"
	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("paddle",
	fx.Provide(
		NewClient,
		func(c *Client) chargedomain.Gateway { return c },
		func(cfg config.Config) paymentdomain.Verifier {
			return NewVerifier(cfg.Paddle.WebhookSecret, cfg.Paddle.SignatureTolerance)
		},
	),
)
