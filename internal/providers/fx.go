package providers

import (
	"github.com/smallbiznis/voicemeter/internal/providers/paddle"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	paddle.Module,
)
