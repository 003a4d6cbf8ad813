package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voicemeter/internal/agent"
	"github.com/smallbiznis/voicemeter/internal/charge"
	"github.com/smallbiznis/voicemeter/internal/client"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	"github.com/smallbiznis/voicemeter/internal/enforcement"
	"github.com/smallbiznis/voicemeter/internal/events"
	"github.com/smallbiznis/voicemeter/internal/invoice"
	"github.com/smallbiznis/voicemeter/internal/migration"
	"github.com/smallbiznis/voicemeter/internal/observability"
	"github.com/smallbiznis/voicemeter/internal/payment"
	"github.com/smallbiznis/voicemeter/internal/plan"
	"github.com/smallbiznis/voicemeter/internal/providers"
	"github.com/smallbiznis/voicemeter/internal/ratelimit"
	"github.com/smallbiznis/voicemeter/internal/scheduler"
	"github.com/smallbiznis/voicemeter/internal/server"
	"github.com/smallbiznis/voicemeter/internal/usage"
	"github.com/smallbiznis/voicemeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		events.Module,
		providers.Module,

		// Billing domains
		plan.Module,
		client.Module,
		agent.Module,
		usage.Module,
		invoice.Module,
		payment.Module,
		charge.Module,
		enforcement.Module,

		scheduler.Module,
		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
