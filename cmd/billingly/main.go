package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingly/internal/clock"
	"github.com/smallbiznis/billingly/internal/config"
	"github.com/smallbiznis/billingly/internal/customer"
	"github.com/smallbiznis/billingly/internal/events"
	"github.com/smallbiznis/billingly/internal/invoice"
	"github.com/smallbiznis/billingly/internal/ledger"
	"github.com/smallbiznis/billingly/internal/migration"
	"github.com/smallbiznis/billingly/internal/notifier"
	"github.com/smallbiznis/billingly/internal/observability"
	"github.com/smallbiznis/billingly/internal/payment"
	"github.com/smallbiznis/billingly/internal/plan"
	"github.com/smallbiznis/billingly/internal/plancode"
	"github.com/smallbiznis/billingly/internal/scheduler"
	"github.com/smallbiznis/billingly/internal/subscription"
	"github.com/smallbiznis/billingly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		events.Module,
		notifier.Module,
		ledger.Module,
		plan.Module,
		plancode.Module,
		payment.Module,
		invoice.Module,
		subscription.Module,
		customer.Module,

		fx.Provide(newSchedulerConfig),
		scheduler.Module,
		fx.Invoke(observability.RunMetricsServer),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("snowflake node: %v", err)
	}
	return node
}

func newSchedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{Interval: cfg.SchedulerInterval}
}
