package migration

import (
	"github.com/smallbiznis/billingly/internal/config"
	customerdomain "github.com/smallbiznis/billingly/internal/customer/domain"
	"github.com/smallbiznis/billingly/internal/events"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/billingly/internal/payment/domain"
	plandomain "github.com/smallbiznis/billingly/internal/plan/domain"
	codedomain "github.com/smallbiznis/billingly/internal/plancode/domain"
	subdomain "github.com/smallbiznis/billingly/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres installs (sqlite, mysql) get the gorm schema.
		return conn.AutoMigrate(
			&customerdomain.Customer{},
			&plandomain.Plan{},
			&subdomain.Subscription{},
			&invoicedomain.Invoice{},
			&invoicedomain.Receipt{},
			&paymentdomain.Payment{},
			&ledgerdomain.Entry{},
			&codedomain.SpecialPlanCode{},
			&events.OutboxEvent{},
		)
	}),
)
