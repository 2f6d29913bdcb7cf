package testutil

import (
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingly/internal/clock"
	"github.com/smallbiznis/billingly/internal/config"
	customerdomain "github.com/smallbiznis/billingly/internal/customer/domain"
	customersvc "github.com/smallbiznis/billingly/internal/customer/service"
	"github.com/smallbiznis/billingly/internal/events"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	invoicesvc "github.com/smallbiznis/billingly/internal/invoice/service"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	ledgersvc "github.com/smallbiznis/billingly/internal/ledger/service"
	"github.com/smallbiznis/billingly/internal/notifier"
	paymentdomain "github.com/smallbiznis/billingly/internal/payment/domain"
	paymentsvc "github.com/smallbiznis/billingly/internal/payment/service"
	plandomain "github.com/smallbiznis/billingly/internal/plan/domain"
	plansvc "github.com/smallbiznis/billingly/internal/plan/service"
	codedomain "github.com/smallbiznis/billingly/internal/plancode/domain"
	codesvc "github.com/smallbiznis/billingly/internal/plancode/service"
	subdomain "github.com/smallbiznis/billingly/internal/subscription/domain"
	subsvc "github.com/smallbiznis/billingly/internal/subscription/service"
)

// NewDB opens a fresh in-memory database migrated with the full schema. Each
// test gets its own database name so state never leaks between tests.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&subdomain.Subscription{},
		&invoicedomain.Invoice{},
		&invoicedomain.Receipt{},
		&paymentdomain.Payment{},
		&ledgerdomain.Entry{},
		&codedomain.SpecialPlanCode{},
		&events.OutboxEvent{},
	))
	return db
}

// Env bundles every service wired against one database and one fake clock.
type Env struct {
	DB            *gorm.DB
	Clock         *clock.FakeClock
	GenID         *snowflake.Node
	Notifier      *notifier.Recorder
	Outbox        *events.Outbox
	Ledger        ledgerdomain.Service
	Plans         plandomain.Service
	Codes         codedomain.Service
	Payments      paymentdomain.Service
	Invoices      invoicedomain.Service
	Subscriptions subdomain.Service
	Customers     customerdomain.Service
}

func NewEnv(t *testing.T, clk *clock.FakeClock) *Env {
	t.Helper()

	db := NewDB(t)
	log := zap.NewNop()
	genID, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recorder := notifier.NewRecorder()
	outbox := events.NewOutbox(log, clk)
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	ledgerService := ledgersvc.NewService(ledgersvc.Params{DB: db, Log: log, GenID: genID, Clock: clk})
	planService := plansvc.NewService(plansvc.Params{DB: db, Log: log, GenID: genID, Clock: clk})
	codeService := codesvc.NewService(codesvc.Params{DB: db, Log: log, GenID: genID, Clock: clk})
	paymentService := paymentsvc.NewService(paymentsvc.Params{
		DB: db, Log: log, GenID: genID, Ledger: ledgerService,
	})
	invoiceService := invoicesvc.NewService(invoicesvc.Params{
		DB: db, Log: log, GenID: genID, Clock: clk,
		Ledger: ledgerService, Notifier: recorder, Outbox: outbox,
	})
	subscriptionService := subsvc.NewService(subsvc.Params{
		DB: db, Log: log, GenID: genID, Clock: clk,
		Billing: billing, Invoices: invoiceService, Notifier: recorder,
	})
	customerService := customersvc.NewService(customersvc.Params{
		DB: db, Log: log, GenID: genID, Clock: clk,
		Plans: planService, Subscriptions: subscriptionService,
		Invoices: invoiceService, Payments: paymentService,
		Codes: codeService, Outbox: outbox,
	})

	return &Env{
		DB:            db,
		Clock:         clk,
		GenID:         genID,
		Notifier:      recorder,
		Outbox:        outbox,
		Ledger:        ledgerService,
		Plans:         planService,
		Codes:         codeService,
		Payments:      paymentService,
		Invoices:      invoiceService,
		Subscriptions: subscriptionService,
		Customers:     customerService,
	}
}
