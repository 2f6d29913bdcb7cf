package notifier

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Kind names a notification delivered to a customer or operator.
type Kind string

const (
	KindPendingInvoice Kind = "pending_invoice"
	KindOverdueInvoice Kind = "overdue_invoice"
	KindPaidInvoice    Kind = "paid_invoice"
	KindTrialExpired   Kind = "trial_expired"
	KindTaskSummary    Kind = "task_summary"
)

// Notification is at-least-once: callers mark invoices as notified only after
// Notify returns nil, so an implementation may see the same notification
// again after a crash.
type Notification struct {
	Kind       Kind
	CustomerID snowflake.ID
	InvoiceID  snowflake.ID
	Summary    string
}

// Notifier is the host's delivery hook (email, chat, ticketing). The engine
// only decides WHEN to notify, never how.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier writes notifications to the log. It is the default wiring for
// installations that track delivery from log shipping.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.log.Info("notification.sent",
		zap.String("kind", string(notification.Kind)),
		zap.Int64("customer_id", int64(notification.CustomerID)),
		zap.Int64("invoice_id", int64(notification.InvoiceID)),
		zap.String("summary", notification.Summary),
	)
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	// Fail makes Notify return this error, simulating a broken channel.
	Fail error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, notification Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, notification)
	return nil
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *Recorder) SentOf(kind Kind) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

var Module = fx.Module("notifier",
	fx.Provide(
		fx.Annotate(NewLogNotifier, fx.As(new(Notifier))),
	),
)
