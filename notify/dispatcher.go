package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "claimer",
	Name:      "notifications_total",
	Help:      "Notification attempts by channel and result.",
}, []string{"channel", "result"})

// Dispatcher is the process-wide Gateway: it sends every message to the account's own
// channels plus the global ones.
type Dispatcher struct {
	global     []Notifier
	perAccount map[string][]Notifier
	logger     zerolog.Logger
}

var _ Gateway = (*Dispatcher)(nil)

func NewDispatcher(global []Notifier, perAccount map[string][]Notifier, logger zerolog.Logger) *Dispatcher {
	if perAccount == nil {
		perAccount = make(map[string][]Notifier)
	}
	return &Dispatcher{global: global, perAccount: perAccount, logger: logger}
}

// FromConfig builds the dispatcher for every configured account. When nothing is
// configured the link is written to the log so a human tailing it can still act.
func FromConfig(cfg config.AccountsConfig, client *http.Client, logger zerolog.Logger) (*Dispatcher, error) {
	global, err := BuildAll(cfg.GetNotifiers(), client, logger)
	if err != nil {
		return nil, fmt.Errorf("[notify FromConfig] global %w", err)
	}
	perAccount := make(map[string][]Notifier)
	total := len(global)
	for _, acc := range cfg.GetAccounts() {
		ns, err := BuildAll(acc.Notifiers, client, logger)
		if err != nil {
			closeAll(global)
			for _, opened := range perAccount {
				closeAll(opened)
			}
			return nil, fmt.Errorf("[notify FromConfig] %s %w", acc.Email, err)
		}
		perAccount[accountKey(acc.Email)] = ns
		total += len(ns)
	}
	if total == 0 {
		global = append(global, NewLocal(logger))
	}
	return NewDispatcher(global, perAccount, logger), nil
}

// Deliver tries every channel for the account. It fails only when no channel accepted
// the message, so a single broken channel does not abort an escalation another channel
// has already announced.
func (d *Dispatcher) Deliver(ctx context.Context, accountID string, reason Reason, actionURL string) error {
	notifiers := d.notifiersFor(accountID)
	if len(notifiers) == 0 {
		return fmt.Errorf("%w: no notifier configured for %s", apperrors.ErrNotificationFailed, accountID)
	}

	msg := Message{Account: accountID, Reason: reason, URL: actionURL}
	var errs []error
	delivered := 0
	for _, n := range notifiers {
		if err := n.Send(ctx, msg); err != nil {
			metricDeliveries.WithLabelValues(n.Name(), "error").Inc()
			d.logger.Warn().Err(err).Str("account", accountID).Str("channel", n.Name()).Str("reason", string(reason)).Msg("notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		metricDeliveries.WithLabelValues(n.Name(), "ok").Inc()
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: %w", apperrors.ErrNotificationFailed, errors.Join(errs...))
	}
	return nil
}

func (d *Dispatcher) Close() error {
	closeAll(d.global)
	for _, ns := range d.perAccount {
		closeAll(ns)
	}
	return nil
}

func (d *Dispatcher) notifiersFor(accountID string) []Notifier {
	own := d.perAccount[accountKey(accountID)]
	out := make([]Notifier, 0, len(own)+len(d.global))
	out = append(out, own...)
	return append(out, d.global...)
}

func accountKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
