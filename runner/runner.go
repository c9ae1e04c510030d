// Package runner processes every account once per cycle, with bounded concurrency and a
// minimum spacing between account launches.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-store-claimer/accounts"
	"github.com/jrsteele09/go-store-claimer/escalation"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/jrsteele09/go-store-claimer/offers"
	"github.com/jrsteele09/go-store-claimer/session"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultEulaPoll = 15 * time.Second

var (
	metricAccounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimer",
		Name:      "accounts_processed_total",
		Help:      "Account units of work by result.",
	}, []string{"result"})
	metricCycleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "claimer",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one cycle across all accounts.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
	metricLastCycleOK = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "claimer",
		Name:      "last_cycle_success",
		Help:      "1 when every account succeeded in the last cycle.",
	})
)

// Sessions establishes account sessions.
type Sessions interface {
	EnsureSession(ctx context.Context, acc accounts.Account) (*session.Handle, error)
}

// Eula checks and links the privacy policy acceptance.
type Eula interface {
	EulaAccepted(ctx context.Context, sess storefront.Session) (bool, error)
	EulaURL() string
}

var (
	_ Sessions = (*session.Manager)(nil)
	_ Eula     = (*storefront.Client)(nil)
)

// ClaimResult is one purchase attempt.
type ClaimResult struct {
	Offer   offers.OfferCandidate
	Outcome offers.PurchaseOutcome
	Err     error
}

// AccountResult is one account's unit of work.
type AccountResult struct {
	Account  string
	Tier     session.Tier
	Claims   []ClaimResult
	Err      error
	Started  time.Time
	Finished time.Time
}

// OK reports whether the account's session and every claim succeeded.
func (r AccountResult) OK() bool {
	if r.Err != nil {
		return false
	}
	for _, c := range r.Claims {
		if !c.Outcome.Success() {
			return false
		}
	}
	return true
}

// Report is the outcome of one cycle.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Accounts []AccountResult
}

// OK reports whether every account succeeded.
func (r *Report) OK() bool {
	for _, a := range r.Accounts {
		if !a.OK() {
			return false
		}
	}
	return true
}

// Runner runs cycles.
type Runner struct {
	accounts  []accounts.Account
	sessions  Sessions
	eula      Eula
	acquirer  *offers.Acquirer
	escalator offers.Escalator
	workers   int
	limiter   *rate.Limiter
	deadline  offers.DeadlineFunc
	eulaPoll  time.Duration
	nowFunc   func() time.Time
	logger    zerolog.Logger
}

type Option func(*Runner)

func WithNowTime(now func() time.Time) Option {
	return func(r *Runner) {
		r.nowFunc = now
	}
}

// WithWorkers bounds how many accounts are processed at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithLaunchSpacing sets the minimum time between two account launches. Zero disables
// spacing.
func WithLaunchSpacing(d time.Duration) Option {
	return func(r *Runner) {
		if d <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithEscalationDeadline(f offers.DeadlineFunc) Option {
	return func(r *Runner) {
		r.deadline = f
	}
}

func WithEulaPoll(d time.Duration) Option {
	return func(r *Runner) {
		r.eulaPoll = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func New(accs []accounts.Account, sessions Sessions, eula Eula, acquirer *offers.Acquirer, escalator offers.Escalator, opts ...Option) *Runner {
	r := &Runner{
		accounts:  accs,
		sessions:  sessions,
		eula:      eula,
		acquirer:  acquirer,
		escalator: escalator,
		workers:   1,
		eulaPoll:  defaultEulaPoll,
		nowFunc:   time.Now,
		logger:    zerolog.Nop(),
	}
	r.deadline = func(now time.Time) time.Time { return now.Add(15 * time.Minute) }
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// RunOnce processes every account and waits for all of them. One account's failure
// never stops the others.
func (r *Runner) RunOnce(ctx context.Context) *Report {
	report := &Report{RunID: uuid.NewString(), Started: r.nowFunc(), Accounts: make([]AccountResult, len(r.accounts))}
	log := r.logger.With().Str("run", report.RunID).Logger()
	log.Info().Int("accounts", len(r.accounts)).Int("workers", r.workers).Msg("cycle started")

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for i, acc := range r.accounts {
		if err := r.admit(ctx, sem); err != nil {
			report.Accounts[i] = AccountResult{Account: acc.ID(), Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, acc accounts.Account) {
			defer wg.Done()
			defer func() { <-sem }()
			report.Accounts[i] = r.runAccount(ctx, acc, log)
		}(i, acc)
	}
	wg.Wait()

	report.Finished = r.nowFunc()
	metricCycleSeconds.Observe(report.Finished.Sub(report.Started).Seconds())
	if report.OK() {
		metricLastCycleOK.Set(1)
	} else {
		metricLastCycleOK.Set(0)
	}
	log.Info().Bool("ok", report.OK()).Dur("took", report.Finished.Sub(report.Started)).Msg("cycle finished")
	return report
}

// admit takes a worker slot, then waits for the launch spacing.
func (r *Runner) admit(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			<-sem
			return err
		}
	}
	return nil
}

func (r *Runner) runAccount(ctx context.Context, acc accounts.Account, parent zerolog.Logger) (res AccountResult) {
	log := parent.With().Str("account", acc.ID()).Logger()
	res = AccountResult{Account: acc.ID(), Started: r.nowFunc()}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("account run panicked")
			res.Err = fmt.Errorf("[Runner.runAccount] panic: %v", p)
		}
		res.Finished = r.nowFunc()
		if res.OK() {
			metricAccounts.WithLabelValues("ok").Inc()
		} else {
			metricAccounts.WithLabelValues("failed").Inc()
		}
	}()

	h, err := r.sessions.EnsureSession(ctx, acc)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("no session")
		return res
	}
	res.Tier = h.Tier()

	if err := r.ensureEula(ctx, acc, h); err != nil {
		res.Err = err
		log.Error().Err(err).Msg("privacy policy not accepted")
		return res
	}

	run := r.acquirer.ForAccount(acc, h, func(ctx context.Context) (storefront.Session, error) {
		fresh, err := r.sessions.EnsureSession(ctx, acc)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	})
	candidates, err := run.ListFreeOffers(ctx)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("listing free offers")
		return res
	}
	acquirable, err := run.FilterAcquirable(ctx, candidates)
	if err != nil {
		res.Err = err
		log.Error().Err(err).Msg("checking offers")
		return res
	}
	log.Info().Int("free", len(candidates)).Int("acquirable", len(acquirable)).Msg("offers checked")

	for _, c := range acquirable {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		outcome, err := run.Purchase(ctx, c)
		res.Claims = append(res.Claims, ClaimResult{Offer: c, Outcome: outcome, Err: err})
	}
	return res
}

// ensureEula asks a human to accept the privacy policy when the store says it is
// pending, and waits until the store agrees.
func (r *Runner) ensureEula(ctx context.Context, acc accounts.Account, sess storefront.Session) error {
	accepted, err := r.eula.EulaAccepted(ctx, sess)
	if apperrors.Is(err, apperrors.ErrUnsupported) {
		r.logger.Warn().Err(err).Str("account", acc.ID()).Msg("privacy policy check skipped")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "[Runner.ensureEula]")
	}
	if accepted {
		return nil
	}
	_, err = r.escalator.Request(ctx, escalation.Request{
		AccountID: acc.ID(),
		Reason:    notify.ReasonPrivacyPolicy,
		Deadline:  r.deadline(r.nowFunc()),
		Target:    r.eula.EulaURL(),
		Watch: func(ctx context.Context) (escalation.Payload, error) {
			t := time.NewTicker(r.eulaPoll)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return escalation.Payload{}, ctx.Err()
				case <-t.C:
				}
				if ok, err := r.eula.EulaAccepted(ctx, sess); err == nil && ok {
					return escalation.Payload{}, nil
				}
			}
		},
	})
	return errors.Wrap(err, "[Runner.ensureEula]")
}
