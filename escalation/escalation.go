package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	// ResolvePath prefixes every action link; the token follows it.
	ResolvePath = "/r/"

	tokenLength      = 10
	maxTokenAttempts = 8
)

var (
	metricPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "claimer",
		Name:      "escalations_pending",
		Help:      "Escalations currently waiting for a human.",
	})
	metricOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimer",
		Name:      "escalations_total",
		Help:      "Finished escalations by reason and outcome.",
	}, []string{"reason", "outcome"})
)

// Payload source values.
const (
	SourceVisit    = "visit"
	SourceCallback = "callback"
	SourceWatcher  = "watcher"
)

// Payload is whatever the resolver supplied.
type Payload struct {
	Source      string
	ContentType string
	Body        []byte
}

// WatchFunc resolves an escalation from inside the process, for example by polling the
// remote service until the human has acted. It must return when ctx is cancelled.
type WatchFunc func(ctx context.Context) (Payload, error)

// Request describes one human escalation.
type Request struct {
	AccountID string
	Reason    notify.Reason
	Deadline  time.Time
	// Target is where the action link sends the human. Empty means the link itself
	// is the action.
	Target string
	// ResolveOnVisit resolves the escalation as soon as the action link is opened.
	ResolveOnVisit bool
	Watch          WatchFunc
}

// Escalator publishes pending-action tokens, notifies a human and waits for resolution.
type Escalator struct {
	gateway  notify.Gateway
	pending  *registry
	baseURL  string
	nowFunc  func() time.Time
	newToken func() string
	logger   zerolog.Logger
}

type Option func(*Escalator)

func WithNowTime(now func() time.Time) Option {
	return func(e *Escalator) {
		e.nowFunc = now
	}
}

// WithTokenGenerator replaces the random token source.
func WithTokenGenerator(gen func() string) Option {
	return func(e *Escalator) {
		e.newToken = gen
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Escalator) {
		e.logger = logger
	}
}

// New creates an Escalator whose links start with baseURL.
func New(gateway notify.Gateway, baseURL string, opts ...Option) *Escalator {
	e := &Escalator{
		gateway:  gateway,
		pending:  newRegistry(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		nowFunc:  time.Now,
		newToken: shortToken,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
}

// Request blocks until the escalation is resolved, the deadline passes or ctx ends.
// Exactly one notification is sent. If it cannot be delivered no wait is started.
func (e *Escalator) Request(ctx context.Context, req Request) (Payload, error) {
	s, err := e.register(req)
	if err != nil {
		return Payload{}, err
	}
	token := s.info.Token
	log := e.logger.With().Str("account", req.AccountID).Str("reason", string(req.Reason)).Str("token", token).Logger()

	if err := e.gateway.Deliver(ctx, req.AccountID, req.Reason, e.Link(token)); err != nil {
		e.pending.take(token)
		metricOutcomes.WithLabelValues(string(req.Reason), "notification_failed").Inc()
		if !apperrors.Is(err, apperrors.ErrNotificationFailed) {
			err = fmt.Errorf("%w: %w", apperrors.ErrNotificationFailed, err)
		}
		return Payload{}, errors.Wrap(err, "[Escalator.Request]")
	}
	metricPending.Inc()
	defer metricPending.Dec()
	log.Info().Time("deadline", req.Deadline).Msg("waiting for human")

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.Watch != nil {
		go e.watch(waitCtx, token, req.Watch, log)
	}

	timer := time.NewTimer(req.Deadline.Sub(e.nowFunc()))
	defer timer.Stop()

	select {
	case p := <-s.resolved:
		metricOutcomes.WithLabelValues(string(req.Reason), "resolved").Inc()
		log.Info().Str("source", p.Source).Msg("escalation resolved")
		return p, nil
	case <-timer.C:
		if p, ok := e.abandon(s); ok {
			return p, nil
		}
		metricOutcomes.WithLabelValues(string(req.Reason), "timeout").Inc()
		log.Warn().Msg("escalation timed out")
		return Payload{}, errors.Wrapf(apperrors.ErrEscalationTimeout, "[Escalator.Request] %s for %s", req.Reason, req.AccountID)
	case <-ctx.Done():
		if p, ok := e.abandon(s); ok {
			return p, nil
		}
		metricOutcomes.WithLabelValues(string(req.Reason), "cancelled").Inc()
		return Payload{}, errors.Wrap(ctx.Err(), "[Escalator.Request]")
	}
}

// abandon removes the slot. A resolution that won the race is still returned: once
// the slot is gone a resolver holds it and its send is already on the way.
func (e *Escalator) abandon(s *slot) (Payload, bool) {
	if _, ok := e.pending.take(s.info.Token); ok {
		return Payload{}, false
	}
	p := <-s.resolved
	metricOutcomes.WithLabelValues(string(s.info.Reason), "resolved").Inc()
	return p, true
}

func (e *Escalator) register(req Request) (*slot, error) {
	info := PendingEscalation{
		AccountID:      req.AccountID,
		Reason:         req.Reason,
		Target:         req.Target,
		ResolveOnVisit: req.ResolveOnVisit,
		CreatedAt:      e.nowFunc(),
		Deadline:       req.Deadline,
	}
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		info.Token = e.newToken()
		s, err := e.pending.insert(info)
		if err == nil {
			return s, nil
		}
		if err != errTokenInUse {
			return nil, errors.Wrap(err, "[Escalator.register]")
		}
	}
	return nil, fmt.Errorf("[Escalator.register] no free token after %d attempts", maxTokenAttempts)
}

func (e *Escalator) watch(ctx context.Context, token string, watch WatchFunc, log zerolog.Logger) {
	p, err := watch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("watcher stopped; waiting for callback")
		}
		return
	}
	if p.Source == "" {
		p.Source = SourceWatcher
	}
	if err := e.Resolve(token, p); err != nil {
		log.Debug().Err(err).Msg("watcher resolved a finished escalation")
	}
}

// Resolve hands payload to the waiter of token. An unknown or finished token returns
// ErrEscalationNotFound and changes nothing.
func (e *Escalator) Resolve(token string, payload Payload) error {
	s, ok := e.pending.take(token)
	if !ok {
		return errors.Wrapf(apperrors.ErrEscalationNotFound, "[Escalator.Resolve] token %q", token)
	}
	s.resolved <- payload
	return nil
}

// Visit handles a human opening the action link and returns where to send them, or ""
// when there is nowhere to go.
func (e *Escalator) Visit(token string) (string, error) {
	info, ok := e.pending.get(token)
	if !ok {
		return "", errors.Wrapf(apperrors.ErrEscalationNotFound, "[Escalator.Visit] token %q", token)
	}
	if info.ResolveOnVisit || info.Target == "" {
		if err := e.Resolve(token, Payload{Source: SourceVisit}); err != nil {
			return "", err
		}
	}
	return info.Target, nil
}

// Link is the URL sent to humans for token.
func (e *Escalator) Link(token string) string {
	return e.baseURL + ResolvePath + token
}

func (e *Escalator) PendingCount() int {
	return e.pending.len()
}
