package escalation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-store-claimer/escalation"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	account string
	reason  notify.Reason
	url     string
}

type fakeGateway struct {
	mu         sync.Mutex
	deliveries []delivery
	err        error
	delivered  chan delivery
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{delivered: make(chan delivery, 16)}
}

func (g *fakeGateway) Deliver(_ context.Context, account string, reason notify.Reason, url string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	d := delivery{account, reason, url}
	g.deliveries = append(g.deliveries, d)
	g.delivered <- d
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.deliveries)
}

func tokenFromURL(t *testing.T, url string) string {
	t.Helper()
	const prefix = "http://claimer.local" + escalation.ResolvePath
	require.True(t, len(url) > len(prefix))
	return url[len(prefix):]
}

func TestRequest_ResolvedByCallback(t *testing.T) {
	gw := newFakeGateway()
	e := escalation.New(gw, "http://claimer.local/")

	go func() {
		d := <-gw.delivered
		require.NoError(t, e.Resolve(tokenFromURL(t, d.url), escalation.Payload{Source: escalation.SourceCallback, Body: []byte("tok")}))
	}()

	p, err := e.Request(context.Background(), escalation.Request{
		AccountID: "a@example.com",
		Reason:    notify.ReasonLogin,
		Deadline:  time.Now().Add(5 * time.Second),
	})
	require.NoError(t, err)
	require.Equal(t, []byte("tok"), p.Body)
	require.Equal(t, 1, gw.count())
	require.Zero(t, e.PendingCount())
}

func TestRequest_TimeoutLeavesNothingPending(t *testing.T) {
	gw := newFakeGateway()
	e := escalation.New(gw, "http://claimer.local")

	_, err := e.Request(context.Background(), escalation.Request{
		AccountID: "a@example.com",
		Reason:    notify.ReasonPurchase,
		Deadline:  time.Now().Add(50 * time.Millisecond),
	})
	require.ErrorIs(t, err, apperrors.ErrEscalationTimeout)
	require.Equal(t, 1, gw.count())
	require.Zero(t, e.PendingCount())

	d := <-gw.delivered
	err = e.Resolve(tokenFromURL(t, d.url), escalation.Payload{})
	require.ErrorIs(t, err, apperrors.ErrEscalationNotFound)
}

func TestRequest_NotificationFailureSkipsWait(t *testing.T) {
	gw := newFakeGateway()
	gw.err = errors.New("smtp down")
	e := escalation.New(gw, "http://claimer.local")

	start := time.Now()
	_, err := e.Request(context.Background(), escalation.Request{
		AccountID: "a@example.com",
		Reason:    notify.ReasonLogin,
		Deadline:  time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, apperrors.ErrNotificationFailed)
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, e.PendingCount())
}

func TestResolve_Twice(t *testing.T) {
	gw := newFakeGateway()
	e := escalation.New(gw, "http://claimer.local")

	done := make(chan escalation.Payload, 1)
	go func() {
		p, err := e.Request(context.Background(), escalation.Request{
			AccountID: "a@example.com",
			Reason:    notify.ReasonPurchase,
			Deadline:  time.Now().Add(5 * time.Second),
		})
		require.NoError(t, err)
		done <- p
	}()

	token := tokenFromURL(t, (<-gw.delivered).url)
	require.NoError(t, e.Resolve(token, escalation.Payload{Body: []byte("first")}))
	require.ErrorIs(t, e.Resolve(token, escalation.Payload{Body: []byte("second")}), apperrors.ErrEscalationNotFound)

	p := <-done
	require.Equal(t, []byte("first"), p.Body)
}

func TestRequest_TokenCollisionRetries(t *testing.T) {
	gw := newFakeGateway()
	tokens := []string{"dup", "dup", "fresh"}
	var mu sync.Mutex
	gen := func() string {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[0]
		if len(tokens) > 1 {
			tokens = tokens[1:]
		}
		return tok
	}
	e := escalation.New(gw, "http://claimer.local", escalation.WithTokenGenerator(gen))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_, _ = e.Request(ctx, escalation.Request{AccountID: "a", Reason: notify.ReasonTest, Deadline: time.Now().Add(time.Minute)})
	}()
	first := <-gw.delivered
	require.Equal(t, "http://claimer.local/r/dup", first.url)

	go func() {
		_, _ = e.Request(ctx, escalation.Request{AccountID: "b", Reason: notify.ReasonTest, Deadline: time.Now().Add(time.Minute)})
	}()
	second := <-gw.delivered
	require.Equal(t, "http://claimer.local/r/fresh", second.url)
	require.Equal(t, 2, e.PendingCount())

	cancel()
	require.Eventually(t, func() bool { return e.PendingCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRequest_ResolvedByWatcher(t *testing.T) {
	gw := newFakeGateway()
	e := escalation.New(gw, "http://claimer.local")

	watchCalls := 0
	p, err := e.Request(context.Background(), escalation.Request{
		AccountID: "a@example.com",
		Reason:    notify.ReasonLogin,
		Deadline:  time.Now().Add(5 * time.Second),
		Target:    "https://www.epicgames.com/activate?userCode=ABCD",
		Watch: func(ctx context.Context) (escalation.Payload, error) {
			watchCalls++
			return escalation.Payload{Body: []byte(`{"access_token":"x"}`)}, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, escalation.SourceWatcher, p.Source)
	require.Equal(t, 1, watchCalls)
}

func TestRequest_WatcherStoppedOnTimeout(t *testing.T) {
	gw := newFakeGateway()
	e := escalation.New(gw, "http://claimer.local")

	stopped := make(chan struct{})
	_, err := e.Request(context.Background(), escalation.Request{
		AccountID: "a@example.com",
		Reason:    notify.ReasonLogin,
		Deadline:  time.Now().Add(30 * time.Millisecond),
		Watch: func(ctx context.Context) (escalation.Payload, error) {
			<-ctx.Done()
			close(stopped)
			return escalation.Payload{}, ctx.Err()
		},
	})
	require.ErrorIs(t, err, apperrors.ErrEscalationTimeout)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("watcher was not cancelled")
	}
}

func TestVisit(t *testing.T) {
	gw := newFakeGateway()
	e := escalation.New(gw, "http://claimer.local")

	results := make(chan error, 2)
	go func() {
		_, err := e.Request(context.Background(), escalation.Request{
			AccountID: "a", Reason: notify.ReasonLogin, Target: "https://target/activate",
			Deadline: time.Now().Add(200 * time.Millisecond),
		})
		results <- err
	}()
	loginToken := tokenFromURL(t, (<-gw.delivered).url)

	target, err := e.Visit(loginToken)
	require.NoError(t, err)
	require.Equal(t, "https://target/activate", target)
	require.Equal(t, 1, e.PendingCount(), "a redirect target alone does not resolve")

	go func() {
		_, err := e.Request(context.Background(), escalation.Request{
			AccountID: "b", Reason: notify.ReasonTest, Deadline: time.Now().Add(5 * time.Second),
		})
		results <- err
	}()
	testToken := tokenFromURL(t, (<-gw.delivered).url)
	target, err = e.Visit(testToken)
	require.NoError(t, err)
	require.Empty(t, target)

	var errs []error
	for i := 0; i < 2; i++ {
		errs = append(errs, <-results)
	}
	timeouts := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, apperrors.ErrEscalationTimeout)
			timeouts++
		}
	}
	require.Equal(t, 1, timeouts, fmt.Sprint(errs))

	_, err = e.Visit("unknown")
	require.ErrorIs(t, err, apperrors.ErrEscalationNotFound)
}
