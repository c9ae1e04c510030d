package offers

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"golang.org/x/sync/errgroup"
)

// FilterAcquirable drops candidates the account already owns or cannot buy yet. Checks
// run concurrently up to the configured fan-out. A candidate whose checks fail is
// dropped for this cycle; the error only comes back when ctx ends.
func (r *AccountRun) FilterAcquirable(ctx context.Context, candidates []OfferCandidate) ([]OfferCandidate, error) {
	keep := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.a.fanOut)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := r.checkCandidate(gctx, c)
			switch {
			case err == nil:
				keep[i] = true
				metricCandidates.WithLabelValues("acquirable").Inc()
			case apperrors.Is(err, apperrors.ErrAlreadyOwned):
				r.log.Debug().Str("offer", c.Key()).Msg("already owned")
				metricCandidates.WithLabelValues("owned").Inc()
			case apperrors.Is(err, apperrors.ErrPrerequisiteUnmet):
				r.log.Info().Str("offer", c.Key()).Err(err).Msg("prerequisites missing")
				metricCandidates.WithLabelValues("prerequisite").Inc()
			default:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.log.Warn().Str("offer", c.Key()).Err(err).Msg("offer check failed; skipping")
				metricCandidates.WithLabelValues("check_failed").Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("[AccountRun.FilterAcquirable] %w", err)
	}

	out := make([]OfferCandidate, 0, len(candidates))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

// checkCandidate runs the entitlement and prerequisite checks for one candidate. Each
// check gets one retry on a renewed session.
func (r *AccountRun) checkCandidate(ctx context.Context, c OfferCandidate) error {
	var owned bool
	err := r.withSession(ctx, func(sess storefront.Session) error {
		var err error
		owned, err = r.a.catalog.Entitlement(ctx, sess, c.Namespace, c.OfferID)
		return err
	})
	if err != nil {
		return fmt.Errorf("entitlement: %w", err)
	}
	if owned {
		return apperrors.ErrAlreadyOwned
	}

	var missing []string
	err = r.withSession(ctx, func(sess storefront.Session) error {
		var err error
		missing, err = r.a.catalog.Prerequisites(ctx, sess, c.Namespace, c.OfferID)
		return err
	})
	if err != nil {
		return fmt.Errorf("prerequisites: %w", err)
	}
	if len(missing) > 0 {
		return apperrors.Wrapf(apperrors.ErrPrerequisiteUnmet, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}
