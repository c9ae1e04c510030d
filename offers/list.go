package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/jrsteele09/go-store-claimer/storefront"
)

var errNoReauth = errors.New("session cannot be renewed")

// withSession runs fn and, when the store rejects the session, renews it once and runs
// fn a second time.
func (r *AccountRun) withSession(ctx context.Context, fn func(storefront.Session) error) error {
	sess := r.Session()
	err := fn(sess)
	if !apperrors.IsAuthRejected(err) {
		return err
	}
	r.log.Info().Err(err).Msg("session expired during request")
	fresh, rerr := r.renew(ctx, sess)
	if rerr != nil {
		return fmt.Errorf("%w (renew failed: %v)", err, rerr)
	}
	return fn(fresh)
}

// ListFreeOffers returns the offers that are free right now, one per product, keeping
// the first occurrence.
func (r *AccountRun) ListFreeOffers(ctx context.Context) ([]OfferCandidate, error) {
	var found []storefront.CatalogOffer
	err := r.withSession(ctx, func(sess storefront.Session) error {
		var err error
		found, err = r.a.catalog.FreeOffers(ctx, sess, r.a.strategy)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("[AccountRun.ListFreeOffers] %w", err)
	}
	out := FreeCandidates(found, r.a.nowFunc())
	r.log.Info().Int("listed", len(found)).Int("free", len(out)).Msg("free offers")
	return out, nil
}

// FreeCandidates keeps offers whose price is fully discounted inside an active promotion
// and collapses duplicates. Two entries are the same product when they share a slug or
// the same namespace and offer id.
func FreeCandidates(found []storefront.CatalogOffer, now time.Time) []OfferCandidate {
	seenSlug := make(map[string]bool)
	seenOffer := make(map[string]bool)
	var out []OfferCandidate
	for _, o := range found {
		window, ok := activeFreeWindow(o, now)
		if !ok {
			continue
		}
		offerKey := o.Namespace + "/" + o.OfferID
		if seenOffer[offerKey] || (o.Slug != "" && seenSlug[o.Slug]) {
			continue
		}
		seenOffer[offerKey] = true
		if o.Slug != "" {
			seenSlug[o.Slug] = true
		}
		out = append(out, OfferCandidate{
			Namespace: o.Namespace,
			OfferID:   o.OfferID,
			Title:     o.Title,
			Slug:      o.Slug,
			Window:    window,
		})
	}
	return out
}

// activeFreeWindow finds a promotion containing now that leaves nothing to pay.
// A discount percentage of 0 is the store's encoding of 100% off.
func activeFreeWindow(o storefront.CatalogOffer, now time.Time) (storefront.PromoWindow, bool) {
	if o.DiscountPrice != 0 {
		return storefront.PromoWindow{}, false
	}
	for _, w := range o.Promotions {
		if w.DiscountPercentage != 0 {
			continue
		}
		if !now.Before(w.Start) && now.Before(w.End) {
			return w, true
		}
	}
	return storefront.PromoWindow{}, false
}
