package storefront

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

const searchPageSize = 40

// PromoWindow is one promotional period and its discount.
type PromoWindow struct {
	Start              time.Time
	End                time.Time
	DiscountPercentage int
}

// CatalogOffer is one catalog element as the store reports it.
type CatalogOffer struct {
	Namespace     string
	OfferID       string
	Title         string
	Slug          string
	OriginalPrice int
	DiscountPrice int
	Promotions    []PromoWindow
}

type catalogElement struct {
	Title       string `json:"title"`
	ID          string `json:"id"`
	Namespace   string `json:"namespace"`
	ProductSlug string `json:"productSlug"`
	URLSlug     string `json:"urlSlug"`
	CatalogNs   struct {
		Mappings []pageMapping `json:"mappings"`
	} `json:"catalogNs"`
	OfferMappings []pageMapping `json:"offerMappings"`
	Price         struct {
		TotalPrice struct {
			DiscountPrice int `json:"discountPrice"`
			OriginalPrice int `json:"originalPrice"`
		} `json:"totalPrice"`
	} `json:"price"`
	Promotions *struct {
		PromotionalOffers []struct {
			PromotionalOffers []struct {
				StartDate       time.Time `json:"startDate"`
				EndDate         time.Time `json:"endDate"`
				DiscountSetting struct {
					DiscountType       string `json:"discountType"`
					DiscountPercentage int    `json:"discountPercentage"`
				} `json:"discountSetting"`
			} `json:"promotionalOffers"`
		} `json:"promotionalOffers"`
	} `json:"promotions"`
}

type pageMapping struct {
	PageSlug string `json:"pageSlug"`
	PageType string `json:"pageType"`
}

type searchStore struct {
	Elements []catalogElement `json:"elements"`
	Paging   struct {
		Count int `json:"count"`
		Total int `json:"total"`
	} `json:"paging"`
}

// slug picks the product page slug, preferring the home mapping.
func (e catalogElement) slug() string {
	for _, mappings := range [][]pageMapping{e.CatalogNs.Mappings, e.OfferMappings} {
		for _, m := range mappings {
			if m.PageType == "productHome" && m.PageSlug != "" {
				return m.PageSlug
			}
		}
	}
	switch {
	case e.ProductSlug != "" && e.ProductSlug != "[]":
		return e.ProductSlug
	case e.URLSlug != "":
		return e.URLSlug
	}
	return ""
}

func (e catalogElement) offer() CatalogOffer {
	o := CatalogOffer{
		Namespace:     e.Namespace,
		OfferID:       e.ID,
		Title:         e.Title,
		Slug:          e.slug(),
		OriginalPrice: e.Price.TotalPrice.OriginalPrice,
		DiscountPrice: e.Price.TotalPrice.DiscountPrice,
	}
	if e.Promotions != nil {
		for _, group := range e.Promotions.PromotionalOffers {
			for _, p := range group.PromotionalOffers {
				o.Promotions = append(o.Promotions, PromoWindow{
					Start:              p.StartDate,
					End:                p.EndDate,
					DiscountPercentage: p.DiscountSetting.DiscountPercentage,
				})
			}
		}
	}
	return o
}

// WeeklyFreeOffers reads the free-games promotion feed. It needs no session.
func (c *Client) WeeklyFreeOffers(ctx context.Context) ([]CatalogOffer, error) {
	const op = "[Client.WeeklyFreeOffers]"
	ex, err := c.newExchange(nil, "")
	if err != nil {
		return nil, fmt.Errorf("%s %w", op, err)
	}
	q := url.Values{}
	q.Set("locale", c.locale)
	q.Set("country", c.country)
	q.Set("allowCountries", c.country)

	var body struct {
		Data struct {
			Catalog struct {
				SearchStore searchStore `json:"searchStore"`
			} `json:"Catalog"`
		} `json:"data"`
	}
	if err := ex.getJSON(ctx, op, c.endpoints.FreePromotions+"?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	return offersFrom(body.Data.Catalog.SearchStore.Elements), nil
}

const searchQuery = `query searchStoreQuery($category: String, $count: Int, $country: String!, $locale: String, $start: Int, $freeGame: Boolean, $onSale: Boolean, $sortBy: String, $sortDir: String) {
  Catalog {
    searchStore(category: $category, count: $count, country: $country, locale: $locale, start: $start, freeGame: $freeGame, onSale: $onSale, sortBy: $sortBy, sortDir: $sortDir) {
      elements {
        title id namespace productSlug urlSlug
        catalogNs { mappings(pageType: "productHome") { pageSlug pageType } }
        offerMappings { pageSlug pageType }
        price(country: $country) { totalPrice { discountPrice originalPrice } }
        promotions(category: $category) { promotionalOffers { promotionalOffers { startDate endDate discountSetting { discountType discountPercentage } } } }
      }
      paging { count total }
    }
  }
}`

// SearchPromotions walks the catalog search for discounted-to-free offers page by page.
func (c *Client) SearchPromotions(ctx context.Context, sess Session) ([]CatalogOffer, error) {
	const op = "[Client.SearchPromotions]"
	var out []CatalogOffer
	for start := 0; ; start += searchPageSize {
		var data struct {
			Catalog struct {
				SearchStore searchStore `json:"searchStore"`
			} `json:"Catalog"`
		}
		vars := map[string]interface{}{
			"category": "games/edition/base|bundles/games|editors|software/edition/base",
			"count":    searchPageSize,
			"country":  c.country,
			"locale":   c.locale,
			"start":    start,
			"freeGame": true,
			"onSale":   true,
			"sortBy":   "relevancy,viewableDate",
			"sortDir":  "DESC,DESC",
		}
		if err := c.graphQL(ctx, sess, op+" start="+strconv.Itoa(start), searchQuery, vars, &data); err != nil {
			return nil, err
		}
		page := data.Catalog.SearchStore
		out = append(out, offersFrom(page.Elements)...)
		if len(page.Elements) == 0 || start+len(page.Elements) >= page.Paging.Total {
			return out, nil
		}
	}
}

// FreeOffers runs the configured search strategy. "all" concatenates the weekly feed
// and the catalog search and only fails when both sources fail or the search rejects
// the session.
func (c *Client) FreeOffers(ctx context.Context, sess Session, strategy string) ([]CatalogOffer, error) {
	switch strategy {
	case config.SearchStrategyWeekly:
		return c.WeeklyFreeOffers(ctx)
	case config.SearchStrategyPromotion:
		return c.SearchPromotions(ctx, sess)
	case config.SearchStrategyAll, "":
		weekly, weeklyErr := c.WeeklyFreeOffers(ctx)
		if weeklyErr != nil {
			c.logger.Warn().Err(weeklyErr).Msg("weekly free offers unavailable")
		}
		search, searchErr := c.SearchPromotions(ctx, sess)
		if searchErr != nil {
			c.logger.Warn().Err(searchErr).Msg("catalog search unavailable")
		}
		if weeklyErr != nil && searchErr != nil {
			return nil, fmt.Errorf("[Client.FreeOffers] %w; %w", weeklyErr, searchErr)
		}
		// The caller renews the session and asks again rather than losing the search half.
		if apperrors.IsAuthRejected(searchErr) {
			return nil, fmt.Errorf("[Client.FreeOffers] %w", searchErr)
		}
		return append(weekly, search...), nil
	default:
		return nil, fmt.Errorf("[Client.FreeOffers] %w: search strategy %q", apperrors.ErrInvalidConfig, strategy)
	}
}

func offersFrom(elements []catalogElement) []CatalogOffer {
	out := make([]CatalogOffer, 0, len(elements))
	for _, e := range elements {
		out = append(out, e.offer())
	}
	return out
}
