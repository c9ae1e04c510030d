package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
)

// EULA ids that must be accepted before the store allows purchases.
var eulaIDs = []string{"epicgames_privacy_policy_no_table", "egstore"}

type graphQLError struct {
	Message         string `json:"message"`
	ServiceResponse string `json:"serviceResponse"`
}

func (e graphQLError) authFailure() bool {
	text := strings.ToLower(e.Message + " " + e.ServiceResponse)
	return strings.Contains(text, "authentication_failed") ||
		strings.Contains(text, "authentication failed") ||
		strings.Contains(text, "unauthorized") ||
		strings.Contains(text, "token_verification_failed")
}

// graphQL posts one query with the session's cookies and bearer token. Errors that
// mention failed authentication are reported as ErrAuthenticationRejected.
func (c *Client) graphQL(ctx context.Context, sess Session, op, query string, vars map[string]interface{}, out interface{}) error {
	ex, err := c.newExchange(sess.Cookies(), sess.AccessToken())
	if err != nil {
		return fmt.Errorf("%s %w", op, err)
	}
	payload, err := json.Marshal(map[string]interface{}{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("%s %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.GraphQL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := ex.doJSON(req, op, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		for _, e := range resp.Errors {
			if e.authFailure() {
				return fmt.Errorf("%s %w: %s", op, apperrors.ErrAuthenticationRejected, e.Message)
			}
		}
		if len(resp.Data) == 0 || string(resp.Data) == "null" {
			return fmt.Errorf("%s graphql: %s", op, resp.Errors[0].Message)
		}
		c.logger.Debug().Str("op", op).Str("error", resp.Errors[0].Message).Msg("partial graphql response")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s decode: %w", op, err)
	}
	return nil
}

const entitlementQuery = `query launcherQuery($namespace: String!, $offerId: String!) {
  Launcher {
    entitledOfferItems(namespace: $namespace, offerId: $offerId) {
      namespace offerId entitledToAllItemsInOffer entitledToAnyItemInOffer
    }
  }
}`

// Entitlement reports whether the account already owns everything in the offer.
func (c *Client) Entitlement(ctx context.Context, sess Session, namespace, offerID string) (bool, error) {
	var data struct {
		Launcher struct {
			EntitledOfferItems *struct {
				EntitledToAllItemsInOffer bool `json:"entitledToAllItemsInOffer"`
			} `json:"entitledOfferItems"`
		} `json:"Launcher"`
	}
	err := c.graphQL(ctx, sess, "[Client.Entitlement]", entitlementQuery, map[string]interface{}{
		"namespace": namespace,
		"offerId":   offerID,
	}, &data)
	if err != nil {
		return false, err
	}
	items := data.Launcher.EntitledOfferItems
	return items != nil && items.EntitledToAllItemsInOffer, nil
}

const prerequisitesQuery = `query hasPrerequisitesQuery($offerParams: [OfferParams]) {
  Launcher {
    hasOfferPrerequisites(offerParams: $offerParams) {
      namespace offerId missingPrerequisiteItems satisfiesPrerequisites
    }
  }
}`

// Prerequisites returns the items the account is missing before it may buy the offer.
func (c *Client) Prerequisites(ctx context.Context, sess Session, namespace, offerID string) ([]string, error) {
	var data struct {
		Launcher struct {
			HasOfferPrerequisites []struct {
				OfferID                  string   `json:"offerId"`
				MissingPrerequisiteItems []string `json:"missingPrerequisiteItems"`
				SatisfiesPrerequisites   bool     `json:"satisfiesPrerequisites"`
			} `json:"hasOfferPrerequisites"`
		} `json:"Launcher"`
	}
	err := c.graphQL(ctx, sess, "[Client.Prerequisites]", prerequisitesQuery, map[string]interface{}{
		"offerParams": []map[string]string{{"namespace": namespace, "offerId": offerID}},
	}, &data)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, p := range data.Launcher.HasOfferPrerequisites {
		if p.SatisfiesPrerequisites {
			continue
		}
		if len(p.MissingPrerequisiteItems) == 0 {
			missing = append(missing, p.OfferID)
			continue
		}
		missing = append(missing, p.MissingPrerequisiteItems...)
	}
	return missing, nil
}

const eulaQuery = `query eulaQuery($eulaId: String!, $locale: String, $accountId: String!) {
  Eula {
    hasAccountAccepted(id: $eulaId, locale: $locale, accountId: $accountId) {
      accepted key locale version
    }
  }
}`

// EulaAccepted reports whether the account accepted every required agreement.
func (c *Client) EulaAccepted(ctx context.Context, sess Session) (bool, error) {
	if sess.AccountID() == "" {
		return false, fmt.Errorf("[Client.EulaAccepted] %w: account id unknown", apperrors.ErrUnsupported)
	}
	for _, id := range eulaIDs {
		var data struct {
			Eula struct {
				HasAccountAccepted *struct {
					Accepted bool `json:"accepted"`
				} `json:"hasAccountAccepted"`
			} `json:"Eula"`
		}
		err := c.graphQL(ctx, sess, "[Client.EulaAccepted] "+id, eulaQuery, map[string]interface{}{
			"eulaId":    id,
			"locale":    c.locale,
			"accountId": sess.AccountID(),
		}, &data)
		if err != nil {
			return false, err
		}
		if data.Eula.HasAccountAccepted == nil || !data.Eula.HasAccountAccepted.Accepted {
			return false, nil
		}
	}
	return true, nil
}
