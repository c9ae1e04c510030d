package notify

import (
	"context"
	"fmt"
	"strings"
)

// Reason says why a human is being contacted.
type Reason string

const (
	ReasonLogin         Reason = "LOGIN"
	ReasonPurchase      Reason = "PURCHASE"
	ReasonPurchaseError Reason = "PURCHASE_ERROR"
	ReasonTest          Reason = "TEST"
	ReasonPrivacyPolicy Reason = "PRIVACY_POLICY_ACCEPTANCE"
)

// Gateway delivers an action link for an account. A nil error means at least one
// human-facing channel accepted the message.
type Gateway interface {
	Deliver(ctx context.Context, accountID string, reason Reason, actionURL string) error
}

// Notifier is one configured delivery channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Message is what every channel renders.
type Message struct {
	Account string
	Reason  Reason
	URL     string
}

func (m Message) Title() string {
	switch m.Reason {
	case ReasonLogin:
		return "Login required"
	case ReasonPurchase:
		return "Captcha needs solving"
	case ReasonPurchaseError:
		return "Manual purchase needed"
	case ReasonTest:
		return "Test notification"
	case ReasonPrivacyPolicy:
		return "Privacy policy acceptance required"
	default:
		return string(m.Reason)
	}
}

func (m Message) Text() string {
	var b strings.Builder
	switch m.Reason {
	case ReasonLogin:
		fmt.Fprintf(&b, "The saved session for %s has expired. Open the link and approve the login.", m.Account)
	case ReasonPurchase:
		fmt.Fprintf(&b, "A captcha interrupted a claim for %s. Open the link and solve it.", m.Account)
	case ReasonPurchaseError:
		fmt.Fprintf(&b, "Claiming an offer failed for %s. Open the link and finish the purchase by hand.", m.Account)
	case ReasonTest:
		fmt.Fprintf(&b, "Notifications for %s are working.", m.Account)
	case ReasonPrivacyPolicy:
		fmt.Fprintf(&b, "%s has to accept the updated end user license agreement before claiming.", m.Account)
	default:
		fmt.Fprintf(&b, "Action needed for %s.", m.Account)
	}
	if m.URL != "" {
		b.WriteString("\n")
		b.WriteString(m.URL)
	}
	return b.String()
}
