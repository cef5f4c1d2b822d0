// Package intent turns free-form chat text into one of a closed set of
// actions the assistant knows how to carry out.
package intent

import (
	"context"
	"strings"
)

// Intent is one of Transfer, BalanceQuery or Unknown.
type Intent interface {
	intent()
}

// Transfer asks to send Amount (a human decimal string) to Recipient.
// Recipient is passed through verbatim; validating it is the caller's job.
type Transfer struct {
	Recipient string
	Amount    string
}

// BalanceQuery asks for the sender's aggregate balance.
type BalanceQuery struct{}

// Unknown is anything else, including payment requests, which carry no
// on-chain action.
type Unknown struct {
	Action string
}

func (Transfer) intent()     {}
func (BalanceQuery) intent() {}
func (Unknown) intent()      {}

// Classifier maps message text to an Intent.
type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// Action names used by the language-model prompt.
const (
	ActionSendMoney      = "send_money"
	ActionRequestPayment = "request_payment"
	ActionGetBalance     = "get_balance"
)

// FromAction maps a classifier action and its parameters to an Intent. A
// send_money action without recipient or amount degrades to Unknown.
func FromAction(action, to, amount string) Intent {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionSendMoney:
		to, amount = strings.TrimSpace(to), strings.TrimSpace(amount)
		if to == "" || amount == "" {
			return Unknown{Action: ActionSendMoney}
		}
		return Transfer{Recipient: to, Amount: amount}
	case ActionGetBalance, "balance":
		return BalanceQuery{}
	default:
		return Unknown{Action: action}
	}
}
