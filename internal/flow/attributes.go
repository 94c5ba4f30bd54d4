package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"DefiFlow/internal/trigger"
)

// Attributes is the kind-specific payload of a node. The set of
// implementations is closed; switch on the concrete type.
type Attributes interface {
	Kind() Kind
	clone() Attributes
}

// TriggerAttributes gate the run on a price condition.
type TriggerAttributes struct {
	Operator  trigger.Operator `json:"operator"`
	Threshold decimal.Decimal  `json:"threshold"`
}

// SwapAttributes configure the exchange. InputAmount is what is sold;
// OutputAmountEstimate is the amount the swap is expected to produce and is
// what the recipients must add up to. InputEstimated marks an input that was
// reverse-quoted from a fallback estimate.
type SwapAttributes struct {
	InputAmount          string `json:"inputAmount"`
	OutputAmountEstimate string `json:"outputAmountEstimate,omitempty"`
	InputEstimated       bool   `json:"inputEstimated,omitempty"`
}

// ResolverAttributes list the payees in payout order.
type ResolverAttributes struct {
	Recipients []Recipient `json:"recipients"`
}

// DistributeAttributes configure the settlement call. Recipient is only set
// in single-recipient mode, where no resolver node feeds the distribution.
type DistributeAttributes struct {
	Memo      string     `json:"memo"`
	Recipient *Recipient `json:"recipient,omitempty"`
}

func (TriggerAttributes) Kind() Kind    { return KindTrigger }
func (SwapAttributes) Kind() Kind       { return KindSwap }
func (ResolverAttributes) Kind() Kind   { return KindResolver }
func (DistributeAttributes) Kind() Kind { return KindDistribute }

func (a TriggerAttributes) clone() Attributes { return a }
func (a SwapAttributes) clone() Attributes    { return a }
func (a ResolverAttributes) clone() Attributes {
	a.Recipients = append([]Recipient(nil), a.Recipients...)
	return a
}
func (a DistributeAttributes) clone() Attributes {
	if a.Recipient != nil {
		r := *a.Recipient
		a.Recipient = &r
	}
	return a
}

// Input parses InputAmount. An empty input yields zero and ok=false.
func (a SwapAttributes) Input() (decimal.Decimal, bool) {
	return parseAmount(a.InputAmount)
}

// Output parses OutputAmountEstimate. An empty value yields ok=false.
func (a SwapAttributes) Output() (decimal.Decimal, bool) {
	return parseAmount(a.OutputAmountEstimate)
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Total sums the recipient amounts.
func (a ResolverAttributes) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range a.Recipients {
		sum = sum.Add(r.Amount())
	}
	return sum
}

func decodeAttributes(kind Kind, data json.RawMessage) (Attributes, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("{}")
	}
	switch kind {
	case KindTrigger:
		var a TriggerAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindSwap:
		var a SwapAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindResolver:
		var a ResolverAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindDistribute:
		var a DistributeAttributes
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
}
