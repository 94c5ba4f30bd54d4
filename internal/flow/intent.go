package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/trigger"
)

// Intent is the document returned by the external intent parser.
type Intent struct {
	Thought string `json:"thought"`
	Trigger *struct {
		Token     string          `json:"token"`
		Operator  string          `json:"operator"`
		Threshold decimal.Decimal `json:"threshold"`
	} `json:"trigger"`
	Action *struct {
		Type       string          `json:"type"`
		FromToken  string          `json:"fromToken"`
		ToToken    string          `json:"toToken"`
		AmountType string          `json:"amountType"`
		Amount     decimal.Decimal `json:"amount"`
	} `json:"action"`
	Transfer *struct {
		Recipient string `json:"recipient"`
	} `json:"transfer,omitempty"`
}

// IntentOptions fill in what the parser does not produce.
type IntentOptions struct {
	Memo string
	// TransferAmount is paid to the direct recipient. Zero means the swap
	// amount itself.
	TransferAmount decimal.Decimal
}

// DefaultMemo is used when the caller supplies none.
const DefaultMemo = "Feb 2026 Salary"

// DecodeIntent turns an intent-parser document into a graph in
// single-recipient mode: trigger -> swap (-> distribute). The result is not
// validated; a missing transfer leaves the graph without a distribute node.
func DecodeIntent(data []byte, opts IntentOptions) (Graph, error) {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Graph{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "intent document is not valid JSON")
	}
	return in.Graph(opts)
}

// Graph converts the intent.
func (in Intent) Graph(opts IntentOptions) (Graph, error) {
	if in.Trigger == nil || in.Action == nil {
		return Graph{}, apperrors.New(apperrors.CodeInvalidArgument, "intent needs both a trigger and an action")
	}
	op, err := trigger.ParseOperator(in.Trigger.Operator)
	if err != nil {
		return Graph{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "intent trigger is invalid")
	}
	if t := strings.ToLower(in.Action.Type); t != "" && t != "swap" {
		return Graph{}, apperrors.Newf(apperrors.CodeInvalidArgument, "intent action %q is not supported", in.Action.Type)
	}
	switch strings.ToLower(in.Action.AmountType) {
	case "", "absolute":
	default:
		return Graph{}, apperrors.Newf(apperrors.CodeInvalidArgument, "intent amount type %q is not supported", in.Action.AmountType)
	}

	g := Graph{
		Nodes: []Node{
			{
				ID:         "trigger-1",
				Position:   json.RawMessage(`{"x":100,"y":100}`),
				Attributes: TriggerAttributes{Operator: op, Threshold: in.Trigger.Threshold},
			},
			{
				ID:         "swap-1",
				Position:   json.RawMessage(`{"x":100,"y":350}`),
				Attributes: SwapAttributes{InputAmount: in.Action.Amount.String()},
			},
		},
		Edges: []Edge{{ID: "trigger-1-swap-1", Source: "trigger-1", Target: "swap-1"}},
	}
	if in.Transfer == nil || strings.TrimSpace(in.Transfer.Recipient) == "" {
		return g, nil
	}

	amount := opts.TransferAmount
	if amount.IsZero() {
		amount = in.Action.Amount
	}
	memo := opts.Memo
	if memo == "" {
		memo = DefaultMemo
	}
	r := NewRecipient(in.Transfer.Recipient, amount)
	g.Nodes = append(g.Nodes, Node{
		ID:         "distribute-1",
		Position:   json.RawMessage(`{"x":100,"y":600}`),
		Attributes: DistributeAttributes{Memo: memo, Recipient: &r},
	})
	g.Edges = append(g.Edges, Edge{ID: "swap-1-distribute-1", Source: "swap-1", Target: "distribute-1"})
	return g, nil
}

func (in Intent) String() string {
	if in.Trigger == nil || in.Action == nil {
		return "incomplete intent"
	}
	return fmt.Sprintf("when %s %s %s swap %s %s to %s",
		in.Trigger.Token, in.Trigger.Operator, in.Trigger.Threshold, in.Action.Amount, in.Action.FromToken, in.Action.ToToken)
}
