package flow

import (
	"github.com/shopspring/decimal"

	"DefiFlow/internal/trigger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// payrollGraph builds trigger -> swap -> resolver -> distribute.
func payrollGraph(output string, amounts ...string) Graph {
	recipients := make([]Recipient, 0, len(amounts))
	names := []string{"alice.eth", "bob.eth", "carol.eth", "dave.eth"}
	for i, a := range amounts {
		recipients = append(recipients, NewRecipient(names[i%len(names)], dec(a)))
	}
	return Graph{
		Nodes: []Node{
			{ID: "t", Attributes: TriggerAttributes{Operator: trigger.GT, Threshold: dec("3000")}},
			{ID: "s", Attributes: SwapAttributes{InputAmount: "1", OutputAmountEstimate: output}},
			{ID: "r", Attributes: ResolverAttributes{Recipients: recipients}},
			{ID: "d", Attributes: DistributeAttributes{Memo: "Feb 2026 Salary"}},
		},
		Edges: []Edge{
			{ID: "t-s", Source: "t", Target: "s"},
			{ID: "s-r", Source: "s", Target: "r"},
			{ID: "r-d", Source: "r", Target: "d"},
		},
	}
}
