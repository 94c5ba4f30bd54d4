package flow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
)

// Rule names a validation rule. Rules run in the order declared here and the
// first failure stops validation.
type Rule string

const (
	RuleStructure         Rule = "structure"
	RuleSwapAndDistribute Rule = "swap-and-distribute"
	RuleRecipientSource   Rule = "recipient-source"
	RuleResolverInbound   Rule = "resolver-inbound"
	RuleDistributeInbound Rule = "distribute-inbound"
	RulePositiveAmount    Rule = "positive-amount"
	RuleAmountSum         Rule = "amount-sum"
	RuleTriggerDefinition Rule = "trigger-definition"
)

// ValidationError reports the failing rule and the offending nodes.
type ValidationError struct {
	Rule    Rule
	NodeIDs []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.NodeIDs) == 0 {
		return fmt.Sprintf("graph invalid (%s): %s", e.Rule, e.Reason)
	}
	return fmt.Sprintf("graph invalid (%s) at %s: %s", e.Rule, strings.Join(e.NodeIDs, ","), e.Reason)
}

// Unwrap exposes the coded error so callers can match on
// apperrors.CodeValidation.
func (e *ValidationError) Unwrap() error {
	return apperrors.New(apperrors.CodeValidation, e.Error(),
		apperrors.WithMetadata("rule", string(e.Rule)),
		apperrors.WithMetadata("nodes", strings.Join(e.NodeIDs, ",")))
}

func invalid(rule Rule, reason string, ids ...string) *ValidationError {
	return &ValidationError{Rule: rule, NodeIDs: ids, Reason: reason}
}

type validateOptions struct {
	tolerance decimal.Decimal
}

// ValidateOption tunes validation.
type ValidateOption func(*validateOptions)

// WithAmountTolerance sets the allowed gap between a swap's configured
// output and the sum of the recipients it funds. Negative values count as zero.
func WithAmountTolerance(tol decimal.Decimal) ValidateOption {
	return func(o *validateOptions) {
		if tol.IsNegative() {
			tol = decimal.Zero
		}
		o.tolerance = tol
	}
}

// Validate checks that g is well formed and executable. It never mutates g
// and returns a *ValidationError on the first failing rule.
func Validate(g Graph, opts ...ValidateOption) error {
	o := validateOptions{tolerance: decimal.Zero}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	checks := []func(Graph) *ValidationError{
		checkStructure,
		checkSwapAndDistribute,
		checkRecipientSource,
		checkResolverInbound,
		checkDistributeInbound,
		checkPositiveAmounts,
		func(g Graph) *ValidationError { return checkAmountSum(g, o.tolerance) },
		checkTriggers,
	}
	for _, check := range checks {
		if err := check(g); err != nil {
			return err
		}
	}
	return nil
}

func checkStructure(g Graph) *ValidationError {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return invalid(RuleStructure, "node id is empty")
		}
		if _, dup := seen[n.ID]; dup {
			return invalid(RuleStructure, "duplicate node id", n.ID)
		}
		seen[n.ID] = struct{}{}
		switch n.Attributes.(type) {
		case TriggerAttributes, SwapAttributes, ResolverAttributes, DistributeAttributes:
		case nil:
			return invalid(RuleStructure, "node has no recognised kind", n.ID)
		default:
			return invalid(RuleStructure, fmt.Sprintf("node attributes have unsupported type %T", n.Attributes), n.ID)
		}
	}
	pairs := make(map[[2]string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if _, ok := seen[e.Source]; !ok {
			return invalid(RuleStructure, fmt.Sprintf("edge %s references unknown source", e.ID), e.Source)
		}
		if _, ok := seen[e.Target]; !ok {
			return invalid(RuleStructure, fmt.Sprintf("edge %s references unknown target", e.ID), e.Target)
		}
		if e.Source == e.Target {
			return invalid(RuleStructure, fmt.Sprintf("edge %s is a self-loop", e.ID), e.Source)
		}
		key := [2]string{e.Source, e.Target}
		if _, dup := pairs[key]; dup {
			return invalid(RuleStructure, fmt.Sprintf("edge %s duplicates an existing connection", e.ID), e.Source, e.Target)
		}
		pairs[key] = struct{}{}
	}
	return nil
}

func checkSwapAndDistribute(g Graph) *ValidationError {
	if len(g.NodesOf(KindSwap)) == 0 {
		return invalid(RuleSwapAndDistribute, "graph needs a swap node")
	}
	if len(g.NodesOf(KindDistribute)) == 0 {
		return invalid(RuleSwapAndDistribute, "graph needs a distribute node")
	}
	return nil
}

func checkRecipientSource(g Graph) *ValidationError {
	if len(g.NodesOf(KindResolver)) > 0 {
		return nil
	}
	for _, n := range g.NodesOf(KindDistribute) {
		if legacyRecipient(n) != nil {
			return nil
		}
	}
	return invalid(RuleRecipientSource, "no resolver node and no distribute node with a direct recipient")
}

func checkResolverInbound(g Graph) *ValidationError {
	for _, n := range g.NodesOf(KindResolver) {
		if got := len(g.Sources(n.ID, KindSwap)); got != 1 {
			return invalid(RuleResolverInbound, fmt.Sprintf("resolver needs exactly one inbound edge from a swap, has %d", got), n.ID)
		}
	}
	return nil
}

func checkDistributeInbound(g Graph) *ValidationError {
	for _, n := range g.NodesOf(KindDistribute) {
		feeders := len(g.Sources(n.ID, KindResolver))
		switch {
		case feeders == 1:
		case feeders == 0 && legacyRecipient(n) != nil:
		case feeders == 0:
			return invalid(RuleDistributeInbound, "distribute has no resolver feeding it and no direct recipient", n.ID)
		default:
			return invalid(RuleDistributeInbound, fmt.Sprintf("distribute needs exactly one inbound edge from a resolver, has %d", feeders), n.ID)
		}
	}
	return nil
}

func checkPositiveAmounts(g Graph) *ValidationError {
	for _, n := range g.Nodes {
		switch attrs := n.Attributes.(type) {
		case ResolverAttributes:
			for i, r := range attrs.Recipients {
				if !r.Amount().IsPositive() {
					return invalid(RulePositiveAmount, fmt.Sprintf("recipient %d (%s) has non-positive amount %s", i, r.Input(), r.Amount()), n.ID)
				}
			}
		case DistributeAttributes:
			if attrs.Recipient != nil && !attrs.Recipient.Amount().IsPositive() {
				return invalid(RulePositiveAmount, fmt.Sprintf("direct recipient has non-positive amount %s", attrs.Recipient.Amount()), n.ID)
			}
		case TriggerAttributes, SwapAttributes:
		}
	}
	return nil
}

func checkAmountSum(g Graph, tolerance decimal.Decimal) *ValidationError {
	for _, swap := range g.NodesOf(KindSwap) {
		attrs := swap.Attributes.(SwapAttributes)
		if strings.TrimSpace(attrs.OutputAmountEstimate) == "" {
			continue
		}
		output, ok := attrs.Output()
		if !ok {
			return invalid(RuleAmountSum, fmt.Sprintf("output amount %q is not a decimal", attrs.OutputAmountEstimate), swap.ID)
		}
		resolvers := g.Targets(swap.ID, KindResolver)
		if len(resolvers) == 0 {
			continue
		}
		sum := decimal.Zero
		ids := []string{swap.ID}
		for _, r := range resolvers {
			sum = sum.Add(r.Attributes.(ResolverAttributes).Total())
			ids = append(ids, r.ID)
		}
		if sum.Sub(output).Abs().GreaterThan(tolerance) {
			return invalid(RuleAmountSum, fmt.Sprintf("recipients sum to %s but swap produces %s", sum, output), ids...)
		}
	}
	return nil
}

func checkTriggers(g Graph) *ValidationError {
	for _, n := range g.NodesOf(KindTrigger) {
		attrs := n.Attributes.(TriggerAttributes)
		if !attrs.Operator.Valid() {
			return invalid(RuleTriggerDefinition, fmt.Sprintf("unknown operator %q", attrs.Operator), n.ID)
		}
	}
	return nil
}

func legacyRecipient(n Node) *Recipient {
	attrs, ok := n.Attributes.(DistributeAttributes)
	if !ok {
		return nil
	}
	return attrs.Recipient
}
