package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
	"DefiFlow/internal/trigger"
	"DefiFlow/internal/web3/contracts"
)

// plan is everything a run needs, fixed at Start.
type plan struct {
	runID      string
	condition  trigger.Condition
	swapID     string
	amountIn   decimal.Decimal
	amountOut  decimal.Decimal
	recipients []flow.Recipient
	memo       string

	amountInUnits  *big.Int
	bridgeUnits    *big.Int
	addresses      []common.Address
	payoutUnits    []*big.Int
	inputFromQuote bool
}

type payee struct {
	nodeID    string
	recipient flow.Recipient
}

// buildPlan picks the swap, its trigger and its payees, resolves every
// payee and fixes the input amount. The graph must already be valid.
func (e *Engine) buildPlan(ctx context.Context, g flow.Graph) (*plan, error) {
	swap, ok := pickSwap(g)
	if !ok {
		return nil, apperrors.New(apperrors.CodeValidation, "graph has no swap node")
	}
	cond, ok := pickTrigger(g, swap.ID)
	if !ok {
		return nil, apperrors.New(apperrors.CodeValidation, "graph has no trigger node",
			apperrors.WithMetadata("rule", "trigger"))
	}
	payees, memo := collectPayees(g, swap.ID)
	if len(payees) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "graph has no recipient to pay")
	}

	p := &plan{
		runID:     uuid.NewString(),
		condition: cond,
		swapID:    swap.ID,
		memo:      memo,
		amountOut: decimal.Zero,
	}
	for _, py := range payees {
		r, err := e.resolveRecipient(ctx, py)
		if err != nil {
			return nil, err
		}
		p.recipients = append(p.recipients, r)
		p.amountOut = p.amountOut.Add(r.Amount())
	}

	attrs := swap.Attributes.(flow.SwapAttributes)
	if err := e.fixInput(ctx, p, attrs); err != nil {
		return nil, err
	}
	if err := e.toUnits(p); err != nil {
		return nil, err
	}
	return p, nil
}

func pickSwap(g flow.Graph) (flow.Node, bool) {
	swaps := g.NodesOf(flow.KindSwap)
	for _, s := range swaps {
		if len(g.Targets(s.ID, flow.KindResolver)) > 0 {
			return s, true
		}
	}
	if len(swaps) == 0 {
		return flow.Node{}, false
	}
	return swaps[0], true
}

func pickTrigger(g flow.Graph, swapID string) (trigger.Condition, bool) {
	candidates := g.Sources(swapID, flow.KindTrigger)
	if len(candidates) == 0 {
		candidates = g.NodesOf(flow.KindTrigger)
	}
	if len(candidates) == 0 {
		return trigger.Condition{}, false
	}
	attrs := candidates[0].Attributes.(flow.TriggerAttributes)
	return trigger.Condition{Operator: attrs.Operator, Threshold: attrs.Threshold}, true
}

// collectPayees lists recipients in payout order: resolvers fed by the swap
// in graph order, or the direct recipient of a stand-alone distribute node.
func collectPayees(g flow.Graph, swapID string) ([]payee, string) {
	var (
		payees []payee
		memo   string
	)
	for _, res := range g.Targets(swapID, flow.KindResolver) {
		attrs := res.Attributes.(flow.ResolverAttributes)
		for _, r := range attrs.Recipients {
			payees = append(payees, payee{nodeID: res.ID, recipient: r})
		}
		if memo == "" {
			for _, d := range g.Targets(res.ID, flow.KindDistribute) {
				if m := d.Attributes.(flow.DistributeAttributes).Memo; m != "" {
					memo = m
					break
				}
			}
		}
	}
	if len(payees) == 0 {
		for _, d := range g.NodesOf(flow.KindDistribute) {
			attrs := d.Attributes.(flow.DistributeAttributes)
			if attrs.Recipient == nil {
				continue
			}
			payees = append(payees, payee{nodeID: d.ID, recipient: *attrs.Recipient})
			memo = attrs.Memo
			break
		}
	}
	if memo == "" {
		memo = flow.DefaultMemo
	}
	return payees, memo
}

func (e *Engine) resolveRecipient(ctx context.Context, py payee) (flow.Recipient, error) {
	r := py.recipient
	claimed, hasClaim := r.Address()

	var (
		addr common.Address
		err  error
	)
	switch {
	case e.resolver != nil:
		addr, err = e.resolver.Resolve(ctx, r.Input())
	case isHexLiteral(r.Input()):
		addr = common.HexToAddress(r.Input())
	default:
		return r, apperrors.New(apperrors.CodeResolution, fmt.Sprintf("recipient %q is not resolved", r.Input()),
			apperrors.WithMetadata("node", py.nodeID))
	}
	if err != nil {
		return r, apperrors.Wrap(apperrors.CodeResolution, err, fmt.Sprintf("recipient %q could not be resolved", r.Input()),
			apperrors.WithMetadata("node", py.nodeID))
	}
	if hasClaim && claimed != addr {
		return r, apperrors.New(apperrors.CodeResolution,
			fmt.Sprintf("recipient %q resolves to %s, not %s", r.Input(), addr.Hex(), claimed.Hex()),
			apperrors.WithMetadata("node", py.nodeID))
	}
	resolved, _ := r.Resolved(r.Input(), addr)
	return resolved, nil
}

func isHexLiteral(raw string) bool {
	return len(raw) == 42 && strings.HasPrefix(raw, "0x") && common.IsHexAddress(raw)
}

// fixInput uses the configured input unless it is missing or was derived
// from an estimate; then it asks for a live quote and refuses estimates.
func (e *Engine) fixInput(ctx context.Context, p *plan, attrs flow.SwapAttributes) error {
	if in, ok := attrs.Input(); ok && in.IsPositive() && !attrs.InputEstimated {
		p.amountIn = in
		return nil
	}
	if e.quoter == nil {
		return apperrors.New(apperrors.CodeQuoteUnavailable, "swap input is not set and no quote source is configured",
			apperrors.WithMetadata("node", p.swapID))
	}
	desired := p.amountOut
	if out, ok := attrs.Output(); ok && out.IsPositive() {
		desired = out
	}
	q, err := e.quoter.QuoteRequiredInput(ctx, desired)
	if err != nil {
		return err
	}
	if err := q.Executable(); err != nil {
		return err
	}
	p.amountIn = q.RequiredInput
	p.inputFromQuote = true
	return nil
}

func (e *Engine) toUnits(p *plan) error {
	var err error
	if p.amountInUnits, err = contracts.ToBaseUnits(p.amountIn, e.cfg.Pair.TokenInDecimals); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err, "swap input amount", apperrors.WithMetadata("node", p.swapID))
	}
	if p.bridgeUnits, err = contracts.ToBaseUnits(p.amountOut, e.cfg.Pair.TokenOutDecimals); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err, "bridge amount")
	}
	for _, r := range p.recipients {
		addr, _ := r.Address()
		units, err := contracts.ToBaseUnits(r.Amount(), e.cfg.SettlementDecimals)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidArgument, err, fmt.Sprintf("amount for %s", r.Input()))
		}
		p.addresses = append(p.addresses, addr)
		p.payoutUnits = append(p.payoutUnits, units)
	}
	return nil
}
