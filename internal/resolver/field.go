package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DefiFlow/internal/debounce"
	"DefiFlow/internal/flow"
)

// DefaultDebounce is the quiet period after the last edit before a name is
// looked up.
const DefaultDebounce = 500 * time.Millisecond

// RecipientField is the live state of one recipient row while the user
// types. Literal addresses settle at once; names are debounced and a late
// answer for an older input is dropped.
type RecipientField struct {
	resolver *Resolver
	field    *debounce.Field[common.Address]
	onChange func(flow.Recipient)

	mu        sync.Mutex
	recipient flow.Recipient
	lastErr   error
}

// NewRecipientField tracks initial. onChange is called after each applied
// result, with the field locked; it must not call back into the field.
func NewRecipientField(ctx context.Context, r *Resolver, initial flow.Recipient, delay time.Duration, onChange func(flow.Recipient)) *RecipientField {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	rf := &RecipientField{resolver: r, recipient: initial, onChange: onChange}
	rf.field = debounce.New(ctx, delay, r.Resolve, rf.apply)
	return rf
}

// Edit replaces the raw input. The previous address is dropped before any
// lookup starts.
func (rf *RecipientField) Edit(input string) {
	rf.mu.Lock()
	rf.recipient = rf.recipient.WithInput(input)
	current := rf.recipient.Input()
	rf.lastErr = nil
	rf.mu.Unlock()

	if IsLiteral(current) || current == "" {
		addr, err := rf.resolver.Resolve(context.Background(), current)
		rf.field.Settle(current, addr, err)
		return
	}
	rf.field.Set(current)
}

// SetAmount changes the amount without touching resolution.
func (rf *RecipientField) SetAmount(amount decimal.Decimal) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	rf.recipient = rf.recipient.WithAmount(amount)
}

// Recipient returns the current state.
func (rf *RecipientField) Recipient() flow.Recipient {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.recipient
}

// Err returns the error of the last applied lookup, if any.
func (rf *RecipientField) Err() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.lastErr
}

// Close stops pending lookups.
func (rf *RecipientField) Close() {
	rf.field.Close()
}

func (rf *RecipientField) apply(res debounce.Result[common.Address]) {
	rf.mu.Lock()
	var applied bool
	if res.Err != nil {
		rf.recipient, applied = rf.recipient.Unresolved(res.Input)
	} else {
		rf.recipient, applied = rf.recipient.Resolved(res.Input, res.Value)
	}
	if applied {
		rf.lastErr = res.Err
	}
	current := rf.recipient
	rf.mu.Unlock()

	if applied && rf.onChange != nil {
		rf.onChange(current)
	}
}
