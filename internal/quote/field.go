package quote

import (
	"context"
	"sync"
	"time"

	"DefiFlow/internal/debounce"
)

// DefaultDebounce is the quiet period before an edited amount is quoted.
const DefaultDebounce = 500 * time.Millisecond

// Field reverse-quotes a desired output while the user edits it.
type Field struct {
	engine   *Engine
	field    *debounce.Field[Quote]
	onChange func(Quote, error)

	mu    sync.Mutex
	input string
	quote Quote
	err   error
}

// NewField creates a field. onChange runs with the field locked.
func NewField(ctx context.Context, engine *Engine, delay time.Duration, onChange func(Quote, error)) *Field {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	f := &Field{engine: engine, onChange: onChange, err: ErrNoQuote}
	f.field = debounce.New(ctx, delay, engine.QuoteString, f.apply)
	return f
}

// Edit records a new desired amount. Amounts that cannot be quoted settle
// at once without reaching the oracle.
func (f *Field) Edit(raw string) {
	f.mu.Lock()
	f.input = raw
	f.mu.Unlock()
	if _, err := ParseAmount(raw); err != nil {
		f.field.Settle(raw, Quote{}, err)
		return
	}
	f.field.Set(raw)
}

// Current returns the last applied quote.
func (f *Field) Current() (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.err
}

// Close stops pending quotes.
func (f *Field) Close() { f.field.Close() }

func (f *Field) apply(res debounce.Result[Quote]) {
	f.mu.Lock()
	if res.Input != f.input {
		f.mu.Unlock()
		return
	}
	f.quote, f.err = res.Value, res.Err
	f.mu.Unlock()
	if f.onChange != nil {
		f.onChange(res.Value, res.Err)
	}
}
