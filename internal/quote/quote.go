// Package quote answers "how much must be sold to receive X", asking an
// on-chain quoter first and falling back to a fixed reference rate.
package quote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/pkg/logger"
)

// DefaultReferenceRate is the output received per unit of input when the
// oracle cannot be reached.
var DefaultReferenceRate = decimal.NewFromInt(2000)

// EstimatePrecision is the number of decimals kept in fallback estimates.
const EstimatePrecision = 5

// ErrNoQuote is returned for zero, negative or unparsable amounts. The
// oracle is not consulted.
var ErrNoQuote = apperrors.New(apperrors.CodeNoQuote, "")

// Oracle quotes an exact-output trade on the configured pair.
type Oracle interface {
	QuoteExactOutput(ctx context.Context, desiredOutput decimal.Decimal) (requiredInput decimal.Decimal, gasEstimate uint64, err error)
}

// Observer is told about every quote served.
type Observer interface {
	ObserveQuote(estimate bool)
}

// Quote is the answer for one desired output. Estimate marks a fallback
// result that may be shown but never executed.
type Quote struct {
	DesiredOutput decimal.Decimal `json:"desiredOutput"`
	RequiredInput decimal.Decimal `json:"requiredInput"`
	GasEstimate   uint64          `json:"gasEstimate,omitempty"`
	Estimate      bool            `json:"estimate"`
	Reason        string          `json:"reason,omitempty"`
}

// Executable returns QuoteUnavailable for estimates.
func (q Quote) Executable() error {
	if !q.Estimate {
		return nil
	}
	return apperrors.New(apperrors.CodeQuoteUnavailable,
		fmt.Sprintf("only an estimate is available (%s); refusing to execute on it", q.Reason))
}

// Option configures an Engine.
type Option func(*Engine)

// WithReferenceRate overrides the fallback rate. Non-positive rates are ignored.
func WithReferenceRate(rate decimal.Decimal) Option {
	return func(e *Engine) {
		if rate.IsPositive() {
			e.referenceRate = rate
		}
	}
}

// WithObserver reports served quotes to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine serves quotes. A nil oracle always falls back.
type Engine struct {
	oracle        Oracle
	referenceRate decimal.Decimal
	observer      Observer
	logger        *slog.Logger
}

// NewEngine creates an engine around oracle.
func NewEngine(oracle Oracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:        oracle,
		referenceRate: DefaultReferenceRate,
		logger:        logger.Named("quote"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ParseAmount parses user input, reporting ErrNoQuote for anything that
// cannot be quoted.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrNoQuote
	}
	return d, nil
}

// QuoteString parses raw and quotes it.
func (e *Engine) QuoteString(ctx context.Context, raw string) (Quote, error) {
	desired, err := ParseAmount(raw)
	if err != nil {
		return Quote{}, err
	}
	return e.QuoteRequiredInput(ctx, desired)
}

// QuoteRequiredInput returns the input needed to receive desired. Oracle
// failures never surface as errors: they produce a flagged estimate.
func (e *Engine) QuoteRequiredInput(ctx context.Context, desired decimal.Decimal) (Quote, error) {
	if !desired.IsPositive() {
		return Quote{}, ErrNoQuote
	}
	if e.oracle != nil {
		input, gas, err := e.oracle.QuoteExactOutput(ctx, desired)
		if err == nil && input.IsPositive() {
			e.observe(false)
			return Quote{DesiredOutput: desired, RequiredInput: input, GasEstimate: gas}, nil
		}
		if err == nil {
			err = fmt.Errorf("oracle returned non-positive input %s", input)
		}
		e.logger.Warn("报价合约不可用，使用参考汇率估算", slog.String("desired", desired.String()), slog.Any("error", err))
		return e.estimate(desired, err.Error()), nil
	}
	return e.estimate(desired, "no oracle configured"), nil
}

func (e *Engine) estimate(desired decimal.Decimal, reason string) Quote {
	e.observe(true)
	return Quote{
		DesiredOutput: desired,
		RequiredInput: desired.Div(e.referenceRate).Round(EstimatePrecision),
		Estimate:      true,
		Reason:        reason,
	}
}

func (e *Engine) observe(estimate bool) {
	if e.observer != nil {
		e.observer.ObserveQuote(estimate)
	}
}
