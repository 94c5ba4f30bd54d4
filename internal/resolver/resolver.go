// Package resolver turns recipient identifiers into verified addresses.
// Hex literals resolve locally; names go through a NameService, with a
// session cache and request coalescing in front of it.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/pkg/logger"
)

var literalPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsLiteral reports whether raw is written as a hex address.
func IsLiteral(raw string) bool {
	return literalPattern.MatchString(strings.TrimSpace(raw))
}

// NameService looks a name up on the network. A zero address means the name
// has no address.
type NameService interface {
	ResolveName(ctx context.Context, name string) (common.Address, error)
}

// Observer receives lookup outcomes: literal, cache_hit, resolved, failed.
type Observer interface {
	ObserveResolution(outcome string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache replaces the session cache.
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver resolves identifiers. It is safe for concurrent use.
type Resolver struct {
	names    NameService
	cache    Cache
	group    singleflight.Group
	observer Observer
	logger   *slog.Logger
}

// New creates a resolver backed by names.
func New(names NameService, opts ...Option) *Resolver {
	r := &Resolver{
		names:  names,
		cache:  NewMemoryCache(),
		logger: logger.Named("resolver"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the address for raw. Anything starting with 0x is held to
// the literal pattern and never reaches the network.
func (r *Resolver) Resolve(ctx context.Context, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, r.fail(raw, fmt.Errorf("empty identifier"))
	}
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		if !IsLiteral(raw) {
			return common.Address{}, r.fail(raw, fmt.Errorf("%q is not a 20-byte hex address", raw))
		}
		r.observe("literal")
		return common.HexToAddress(raw), nil
	}

	name := normalizeName(raw)
	if addr, ok, err := r.cache.Get(ctx, name); err != nil {
		r.logger.Warn("读取解析缓存失败", slog.String("name", name), slog.Any("error", err))
	} else if ok {
		r.observe("cache_hit")
		return addr, nil
	}

	if r.names == nil {
		return common.Address{}, r.fail(raw, fmt.Errorf("no name service configured"))
	}
	// The shared lookup outlives any one caller; each caller stops waiting
	// on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(name, func() (any, error) {
		if addr, ok, _ := r.cache.Get(shared, name); ok {
			return addr, nil
		}
		addr, err := r.names.ResolveName(shared, name)
		if err != nil {
			return common.Address{}, err
		}
		if addr == (common.Address{}) {
			return common.Address{}, fmt.Errorf("%s has no address", name)
		}
		if err := r.cache.Set(shared, name, addr); err != nil {
			r.logger.Warn("写入解析缓存失败", slog.String("name", name), slog.Any("error", err))
		}
		return addr, nil
	})
	select {
	case <-ctx.Done():
		return common.Address{}, r.fail(raw, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return common.Address{}, r.fail(raw, res.Err)
		}
		r.observe("resolved")
		return res.Val.(common.Address), nil
	}
}

func (r *Resolver) fail(raw string, cause error) error {
	r.observe("failed")
	return apperrors.Wrap(apperrors.CodeResolution, cause, fmt.Sprintf("could not resolve %q", raw),
		apperrors.WithMetadata("input", raw))
}

func (r *Resolver) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveResolution(outcome)
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}
