package analysis

import (
	"context"
	"errors"
)

// ErrNoProvider means the analysis context was read outside a scope that provides one.
var ErrNoProvider = errors.New("analysis: no context provider in scope")

type ctxKey struct{}

// NewContext returns a copy of parent that carries c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// FromContext returns the analysis context provided to ctx.
func FromContext(ctx context.Context) (*Context, error) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	if !ok || c == nil {
		return nil, ErrNoProvider
	}
	return c, nil
}

// MustFromContext is FromContext for code that can only run under a provider.
// It panics otherwise; that is a wiring bug, not a runtime condition.
func MustFromContext(ctx context.Context) *Context {
	c, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return c
}
