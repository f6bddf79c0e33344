// Package groutine starts goroutines carrying a name, both as a pprof label
// (visible in goroutine profiles and debuggers) and as a context value.
package groutine

import (
	"context"
	"runtime/pprof"
)

type nameKey struct{}

const labelKey = "goroutine_name"

// Go runs fn in a new goroutine labelled name. A nil parent means context.Background.
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(labelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside such a goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}
