package closure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func is a function a closure task can invoke by name. Arguments arrive
// as decoded payload values: integers as int64, other numbers as float64,
// lists as []any and mappings as map[string]any.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry maps function names to implementations. Both the submitting
// side and the executing side must register the same names.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces the function called name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the function called name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtin = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
})

// Builtin returns a shared registry holding the built-in functions.
func Builtin() *Registry {
	return builtin()
}

// RegisterBuiltins registers sum, concat and fail.
//
//	sum(xs)              total of a list of numbers (or of the arguments)
//	concat(a, b, ...)    strings joined by kwargs["sep"]
//	fail(msg)            always returns an error with msg
func RegisterBuiltins(r *Registry) {
	r.Register("sum", sum)
	r.Register("concat", concat)
	r.Register("fail", fail)
}

func sum(_ context.Context, args []any, _ map[string]any) (any, error) {
	items := args
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			items = list
		}
	}

	var (
		ints    int64
		floats  float64
		isFloat bool
	)
	for i, v := range items {
		switch n := v.(type) {
		case int64:
			ints += n
		case uint64:
			ints += int64(n)
		case int:
			ints += int64(n)
		case float64:
			floats += n
			isFloat = true
		default:
			return nil, fmt.Errorf("sum: item %d is %T, not a number", i, v)
		}
	}
	if isFloat {
		return floats + float64(ints), nil
	}
	return ints, nil
}

func concat(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	sep, _ := kwargs["sep"].(string)
	parts := make([]string, 0, len(args))
	for _, v := range args {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, sep), nil
}

func fail(_ context.Context, args []any, _ map[string]any) (any, error) {
	msg := "fail called"
	if len(args) > 0 {
		msg = fmt.Sprint(args[0])
	}
	return nil, errors.New(msg)
}
