// Package proxy converts between wire messages and proxies: records that
// carry their wire type and expose typed accessors.
//
// A Registry maps wire types to proxy types. Registration prepends, so the
// most recently registered matching type wins; a subtype registered after
// its base shadows it.
package proxy

import (
	"log/slog"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/me/quiver/pkg/record"
	"github.com/me/quiver/pkg/wire"
)

// Proxy is the in-memory form of one wire message.
type Proxy interface {
	record.Wrapper
	Descriptor() protoreflect.MessageDescriptor
}

// MessageProxy is the generic proxy. Every typed proxy embeds one, which
// makes the record's dotted accessors available on all of them.
type MessageProxy struct {
	*record.Record
	desc protoreflect.MessageDescriptor
}

// NewMessageProxy returns an empty proxy for the named wire message.
// It panics if the name is not part of the schema.
func NewMessageProxy(name string) *MessageProxy {
	desc, err := wire.Descriptor(name)
	if err != nil {
		panic(err)
	}
	return &MessageProxy{Record: record.New(), desc: desc}
}

// Wrap returns a proxy of the given wire type around an existing record.
func Wrap(desc protoreflect.MessageDescriptor, rec *record.Record) *MessageProxy {
	return &MessageProxy{Record: rec, desc: desc}
}

// Descriptor returns the wire type of the proxy.
func (m *MessageProxy) Descriptor() protoreflect.MessageDescriptor {
	return m.desc
}

// TypeName returns the fully-qualified wire type name.
func (m *MessageProxy) TypeName() string {
	return string(m.desc.FullName())
}

// Equal reports whether a and b have the same wire type and equal records.
func Equal(a, b Proxy) bool {
	return a.Descriptor().FullName() == b.Descriptor().FullName() && a.Unwrap().Equal(b.Unwrap())
}

// Type declares a proxy type. A message matches when its wire type is
// Message and its decoded record contains Template (see record.Matches).
type Type struct {
	Name     string
	Message  protoreflect.FullName
	Template *record.Record
	New      func(m *MessageProxy) Proxy
}

func (t *Type) matches(name protoreflect.FullName, rec *record.Record) bool {
	return t.Message == name && rec.Matches(t.Template)
}

// Registry holds proxy types, most specific first.
type Registry struct {
	mu      sync.RWMutex
	entries []*Type
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry. Use RegisterBuiltins to add the
// schema's standard proxy types.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default().With("component", "proxy-registry")}
}

// WithLogger sets the logger used for registration messages.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger.With("component", "proxy-registry")
	return r
}

// Register adds t to the front of the match list.
func (r *Registry) Register(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]*Type{t}, r.entries...)
	r.logger.Debug("proxy type registered", "type", t.Name, "message", t.Message)
}

// Entries returns the registered types in match order.
func (r *Registry) Entries() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup returns the first type matching a decoded message, or nil.
func (r *Registry) Lookup(name protoreflect.FullName, rec *record.Record) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.entries {
		if t.matches(name, rec) {
			return t
		}
	}
	return nil
}

var builtin = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
})

// Builtin returns a shared registry holding only the built-in proxy types.
func Builtin() *Registry {
	return builtin()
}
