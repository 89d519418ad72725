// Package record implements a nested, dot-addressable mapping used as the
// in-memory form of every wire message.
//
// Reads never invent values: a missing key yields a *KeyNotFoundError.
// Writes auto-create intermediate records along the path. Mutations are
// shared by every holder of the same *Record.
package record

import (
	"bytes"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Wrapper is implemented by values that embed a Record, such as proxies.
// Path traversal, equality and hashing look through a Wrapper to its Record.
type Wrapper interface {
	Unwrap() *Record
}

// Record is a string-keyed mapping whose nested mappings are Records too.
// The zero value is not usable; construct with New or FromMap.
type Record struct {
	fields map[string]any
}

// New returns an empty Record.
func New() *Record {
	return &Record{fields: make(map[string]any)}
}

// FromMap builds a Record from a literal mapping, wrapping nested mappings
// and lists of mappings deeply.
func FromMap(m map[string]any) *Record {
	r := New()
	for k, v := range m {
		r.fields[k] = wrap(v)
	}
	return r
}

// Unwrap returns r itself so a *Record satisfies Wrapper.
func (r *Record) Unwrap() *Record {
	return r
}

// Len returns the number of top-level keys.
func (r *Record) Len() int {
	return len(r.fields)
}

// Keys returns the top-level keys in sorted order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for each top-level entry in key order until fn returns false.
func (r *Record) Range(fn func(key string, value any) bool) {
	for _, k := range r.Keys() {
		if !fn(k, r.fields[k]) {
			return
		}
	}
}

// Get returns the value at path. Path segments are separated by dots; a
// numeric segment indexes into a list.
func (r *Record) Get(path string) (any, error) {
	segs := splitPath(path)
	var cur any = r
	for i, seg := range segs {
		next, ok := child(cur, seg)
		if !ok {
			return nil, &KeyNotFoundError{Path: strings.Join(segs[:i+1], ".")}
		}
		cur = next
	}
	return cur, nil
}

// Has reports whether a value exists at path.
func (r *Record) Has(path string) bool {
	_, err := r.Get(path)
	return err == nil
}

// Set stores value at path, creating intermediate Records for missing keys.
// Nested mappings in value are wrapped into Records.
func (r *Record) Set(path string, value any) error {
	segs := splitPath(path)
	parent, err := r.walkCreate(segs[:len(segs)-1])
	if err != nil {
		return err
	}
	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case Wrapper:
		p.Unwrap().fields[last] = wrap(value)
		return nil
	case []any:
		idx, ok := index(last, len(p))
		if !ok {
			return &PathError{Path: path, Reason: "list index out of range"}
		}
		p[idx] = wrap(value)
		return nil
	}
	return &PathError{Path: path, Reason: "parent is not a record"}
}

// Ensure returns the Record at path, creating it and any missing parents.
func (r *Record) Ensure(path string) (*Record, error) {
	if path == "" {
		return r, nil
	}
	v, err := r.walkCreate(splitPath(path))
	if err != nil {
		return nil, err
	}
	w, ok := v.(Wrapper)
	if !ok {
		return nil, &PathError{Path: path, Reason: "value is not a record"}
	}
	return w.Unwrap(), nil
}

// Delete removes the value at path. Deleting a missing key is a no-op.
func (r *Record) Delete(path string) {
	segs := splitPath(path)
	var parent any = r
	if len(segs) > 1 {
		v, err := r.Get(strings.Join(segs[:len(segs)-1], "."))
		if err != nil {
			return
		}
		parent = v
	}
	if w, ok := parent.(Wrapper); ok {
		delete(w.Unwrap().fields, segs[len(segs)-1])
	}
}

// walkCreate descends along segs, creating Records for missing keys, and
// returns the value found at the end.
func (r *Record) walkCreate(segs []string) (any, error) {
	var cur any = r
	for i, seg := range segs {
		switch c := cur.(type) {
		case Wrapper:
			rec := c.Unwrap()
			next, ok := rec.fields[seg]
			if !ok {
				next = New()
				rec.fields[seg] = next
			}
			cur = next
		case []any:
			idx, ok := index(seg, len(c))
			if !ok {
				return nil, &PathError{Path: strings.Join(segs[:i+1], "."), Reason: "list index out of range"}
			}
			c[idx] = wrap(c[idx])
			cur = c[idx]
		default:
			return nil, &PathError{Path: strings.Join(segs[:i+1], "."), Reason: "cannot descend into scalar"}
		}
	}
	return cur, nil
}

// child returns the direct child of v named seg.
func child(v any, seg string) (any, bool) {
	switch c := v.(type) {
	case Wrapper:
		next, ok := c.Unwrap().fields[seg]
		return next, ok
	case []any:
		idx, ok := index(seg, len(c))
		if !ok {
			return nil, false
		}
		return c[idx], true
	case map[string]any:
		// Lists filled through direct mutation may still hold raw maps.
		// Reads descend into them without rewriting the list.
		next, ok := c[seg]
		return next, ok
	}
	return nil, false
}

func index(seg string, n int) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// wrap normalizes a value for storage: mappings become Records, slices
// become []any with wrapped elements, and numeric kinds widen to 64 bits.
func wrap(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, uint64, float64, []byte:
		return x
	case Wrapper:
		return x
	case map[string]any:
		return FromMap(x)
	case []any:
		for i := range x {
			x[i] = wrap(x[i])
		}
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case float32:
		return float64(x)
	}

	// Named types over basic kinds (enums and the like) are stored as their
	// underlying value so they compare equal to decoded wire values.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes()
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = wrap(rv.Index(i).Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// Equal reports structural equality of two Records, ignoring key order.
// A key holding nil or an empty list equals a missing key, as it does on
// the wire.
func (r *Record) Equal(other *Record) bool {
	if r == other {
		return true
	}
	if r == nil || other == nil {
		return false
	}
	for k, v := range r.fields {
		ov, ok := other.fields[k]
		if !ok {
			if vacant(v) {
				continue
			}
			return false
		}
		if !equalValue(v, ov) && !(vacant(v) && vacant(ov)) {
			return false
		}
	}
	for k, ov := range other.fields {
		if _, ok := r.fields[k]; !ok && !vacant(ov) {
			return false
		}
	}
	return true
}

// vacant reports whether v carries nothing a missing key would not.
func vacant(v any) bool {
	if v == nil {
		return true
	}
	l, ok := v.([]any)
	return ok && len(l) == 0
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case Wrapper:
		y, ok := b.(Wrapper)
		return ok && x.Unwrap().Equal(y.Unwrap())
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	}
	return reflect.DeepEqual(a, b)
}

// Matches reports whether r contains template as a structural subset.
// Every key of template must be present with a matching value; a template
// list matches when each of its elements matches some element of r's list.
func (r *Record) Matches(template *Record) bool {
	if template == nil {
		return true
	}
	for k, tv := range template.fields {
		v, ok := r.fields[k]
		if !ok || !matchValue(v, tv) {
			return false
		}
	}
	return true
}

func matchValue(v, tv any) bool {
	switch t := tv.(type) {
	case Wrapper:
		w, ok := v.(Wrapper)
		return ok && w.Unwrap().Matches(t.Unwrap())
	case []any:
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, want := range t {
			found := false
			for _, have := range list {
				if matchValue(have, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return equalValue(v, tv)
}

// ToMap returns a deep copy of r as plain maps and slices.
func (r *Record) ToMap() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch x := v.(type) {
	case Wrapper:
		return x.Unwrap().ToMap()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = plain(x[i])
		}
		return out
	}
	return v
}
