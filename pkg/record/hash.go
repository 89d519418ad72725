package record

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// canonical sorts map keys, so equal records encode identically whatever
// order their keys were inserted in.
var canonical = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("record: canonical cbor mode: %v", err))
	}
	return em
}

// Key returns a canonical string form of r. Records that are Equal have the
// same Key, so it can index a Go map.
func (r *Record) Key() string {
	return string(r.canonicalBytes())
}

// Hash returns a structural hash of r that does not depend on key order.
func (r *Record) Hash() uint64 {
	return xxhash.Sum64(r.canonicalBytes())
}

func (r *Record) canonicalBytes() []byte {
	b, err := canonical.Marshal(hashable(r))
	if err != nil {
		// hashable only produces CBOR-encodable values.
		panic(fmt.Sprintf("record: canonical encode: %v", err))
	}
	return b
}

// hashable converts v into values the canonical encoder accepts. Values
// with no CBOR form are replaced by a type-qualified string.
func hashable(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, uint64, []byte:
		return x
	case float64:
		// -0 and +0 are Equal but encode differently.
		if x == 0 {
			return float64(0)
		}
		return x
	case Wrapper:
		rec := x.Unwrap()
		out := make(map[string]any, len(rec.fields))
		for k, fv := range rec.fields {
			if vacant(fv) {
				continue
			}
			out[k] = hashable(fv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = hashable(x[i])
		}
		return out
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// String renders r with sorted keys for logs and test failures.
func (r *Record) String() string {
	return render(r)
}

func render(v any) string {
	switch x := v.(type) {
	case Wrapper:
		rec := x.Unwrap()
		keys := make([]string, 0, len(rec.fields))
		for k := range rec.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "{"
		for i, k := range keys {
			if i > 0 {
				s += " "
			}
			s += k + ":" + render(rec.fields[k])
		}
		return s + "}"
	case []any:
		s := "["
		for i := range x {
			if i > 0 {
				s += " "
			}
			s += render(x[i])
		}
		return s + "]"
	case string:
		return fmt.Sprintf("%q", x)
	}
	return fmt.Sprintf("%v", v)
}
