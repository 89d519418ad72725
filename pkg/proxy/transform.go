package proxy

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/me/quiver/pkg/record"
	"github.com/me/quiver/pkg/wire"
)

// Decode converts a wire message into the most specific registered proxy.
// Nested message fields are decoded into proxies of their own.
func (r *Registry) Decode(m proto.Message) (Proxy, error) {
	return r.decode(m.ProtoReflect(), "")
}

// DecodeBytes unmarshals b as the named wire message and decodes it.
func (r *Registry) DecodeBytes(name string, b []byte) (Proxy, error) {
	m, err := wire.Unmarshal(name, b)
	if err != nil {
		return nil, &DecodeError{Message: string(wire.FullName(name)), Reason: err.Error()}
	}
	return r.Decode(m)
}

// Decode decodes m with the built-in registry.
func Decode(m proto.Message) (Proxy, error) {
	return Builtin().Decode(m)
}

func (r *Registry) decode(m protoreflect.Message, prefix string) (Proxy, error) {
	desc := m.Descriptor()
	rec := record.New()

	var ferr error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		path := join(prefix, string(fd.Name()))
		var val any
		switch {
		case fd.IsMap():
			ferr = &DecodeError{Message: string(desc.FullName()), Field: path, Reason: "map fields are not supported"}
			return false
		case fd.IsList():
			list := v.List()
			items := make([]any, 0, list.Len())
			for i := 0; i < list.Len(); i++ {
				item, err := r.decodeValue(fd, list.Get(i), fmt.Sprintf("%s.%d", path, i))
				if err != nil {
					ferr = err
					return false
				}
				items = append(items, item)
			}
			val = items
		default:
			item, err := r.decodeValue(fd, v, path)
			if err != nil {
				ferr = err
				return false
			}
			val = item
		}
		if err := rec.Set(string(fd.Name()), val); err != nil {
			ferr = &DecodeError{Message: string(desc.FullName()), Field: path, Reason: err.Error()}
			return false
		}
		return true
	})
	if ferr != nil {
		return nil, ferr
	}

	base := Wrap(desc, rec)
	if t := r.Lookup(desc.FullName(), rec); t != nil && t.New != nil {
		return t.New(base), nil
	}
	return base, nil
}

func (r *Registry) decodeValue(fd protoreflect.FieldDescriptor, v protoreflect.Value, path string) (any, error) {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return r.decode(v.Message(), path)
	case protoreflect.EnumKind:
		ev := fd.Enum().Values().ByNumber(v.Enum())
		if ev == nil {
			return nil, &DecodeError{
				Message: string(fd.ContainingMessage().FullName()),
				Field:   path,
				Reason:  fmt.Sprintf("unknown %s value %d", fd.Enum().FullName(), v.Enum()),
			}
		}
		return string(ev.Name()), nil
	case protoreflect.BytesKind:
		return append([]byte(nil), v.Bytes()...), nil
	case protoreflect.StringKind:
		return v.String(), nil
	case protoreflect.BoolKind:
		return v.Bool(), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int(), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint(), nil
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float(), nil
	}
	return nil, &DecodeError{
		Message: string(fd.ContainingMessage().FullName()),
		Field:   path,
		Reason:  fmt.Sprintf("unsupported kind %s", fd.Kind()),
	}
}

// EncodeOptions controls Encode.
type EncodeOptions struct {
	// DiscardUnknown drops record keys that have no wire field instead of
	// failing. Type mismatches on known fields still fail.
	DiscardUnknown bool
}

// Encode converts p into its wire message. Any record key the wire type
// cannot carry is an *EncodeError, and so is any value Decode would not
// give back unchanged: doubles must be float64, bytes []byte, signed
// integers int64, unsigned integers uint64 and enums their value name.
func Encode(p Proxy) (*dynamicpb.Message, error) {
	return EncodeOptions{}.Encode(p)
}

// Encode converts p into its wire message using o.
func (o EncodeOptions) Encode(p Proxy) (*dynamicpb.Message, error) {
	desc := p.Descriptor()
	m := dynamicpb.NewMessage(desc)
	if err := o.fill(m, p.Unwrap(), ""); err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes p and serializes it deterministically.
func Marshal(p Proxy) ([]byte, error) {
	m, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return wire.Marshal(m)
}

func (o EncodeOptions) fill(m *dynamicpb.Message, rec *record.Record, prefix string) error {
	desc := m.Descriptor()
	for _, key := range rec.Keys() {
		path := join(prefix, key)
		val, _ := rec.Get(key)
		fd := desc.Fields().ByName(protoreflect.Name(key))
		if fd == nil {
			if o.DiscardUnknown {
				continue
			}
			return &EncodeError{Message: string(desc.FullName()), Field: path, Reason: "no such field"}
		}
		if val == nil {
			continue
		}
		fail := func(reason string) error {
			return &EncodeError{Message: string(desc.FullName()), Field: path, Reason: reason}
		}

		switch {
		case fd.IsMap():
			return fail("map fields are not supported")
		case fd.IsList():
			items, ok := val.([]any)
			if !ok {
				return fail(fmt.Sprintf("want list, have %T", val))
			}
			list := m.Mutable(fd).List()
			for i, item := range items {
				pv, err := o.value(fd, item, fmt.Sprintf("%s.%d", path, i))
				if err != nil {
					return err
				}
				list.Append(pv)
			}
		default:
			pv, err := o.value(fd, val, path)
			if err != nil {
				return err
			}
			m.Set(fd, pv)
		}
	}
	return nil
}

func (o EncodeOptions) value(fd protoreflect.FieldDescriptor, v any, path string) (protoreflect.Value, error) {
	fail := func(reason string) (protoreflect.Value, error) {
		return protoreflect.Value{}, &EncodeError{
			Message: string(fd.ContainingMessage().FullName()),
			Field:   path,
			Reason:  reason,
		}
	}
	mismatch := func() (protoreflect.Value, error) {
		return fail(fmt.Sprintf("cannot encode %T as %s", v, fd.Kind()))
	}

	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		want := fd.Message()
		var rec *record.Record
		switch x := v.(type) {
		case Proxy:
			if x.Descriptor().FullName() != want.FullName() {
				return fail(fmt.Sprintf("want %s, have %s proxy", want.FullName(), x.Descriptor().FullName()))
			}
			rec = x.Unwrap()
		case record.Wrapper:
			rec = x.Unwrap()
		default:
			return mismatch()
		}
		sub := dynamicpb.NewMessage(want)
		if err := o.fill(sub, rec, path); err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfMessage(sub), nil

	case protoreflect.EnumKind:
		values := fd.Enum().Values()
		var ev protoreflect.EnumValueDescriptor
		switch x := v.(type) {
		case string:
			ev = values.ByName(protoreflect.Name(x))
		default:
			return mismatch()
		}
		if ev == nil {
			return fail(fmt.Sprintf("%v is not a %s value", v, fd.Enum().FullName()))
		}
		return protoreflect.ValueOfEnum(ev.Number()), nil

	case protoreflect.StringKind:
		s, ok := v.(string)
		if !ok {
			return mismatch()
		}
		return protoreflect.ValueOfString(s), nil

	case protoreflect.BytesKind:
		b, ok := v.([]byte)
		if !ok {
			return mismatch()
		}
		return protoreflect.ValueOfBytes(b), nil

	case protoreflect.BoolKind:
		b, ok := v.(bool)
		if !ok {
			return mismatch()
		}
		return protoreflect.ValueOfBool(b), nil

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, ok := v.(int64)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return mismatch()
		}
		return protoreflect.ValueOfInt32(int32(n)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, ok := v.(int64)
		if !ok {
			return mismatch()
		}
		return protoreflect.ValueOfInt64(n), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, ok := v.(uint64)
		if !ok || n > math.MaxUint32 {
			return mismatch()
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, ok := v.(uint64)
		if !ok {
			return mismatch()
		}
		return protoreflect.ValueOfUint64(n), nil

	case protoreflect.FloatKind:
		f, ok := v.(float64)
		if !ok {
			return mismatch()
		}
		if float64(float32(f)) != f && !math.IsNaN(f) {
			return fail(fmt.Sprintf("%v is not exactly representable as float", f))
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, ok := v.(float64)
		if !ok {
			return mismatch()
		}
		return protoreflect.ValueOfFloat64(f), nil
	}
	return mismatch()
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
