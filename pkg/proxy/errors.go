package proxy

import "fmt"

// EncodeError reports a proxy value that the wire schema cannot represent.
type EncodeError struct {
	Message string // wire type being encoded
	Field   string // dotted field path within Message
	Reason  string
}

func (e *EncodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("proxy: encode %s: %s", e.Message, e.Reason)
	}
	return fmt.Sprintf("proxy: encode %s field %q: %s", e.Message, e.Field, e.Reason)
}

// DecodeError reports a wire message that cannot be turned into a proxy.
type DecodeError struct {
	Message string
	Field   string
	Reason  string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("proxy: decode %s: %s", e.Message, e.Reason)
	}
	return fmt.Sprintf("proxy: decode %s field %q: %s", e.Message, e.Field, e.Reason)
}
