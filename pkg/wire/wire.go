// Package wire holds the resource manager's message schema as protobuf
// descriptors and the codec used to move messages across the driver boundary.
//
// Messages are dynamic (dynamicpb): the schema is assembled in Go rather than
// generated, so no protoc step is needed to build the module.
package wire

import (
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Package is the protobuf package of every schema message.
const Package = "mesos"

// Message names used across the module.
const (
	FrameworkID   = "FrameworkID"
	FrameworkInfo = "FrameworkInfo"
	OfferID       = "OfferID"
	SlaveID       = "SlaveID"
	TaskID        = "TaskID"
	ExecutorID    = "ExecutorID"
	ExecutorInfo  = "ExecutorInfo"
	Label         = "Label"
	Labels        = "Labels"
	Value         = "Value"
	Resource      = "Resource"
	CommandInfo   = "CommandInfo"
	ContainerInfo = "ContainerInfo"
	TaskInfo      = "TaskInfo"
	TaskStatus    = "TaskStatus"
	Offer         = "Offer"
	Filters       = "Filters"
)

var load = sync.OnceValues(func() (protoreflect.FileDescriptor, error) {
	fd, err := protodesc.NewFile(schema(), nil)
	if err != nil {
		return nil, fmt.Errorf("build wire schema: %w", err)
	}
	return fd, nil
})

// File returns the schema file descriptor.
func File() protoreflect.FileDescriptor {
	fd, err := load()
	if err != nil {
		// The schema is static; failing here is a programming error.
		panic(err)
	}
	return fd
}

// FullName qualifies a short message name with the schema package.
// Already-qualified names are returned unchanged.
func FullName(name string) protoreflect.FullName {
	if strings.HasPrefix(name, Package+".") {
		return protoreflect.FullName(name)
	}
	return protoreflect.FullName(Package + "." + name)
}

// Descriptor returns the descriptor of a top-level or nested schema message.
func Descriptor(name string) (protoreflect.MessageDescriptor, error) {
	full := FullName(name)
	parts := strings.Split(strings.TrimPrefix(string(full), Package+"."), ".")

	md := File().Messages().ByName(protoreflect.Name(parts[0]))
	for _, p := range parts[1:] {
		if md == nil {
			break
		}
		md = md.Messages().ByName(protoreflect.Name(p))
	}
	if md == nil {
		return nil, fmt.Errorf("wire: unknown message %q", full)
	}
	return md, nil
}

// New returns an empty message of the named type.
func New(name string) (*dynamicpb.Message, error) {
	md, err := Descriptor(name)
	if err != nil {
		return nil, err
	}
	return dynamicpb.NewMessage(md), nil
}

// MustNew is like New but panics on an unknown name.
func MustNew(name string) *dynamicpb.Message {
	m, err := New(name)
	if err != nil {
		panic(err)
	}
	return m
}

var marshalOptions = proto.MarshalOptions{Deterministic: true}

// Marshal encodes m deterministically.
func Marshal(m proto.Message) ([]byte, error) {
	return marshalOptions.Marshal(m)
}

// Unmarshal decodes b as a message of the named type.
func Unmarshal(name string, b []byte) (*dynamicpb.Message, error) {
	m, err := New(name)
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("wire: unmarshal %s: %w", m.Descriptor().FullName(), err)
	}
	return m, nil
}

// Name returns the short type name of m.
func Name(m proto.Message) string {
	return string(m.ProtoReflect().Descriptor().Name())
}
