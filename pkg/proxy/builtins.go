package proxy

import (
	"github.com/me/quiver/pkg/record"
	"github.com/me/quiver/pkg/resources"
	"github.com/me/quiver/pkg/wire"
)

// RegisterBuiltins registers the proxy types of the wire schema. Resource
// subtypes are registered after Resource so they take precedence.
func RegisterBuiltins(r *Registry) {
	for _, name := range []string{wire.FrameworkID, wire.OfferID, wire.SlaveID, wire.TaskID, wire.ExecutorID} {
		r.Register(&Type{
			Name:    name,
			Message: wire.FullName(name),
			New:     func(m *MessageProxy) Proxy { return &ID{m} },
		})
	}

	r.Register(&Type{Name: "FrameworkInfo", Message: wire.FullName(wire.FrameworkInfo),
		New: func(m *MessageProxy) Proxy { return &FrameworkInfo{m} }})
	r.Register(&Type{Name: "CommandInfo", Message: wire.FullName(wire.CommandInfo),
		New: func(m *MessageProxy) Proxy { return &CommandInfo{m} }})
	r.Register(&Type{Name: "ContainerInfo", Message: wire.FullName(wire.ContainerInfo),
		New: func(m *MessageProxy) Proxy { return &ContainerInfo{m} }})
	r.Register(&Type{Name: "ExecutorInfo", Message: wire.FullName(wire.ExecutorInfo),
		New: func(m *MessageProxy) Proxy { return &ExecutorInfo{m} }})
	r.Register(&Type{Name: "Filters", Message: wire.FullName(wire.Filters),
		New: func(m *MessageProxy) Proxy { return &Filters{m} }})

	r.Register(&Type{Name: "Resource", Message: wire.FullName(wire.Resource),
		New: func(m *MessageProxy) Proxy { return &Resource{m} }})
	r.Register(resourceType("Cpus", resources.CPUs, func(res *Resource) Proxy { return &Cpus{res} }))
	r.Register(resourceType("Mem", resources.Mem, func(res *Resource) Proxy { return &Mem{res} }))
	r.Register(resourceType("Disk", resources.Disk, func(res *Resource) Proxy { return &Disk{res} }))
	r.Register(resourceType("Gpus", resources.GPUs, func(res *Resource) Proxy { return &Gpus{res} }))

	r.Register(&Type{Name: "TaskInfo", Message: wire.FullName(wire.TaskInfo),
		New: func(m *MessageProxy) Proxy { return &TaskInfo{MessageProxy: m} }})
	r.Register(&Type{Name: "TaskStatus", Message: wire.FullName(wire.TaskStatus),
		New: func(m *MessageProxy) Proxy { return &TaskStatus{m} }})
	r.Register(&Type{Name: "Offer", Message: wire.FullName(wire.Offer),
		New: func(m *MessageProxy) Proxy { return &Offer{m} }})
}

func resourceType(name string, kind resources.Kind, mk func(*Resource) Proxy) *Type {
	return &Type{
		Name:     name,
		Message:  wire.FullName(wire.Resource),
		Template: record.FromMap(map[string]any{"name": string(kind)}),
		New:      func(m *MessageProxy) Proxy { return mk(&Resource{m}) },
	}
}
