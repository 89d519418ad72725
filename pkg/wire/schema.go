package wire

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
)

func field(name string, num int32, typ fieldType, typeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  label.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String("." + Package + "." + typeName)
	}
	return f
}

func scalar(name string, num int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return field(name, num, typ, "", false)
}

func msg(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return field(name, num, tMessage, typeName, false)
}

func repeatedMsg(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return field(name, num, tMessage, typeName, true)
}

func enumField(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return field(name, num, tEnum, typeName, false)
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

type enumValue struct {
	name string
	num  int32
}

func enum(name string, values ...enumValue) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for _, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v.name),
			Number: proto.Int32(v.num),
		})
	}
	return e
}

func idMessage(name string) *descriptorpb.DescriptorProto {
	return message(name, scalar("value", 1, tString))
}

// schema describes the subset of the Mesos v1 protocol the scheduler speaks.
// Field numbers follow mesos.proto so encoded bytes are compatible.
func schema() *descriptorpb.FileDescriptorProto {
	value := message("Value",
		enumField("type", 1, "Value.Type"),
		msg("scalar", 2, "Value.Scalar"),
		msg("text", 5, "Value.Text"),
	)
	value.EnumType = []*descriptorpb.EnumDescriptorProto{
		enum("Type", enumValue{"SCALAR", 0}, enumValue{"RANGES", 1}, enumValue{"SET", 2}, enumValue{"TEXT", 3}),
	}
	value.NestedType = []*descriptorpb.DescriptorProto{
		message("Scalar", scalar("value", 1, tDouble)),
		message("Text", scalar("value", 1, tString)),
	}

	docker := message("DockerInfo",
		scalar("image", 1, tString),
		enumField("network", 2, "ContainerInfo.DockerInfo.Network"),
		scalar("force_pull_image", 6, tBool),
	)
	docker.EnumType = []*descriptorpb.EnumDescriptorProto{
		enum("Network", enumValue{"HOST", 1}, enumValue{"BRIDGE", 2}, enumValue{"NONE", 3}),
	}
	container := message("ContainerInfo",
		enumField("type", 1, "ContainerInfo.Type"),
		msg("docker", 3, "ContainerInfo.DockerInfo"),
		scalar("hostname", 4, tString),
	)
	container.EnumType = []*descriptorpb.EnumDescriptorProto{
		enum("Type", enumValue{"DOCKER", 1}, enumValue{"MESOS", 2}),
	}
	container.NestedType = []*descriptorpb.DescriptorProto{docker}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("quiver/mesos.proto"),
		Package: proto.String(Package),
		Syntax:  proto.String("proto2"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enum("TaskState",
				enumValue{"TASK_STARTING", 0},
				enumValue{"TASK_RUNNING", 1},
				enumValue{"TASK_FINISHED", 2},
				enumValue{"TASK_FAILED", 3},
				enumValue{"TASK_KILLED", 4},
				enumValue{"TASK_LOST", 5},
				enumValue{"TASK_STAGING", 6},
				enumValue{"TASK_ERROR", 7},
			),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			idMessage("FrameworkID"),
			idMessage("OfferID"),
			idMessage("SlaveID"),
			idMessage("TaskID"),
			idMessage("ExecutorID"),
			message("Label",
				scalar("key", 1, tString),
				scalar("value", 2, tString),
			),
			message("Labels",
				repeatedMsg("labels", 1, "Label"),
			),
			message("FrameworkInfo",
				scalar("user", 1, tString),
				scalar("name", 2, tString),
				msg("id", 3, "FrameworkID"),
				scalar("failover_timeout", 4, tDouble),
				scalar("checkpoint", 5, tBool),
				scalar("role", 6, tString),
				scalar("hostname", 7, tString),
				scalar("principal", 8, tString),
				msg("labels", 11, "Labels"),
			),
			value,
			message("Resource",
				scalar("name", 1, tString),
				enumField("type", 2, "Value.Type"),
				msg("scalar", 3, "Value.Scalar"),
				scalar("role", 6, tString),
			),
			message("CommandInfo",
				scalar("value", 3, tString),
				scalar("user", 5, tString),
				scalar("shell", 6, tBool),
				field("arguments", 7, tString, "", true),
			),
			container,
			message("ExecutorInfo",
				msg("executor_id", 1, "ExecutorID"),
				scalar("data", 4, tBytes),
				repeatedMsg("resources", 5, "Resource"),
				msg("command", 7, "CommandInfo"),
				msg("framework_id", 8, "FrameworkID"),
				scalar("name", 9, tString),
				scalar("source", 10, tString),
				msg("container", 11, "ContainerInfo"),
			),
			message("TaskInfo",
				scalar("name", 1, tString),
				msg("task_id", 2, "TaskID"),
				msg("slave_id", 3, "SlaveID"),
				repeatedMsg("resources", 4, "Resource"),
				msg("executor", 5, "ExecutorInfo"),
				scalar("data", 6, tBytes),
				msg("command", 7, "CommandInfo"),
				msg("container", 9, "ContainerInfo"),
				msg("labels", 10, "Labels"),
			),
			message("TaskStatus",
				msg("task_id", 1, "TaskID"),
				enumField("state", 2, "TaskState"),
				scalar("data", 3, tBytes),
				scalar("message", 4, tString),
				msg("slave_id", 5, "SlaveID"),
				scalar("timestamp", 6, tDouble),
				msg("executor_id", 7, "ExecutorID"),
				scalar("healthy", 8, tBool),
				scalar("uuid", 11, tBytes),
				msg("labels", 12, "Labels"),
			),
			message("Offer",
				msg("id", 1, "OfferID"),
				msg("framework_id", 2, "FrameworkID"),
				msg("slave_id", 3, "SlaveID"),
				scalar("hostname", 4, tString),
				repeatedMsg("resources", 5, "Resource"),
				repeatedMsg("executor_ids", 6, "ExecutorID"),
			),
			message("Filters",
				scalar("refuse_seconds", 1, tDouble),
			),
		},
	}
}
