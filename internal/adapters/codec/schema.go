package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	schemaFile         = "avatar/streaming.proto"
	schemaPackage      = "avatar.streaming"
	DefaultMessageName = schemaPackage + ".StreamingFrame"
)

// builtinSchema describes the control-socket frame:
//
//	message AudioSegment   { bytes audio = 1; }
//	message TextSegment    { string text = 1; }
//	message StreamingFrame { oneof payload { AudioSegment audio = 1; TextSegment text = 2; } }
func builtinSchema() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(schemaFile),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("AudioSegment"),
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:     proto.String("audio"),
					JsonName: proto.String("audio"),
					Number:   proto.Int32(1),
					Label:    optional,
					Type:     descriptorpb.FieldDescriptorProto_TYPE_BYTES.Enum(),
				}},
			},
			{
				Name: proto.String("TextSegment"),
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:     proto.String("text"),
					JsonName: proto.String("text"),
					Number:   proto.Int32(1),
					Label:    optional,
					Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
				}},
			},
			{
				Name: proto.String("StreamingFrame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:       proto.String("audio"),
						JsonName:   proto.String("audio"),
						Number:     proto.Int32(1),
						Label:      optional,
						Type:       descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName:   proto.String("." + schemaPackage + ".AudioSegment"),
						OneofIndex: proto.Int32(0),
					},
					{
						Name:       proto.String("text"),
						JsonName:   proto.String("text"),
						Number:     proto.Int32(2),
						Label:      optional,
						Type:       descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName:   proto.String("." + schemaPackage + ".TextSegment"),
						OneofIndex: proto.Int32(0),
					},
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: proto.String("payload")}},
			},
		},
	}
}
