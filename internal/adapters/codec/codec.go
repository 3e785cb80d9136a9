// Package codec encodes outbound control-socket frames with a protobuf schema
// that is resolved once, on first Load.
package codec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

var ErrNotLoaded = errors.New("frame schema not loaded")

type Options struct {
	// SchemaPath points at a compiled FileDescriptorSet (protoc -o). Empty means built-in.
	SchemaPath string
	// MessageName is the full name of the frame message.
	MessageName string
}

// Codec implements core.FrameCodec.
type Codec struct {
	opts Options

	once  sync.Once
	err   error
	ready atomic.Bool
	frame protoreflect.MessageDescriptor
	audio protoreflect.FieldDescriptor
	text  protoreflect.FieldDescriptor
}

func New(opts Options) *Codec {
	if opts.MessageName == "" {
		opts.MessageName = DefaultMessageName
	}
	return &Codec{opts: opts}
}

// Load resolves the schema. Only the first call does work; later calls
// return the first result.
func (c *Codec) Load(_ context.Context) error {
	c.once.Do(func() {
		c.err = c.load()
		if c.err != nil {
			log.Error().Err(c.err).Str("module", "adapters.codec").Msg("schema load failed")
			return
		}
		log.Info().Str("module", "adapters.codec").Str("message", c.opts.MessageName).Msg("schema loaded")
	})
	return c.err
}

func (c *Codec) Loaded() bool {
	return c.ready.Load()
}

func (c *Codec) load() error {
	files, err := c.resolveFiles()
	if err != nil {
		return err
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(c.opts.MessageName))
	if err != nil {
		return fmt.Errorf("find %s: %w", c.opts.MessageName, err)
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return fmt.Errorf("%s is not a message", c.opts.MessageName)
	}
	audio := md.Fields().ByName("audio")
	text := md.Fields().ByName("text")
	if audio == nil || text == nil || audio.Message() == nil || text.Message() == nil {
		return fmt.Errorf("%s lacks audio/text message fields", c.opts.MessageName)
	}
	c.frame, c.audio, c.text = md, audio, text
	c.ready.Store(true)
	return nil
}

func (c *Codec) resolveFiles() (*protoregistry.Files, error) {
	if c.opts.SchemaPath == "" {
		fd, err := protodesc.NewFile(builtinSchema(), new(protoregistry.Files))
		if err != nil {
			return nil, fmt.Errorf("build schema: %w", err)
		}
		files := new(protoregistry.Files)
		if err := files.RegisterFile(fd); err != nil {
			return nil, fmt.Errorf("register schema: %w", err)
		}
		return files, nil
	}

	raw, err := os.ReadFile(c.opts.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", c.opts.SchemaPath, err)
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", c.opts.SchemaPath, err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", c.opts.SchemaPath, err)
	}
	return files, nil
}

// Encode serializes f. It fails with ErrNotLoaded before a successful Load.
func (c *Codec) Encode(f domain.OutboundFrame) (core.Frame, error) {
	if !c.Loaded() {
		return nil, ErrNotLoaded
	}
	msg := dynamicpb.NewMessage(c.frame)
	switch v := f.(type) {
	case domain.AudioChunk:
		msg.Set(c.audio, protoreflect.ValueOfMessage(segment(c.audio, protoreflect.ValueOfBytes(v.PCM))))
	case domain.SpeakText:
		msg.Set(c.text, protoreflect.ValueOfMessage(segment(c.text, protoreflect.ValueOfString(v.Text))))
	default:
		return nil, fmt.Errorf("unsupported frame %T", f)
	}
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return core.Frame(b), nil
}

// segment builds the inner message of field, setting its first field to v.
func segment(field protoreflect.FieldDescriptor, v protoreflect.Value) *dynamicpb.Message {
	inner := dynamicpb.NewMessage(field.Message())
	inner.Set(field.Message().Fields().Get(0), v)
	return inner
}
