package analysis

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/warden/internal/object"
)

// Context is the read-only view of an object handed to an analyzer. It is
// built once per triage run and never persisted.
type Context interface {
	ObjectType() object.Type
	ObjectID() string
	User() string
	Attributes() map[string]any
}

// FileContext is built for checksum-identified objects (Certificate, PCAP,
// Sample) and carries the caller-supplied content.
type FileContext struct {
	Type  object.Type
	Actor string
	ID    string
	Data  []byte
	MD5   string
	Attrs map[string]any
}

func (c *FileContext) ObjectType() object.Type    { return c.Type }
func (c *FileContext) ObjectID() string           { return c.ID }
func (c *FileContext) User() string               { return c.Actor }
func (c *FileContext) Attributes() map[string]any { return c.Attrs }

// ObjectContext is built for id-identified objects (Domain, Event,
// Indicator, IP, RawData).
type ObjectContext struct {
	Type  object.Type
	Actor string
	ID    string
	Attrs map[string]any
}

func (c *ObjectContext) ObjectType() object.Type    { return c.Type }
func (c *ObjectContext) ObjectID() string           { return c.ID }
func (c *ObjectContext) User() string               { return c.Actor }
func (c *ObjectContext) Attributes() map[string]any { return c.Attrs }

type contextBuilder func(user string, data []byte, obj *object.Object, attrs map[string]any) Context

func fileContext(user string, data []byte, obj *object.Object, attrs map[string]any) Context {
	return &FileContext{Type: obj.Type, Actor: user, ID: obj.ID, Data: data, MD5: obj.MD5, Attrs: attrs}
}

func objectContext(user string, _ []byte, obj *object.Object, attrs map[string]any) Context {
	return &ObjectContext{Type: obj.Type, Actor: user, ID: obj.ID, Attrs: attrs}
}

var contextBuilders = map[object.Type]contextBuilder{
	object.TypeCertificate: fileContext,
	object.TypeDomain:      objectContext,
	object.TypeEvent:       objectContext,
	object.TypeIndicator:   objectContext,
	object.TypeIP:          objectContext,
	object.TypePCAP:        fileContext,
	object.TypeRawData:     objectContext,
	object.TypeSample:      fileContext,
}

// BuildContext creates the type-specific Context for obj. data is only kept
// for checksum-identified types. The attribute snapshot is a deep copy.
func BuildContext(user string, data []byte, obj *object.Object) (Context, error) {
	if obj == nil {
		return nil, errors.New("build context: nil object")
	}
	build, ok := contextBuilders[obj.Type]
	if !ok {
		return nil, fmt.Errorf("build context for %q: %w", obj.Type, ErrUnsupportedType)
	}
	attrs, err := obj.Attributes()
	if err != nil {
		return nil, fmt.Errorf("snapshot %s %s: %w", obj.Type, obj.ID, err)
	}
	if data != nil {
		data = append([]byte(nil), data...)
	}
	return build(user, data, obj, attrs), nil
}
