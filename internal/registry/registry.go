// Package registry implements the Type Registry (C2): given a compiled
// descriptor pool, it resolves fully-qualified message/enum names into
// constructors and accessors, and exposes the merged structural summary
// for read access. Grounded on goja-protobuf's types.go/module.go resolver
// pattern (findMessageDescriptor/findEnumDescriptor backed by a
// protoregistry.Types), generalized from goja constructor functions to
// plain Go constructors/accessors.
package registry

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/DmitroKihtenko/cap-grpc/internal/idl"
	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
)

// MessageCtor builds a new, empty dynamic message of a resolved type.
type MessageCtor func() *dynamicpb.Message

// EnumAccessor exposes name/number lookups for a resolved enum type.
type EnumAccessor struct {
	desc protoreflect.EnumDescriptor
}

// ByName returns the numeric value for a declared enum value name, and
// whether it was found.
func (a EnumAccessor) ByName(name string) (int32, bool) {
	v := a.desc.Values().ByName(protoreflect.Name(name))
	if v == nil {
		return 0, false
	}
	return int32(v.Number()), true
}

// ByNumber returns the declared name for a numeric enum value, and whether
// it was found.
func (a EnumAccessor) ByNumber(n int32) (string, bool) {
	v := a.desc.Values().ByNumber(protoreflect.EnumNumber(n))
	if v == nil {
		return "", false
	}
	return string(v.Name()), true
}

// First returns the name of the first declared enum value (§3, §4.4, §8
// invariant 4: absent/unmatched enum mock falls back to the first declared
// value).
func (a EnumAccessor) First() (name string, number int32) {
	v := a.desc.Values().Get(0)
	return string(v.Name()), int32(v.Number())
}

// Descriptor exposes the underlying protoreflect.EnumDescriptor.
func (a EnumAccessor) Descriptor() protoreflect.EnumDescriptor { return a.desc }

// Registry resolves fully-qualified names against a compiled descriptor
// pool. It is safe for concurrent reads after construction (§4.2): every
// field is populated once in New and never mutated afterward.
type Registry struct {
	types     *protoregistry.Types
	files     *protoregistry.Files
	structure *idl.ProtoFileStructure
}

// New builds a Registry over the given compiled pool.
func New(files *protoregistry.Files, types *protoregistry.Types, structure *idl.ProtoFileStructure) *Registry {
	return &Registry{types: types, files: files, structure: structure}
}

// Structure returns the merged ProtoFileStructure for read access.
func (r *Registry) Structure() *idl.ProtoFileStructure { return r.structure }

// Files returns the underlying descriptor file registry, e.g. for wiring
// reflection's DescriptorResolver.
func (r *Registry) Files() *protoregistry.Files { return r.files }

// GetMessageType resolves a fully-qualified message name to a constructor.
// Fails with a KindDescriptorNotFound error when absent.
func (r *Registry) GetMessageType(fqn string) (MessageCtor, error) {
	desc, err := r.findMessageDescriptor(fqn)
	if err != nil {
		return nil, err
	}
	return func() *dynamicpb.Message {
		return dynamicpb.NewMessage(desc)
	}, nil
}

// MessageDescriptor resolves a fully-qualified message name directly to its
// protoreflect.MessageDescriptor.
func (r *Registry) MessageDescriptor(fqn string) (protoreflect.MessageDescriptor, error) {
	return r.findMessageDescriptor(fqn)
}

// GetEnumType resolves a fully-qualified enum name to an EnumAccessor.
// Fails with a KindDescriptorNotFound error when absent.
func (r *Registry) GetEnumType(fqn string) (EnumAccessor, error) {
	desc, err := r.findEnumDescriptor(fqn)
	if err != nil {
		return EnumAccessor{}, err
	}
	return EnumAccessor{desc: desc}, nil
}

func (r *Registry) findMessageDescriptor(fqn string) (protoreflect.MessageDescriptor, error) {
	mt, err := r.types.FindMessageByName(protoreflect.FullName(fqn))
	if err == nil {
		return mt.Descriptor(), nil
	}
	desc, ferr := r.files.FindDescriptorByName(protoreflect.FullName(fqn))
	if ferr == nil {
		if md, ok := desc.(protoreflect.MessageDescriptor); ok {
			return md, nil
		}
	}
	return nil, mockerr.Newf(mockerr.KindDescriptorNotFound, "GetMessageType",
		"unknown message type %q: %w", fqn, err)
}

func (r *Registry) findEnumDescriptor(fqn string) (protoreflect.EnumDescriptor, error) {
	et, err := r.types.FindEnumByName(protoreflect.FullName(fqn))
	if err == nil {
		return et.Descriptor(), nil
	}
	desc, ferr := r.files.FindDescriptorByName(protoreflect.FullName(fqn))
	if ferr == nil {
		if ed, ok := desc.(protoreflect.EnumDescriptor); ok {
			return ed, nil
		}
	}
	return nil, mockerr.Newf(mockerr.KindDescriptorNotFound, "GetEnumType",
		"unknown enum type %q: %w", fqn, err)
}

// ResolveMethod looks up the MethodData for a service/method pair from the
// structural summary.
func (r *Registry) ResolveMethod(serviceFQN, method string) (*idl.MethodData, error) {
	svc, ok := r.structure.Services[serviceFQN]
	if !ok {
		return nil, mockerr.Newf(mockerr.KindDescriptorNotFound, "ResolveMethod",
			"unknown service %q", serviceFQN)
	}
	for i := range svc.Methods {
		if svc.Methods[i].Name == method {
			return &svc.Methods[i], nil
		}
	}
	return nil, mockerr.Newf(mockerr.KindDescriptorNotFound, "ResolveMethod",
		"unknown method %q on service %q", method, serviceFQN)
}
