package mock

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ToDict converts a populated message into a generic map[string]any, the
// shape templates and logs operate on (§4.7 step 2: "Convert each to a
// dict form for templates and logs").
func ToDict(msg protoreflect.Message) map[string]any {
	out := make(map[string]any)
	msg.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		out[string(fd.Name())] = valueToAny(fd, v)
		return true
	})
	return out
}

func valueToAny(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.IsMap() {
		entries := make(map[string]any)
		v.Map().Range(func(mk protoreflect.MapKey, mv protoreflect.Value) bool {
			entries[mk.String()] = scalarToAny(fd.MapValue(), mv)
			return true
		})
		return entries
	}
	if fd.IsList() {
		list := v.List()
		out := make([]any, list.Len())
		for i := 0; i < list.Len(); i++ {
			out[i] = scalarToAny(fd, list.Get(i))
		}
		return out
	}
	return scalarToAny(fd, v)
}

func scalarToAny(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return ToDict(v.Message())
	case protoreflect.EnumKind:
		ed := fd.Enum()
		if ev := ed.Values().ByNumber(v.Enum()); ev != nil {
			return string(ev.Name())
		}
		return int32(v.Enum())
	case protoreflect.BytesKind:
		b := v.Bytes()
		out := make([]byte, len(b))
		copy(out, b)
		return out
	default:
		return v.Interface()
	}
}

// FromDict is the reverse of ToDict for callers that already have a
// generic tree and need a real message — used when overlaying an upstream
// proxy response before the merge rule runs.
func FromDict(m *Materializer, desc protoreflect.MessageDescriptor, tree map[string]any) protoreflect.ProtoMessage {
	return m.Build(desc, tree).Interface()
}
