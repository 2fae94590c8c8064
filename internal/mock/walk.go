package mock

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Materializer walks a target message descriptor jointly with a rendered
// mock tree, producing a fully-populated *dynamicpb.Message (§4.4 "Message
// walk"). Grounded on goja-protobuf/conversion.go's jsObjectToMessage/
// gojaToProtoValue/setRepeatedFromGoja/setMapFromGoja family, generalized
// from a goja.Value source to a plain `any` source.
type Materializer struct {
	Logger *zerolog.Logger
}

func (m *Materializer) logWarn(field string, msg string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn().Str("field", field).Msg(msg)
}

// Build constructs a new message of desc's type from tree (normally a
// map[string]any, the output of Resolver.Resolve's per-message dict).
func (m *Materializer) Build(desc protoreflect.MessageDescriptor, tree map[string]any) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(desc)
	fields := desc.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		raw, present := tree[string(fd.Name())]
		m.setField(msg, fd, raw, present)
	}
	return msg
}

func (m *Materializer) setField(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, raw any, present bool) {
	label := labelOf(fd)

	if label == labelOptional && !present {
		// §4.4: OPTIONAL absent mock value -> omit field entirely.
		return
	}

	if fd.IsMap() {
		m.setMap(msg, fd, raw)
		return
	}

	if fd.IsList() {
		m.setList(msg, fd, raw, present)
		return
	}

	val, ok := m.scalarValue(fd, raw, present)
	if !ok {
		return
	}
	msg.Set(fd, val)
}

type fieldLabel int

const (
	labelOptional fieldLabel = iota
	labelRepeated
	labelRequired
)

func labelOf(fd protoreflect.FieldDescriptor) fieldLabel {
	switch {
	case fd.IsList():
		return labelRepeated
	case fd.Cardinality() == protoreflect.Required:
		return labelRequired
	default:
		return labelOptional
	}
}

// setList sets a repeated field. A non-list mock value is treated as a
// single-element list (§4.4, §8 invariant 3); an absent value yields an
// empty list (the natural zero value of an unset dynamicpb list).
func (m *Materializer) setList(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, raw any, present bool) {
	if !present || raw == nil {
		return
	}
	var elems []any
	if arr, ok := raw.([]any); ok {
		elems = arr
	} else {
		elems = []any{raw}
	}

	list := msg.Mutable(fd).List()
	for _, elem := range elems {
		if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind {
			sub, ok := elem.(map[string]any)
			if !ok {
				m.logWarn(string(fd.Name()), "repeated message element is not a mapping, skipping")
				continue
			}
			subMsg := m.Build(fd.Message(), sub)
			list.Append(protoreflect.ValueOfMessage(subMsg.ProtoReflect()))
			continue
		}
		val, ok := m.scalarValue(fd, elem, true)
		if !ok {
			continue
		}
		list.Append(val)
	}
}

// setMap sets a map field from a mock tree shaped as either a
// map[string]any (key -> value) directly, matching the common YAML
// representation of a proto map.
func (m *Materializer) setMap(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, raw any) {
	entries, ok := raw.(map[string]any)
	if !ok {
		return
	}
	keyDesc := fd.MapKey()
	valDesc := fd.MapValue()
	protoMap := msg.Mutable(fd).Map()

	for k, v := range entries {
		mk, ok := m.mapKey(keyDesc, k)
		if !ok {
			continue
		}
		if valDesc.Kind() == protoreflect.MessageKind || valDesc.Kind() == protoreflect.GroupKind {
			sub, ok := v.(map[string]any)
			if !ok {
				continue
			}
			subMsg := m.Build(valDesc.Message(), sub)
			protoMap.Set(mk, protoreflect.ValueOfMessage(subMsg.ProtoReflect()))
			continue
		}
		val, ok := m.scalarValue(valDesc, v, true)
		if !ok {
			continue
		}
		protoMap.Set(mk, val)
	}
}

func (m *Materializer) mapKey(keyDesc protoreflect.FieldDescriptor, k string) (protoreflect.MapKey, bool) {
	switch keyDesc.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(k).MapKey(), true
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(k == "true").MapKey(), true
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return protoreflect.MapKey{}, false
		}
		return protoreflect.ValueOfInt32(int32(n)).MapKey(), true
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return protoreflect.MapKey{}, false
		}
		return protoreflect.ValueOfInt64(n).MapKey(), true
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return protoreflect.MapKey{}, false
		}
		return protoreflect.ValueOfUint32(uint32(n)).MapKey(), true
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return protoreflect.MapKey{}, false
		}
		return protoreflect.ValueOfUint64(n).MapKey(), true
	default:
		return protoreflect.MapKey{}, false
	}
}

// scalarValue resolves one scalar field's value, honoring enum fallback
// (§8 invariant 4), message recursion, and render-then-cast primitive
// coercion (§4.4 step 3) with the type-appropriate default when raw is
// absent and the field has no explicit descriptor default.
func (m *Materializer) scalarValue(fd protoreflect.FieldDescriptor, raw any, present bool) (protoreflect.Value, bool) {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		sub, ok := raw.(map[string]any)
		if !present || !ok {
			if labelOf(fd) == labelRequired {
				// Resolved Open Question: REQUIRED fields always emit the
				// type's zero value rather than being omitted.
				sub = map[string]any{}
			} else {
				return protoreflect.Value{}, false
			}
		}
		subMsg := m.Build(fd.Message(), sub)
		return protoreflect.ValueOfMessage(subMsg.ProtoReflect()), true

	case protoreflect.EnumKind:
		return m.enumValue(fd, raw, present), true

	default:
		return m.primitiveValue(fd, raw, present), true
	}
}

func (m *Materializer) enumValue(fd protoreflect.FieldDescriptor, raw any, present bool) protoreflect.Value {
	ed := fd.Enum()
	if present {
		switch v := raw.(type) {
		case string:
			if ev := ed.Values().ByName(protoreflect.Name(v)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number())
			}
		case int:
			if ev := ed.Values().ByNumber(protoreflect.EnumNumber(v)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number())
			}
		case int64:
			if ev := ed.Values().ByNumber(protoreflect.EnumNumber(v)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number())
			}
		case float64:
			if ev := ed.Values().ByNumber(protoreflect.EnumNumber(int32(v))); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number())
			}
		}
		m.logWarn(string(fd.Name()), fmt.Sprintf("unmatched enum mock value %v, falling back to first declared value", raw))
	}
	// Absent/unmatched -> first declared value (§8 invariant 4).
	return protoreflect.ValueOfEnum(ed.Values().Get(0).Number())
}

// primitiveValue implements render-then-cast: raw is stringified and an
// attempt is made to cast it into the field's Go representation; on
// failure, the field's type-appropriate zero value is returned instead
// (logging a cast-failed warning), per §4.4 step 3. When raw is entirely
// absent, the field's declared default (or zero value, if none) is used.
func (m *Materializer) primitiveValue(fd protoreflect.FieldDescriptor, raw any, present bool) protoreflect.Value {
	if !present || raw == nil {
		if fd.HasDefault() {
			return fd.Default()
		}
		return zeroValue(fd.Kind())
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		if b, ok := raw.(bool); ok {
			return protoreflect.ValueOfBool(b)
		}
		if b, err := strconv.ParseBool(fmt.Sprint(raw)); err == nil {
			return protoreflect.ValueOfBool(b)
		}
		m.castFailed(fd, raw)
		return zeroValue(fd.Kind())

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, ok := toInt64(raw)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			m.castFailed(fd, raw)
			return zeroValue(fd.Kind())
		}
		return protoreflect.ValueOfInt32(int32(n))

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, ok := toInt64(raw)
		if !ok {
			m.castFailed(fd, raw)
			return zeroValue(fd.Kind())
		}
		return protoreflect.ValueOfInt64(n)

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, ok := toUint64(raw)
		if !ok || n > math.MaxUint32 {
			m.castFailed(fd, raw)
			return zeroValue(fd.Kind())
		}
		return protoreflect.ValueOfUint32(uint32(n))

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, ok := toUint64(raw)
		if !ok {
			m.castFailed(fd, raw)
			return zeroValue(fd.Kind())
		}
		return protoreflect.ValueOfUint64(n)

	case protoreflect.FloatKind:
		f, ok := toFloat64(raw)
		if !ok {
			m.castFailed(fd, raw)
			return zeroValue(fd.Kind())
		}
		return protoreflect.ValueOfFloat32(float32(f))

	case protoreflect.DoubleKind:
		f, ok := toFloat64(raw)
		if !ok {
			m.castFailed(fd, raw)
			return zeroValue(fd.Kind())
		}
		return protoreflect.ValueOfFloat64(f)

	case protoreflect.StringKind:
		return protoreflect.ValueOfString(fmt.Sprint(raw))

	case protoreflect.BytesKind:
		if b, ok := raw.([]byte); ok {
			return protoreflect.ValueOfBytes(b)
		}
		return protoreflect.ValueOfBytes([]byte(fmt.Sprint(raw)))

	default:
		return zeroValue(fd.Kind())
	}
}

func (m *Materializer) castFailed(fd protoreflect.FieldDescriptor, raw any) {
	m.logWarn(string(fd.Name()), fmt.Sprintf("could not coerce mock value %v (%T) to %s, using default", raw, raw, fd.Kind()))
}

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toUint64(raw any) (uint64, bool) {
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// zeroValue returns the §4.4 default for a primitive kind when no mock
// value and no descriptor default are available: numerics -> 0, bool ->
// false, string -> "", bytes -> empty.
func zeroValue(k protoreflect.Kind) protoreflect.Value {
	switch k {
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(false)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(0)
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return protoreflect.ValueOfInt64(0)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(0)
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(0)
	case protoreflect.FloatKind:
		return protoreflect.ValueOfFloat32(0)
	case protoreflect.DoubleKind:
		return protoreflect.ValueOfFloat64(0)
	case protoreflect.StringKind:
		return protoreflect.ValueOfString("")
	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes(nil)
	default:
		return protoreflect.Value{}
	}
}
