// Package idl compiles protocol-buffer IDL files into a descriptor pool and
// a flattened structural summary used by the rest of cap-grpc.
package idl

// ProtoType enumerates the wire-level primitive/compound kinds a
// MessageField may carry, mirroring protobuf's own field kinds.
type ProtoType int

const (
	TypeUnknown ProtoType = iota
	TypeDouble
	TypeFloat
	TypeInt64
	TypeUint64
	TypeInt32
	TypeFixed64
	TypeFixed32
	TypeBool
	TypeString
	TypeGroup
	TypeMessage
	TypeBytes
	TypeUint32
	TypeEnum
	TypeSfixed32
	TypeSfixed64
	TypeSint32
	TypeSint64
)

func (t ProtoType) String() string {
	names := [...]string{
		"unknown", "double", "float", "int64", "uint64", "int32", "fixed64",
		"fixed32", "bool", "string", "group", "message", "bytes", "uint32",
		"enum", "sfixed32", "sfixed64", "sint32", "sint64",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return "unknown"
	}
	return names[t]
}

// Label mirrors a field's cardinality.
type Label int

const (
	LabelOptional Label = iota
	LabelRepeated
	LabelRequired
)

// MessageField describes one field of a MessageData.
type MessageField struct {
	Name        string
	Number      int32
	Label       Label
	SimpleType  ProtoType
	MessageType string // fully-qualified name, when SimpleType == TypeMessage or TypeGroup
	EnumType    string // fully-qualified name, when SimpleType == TypeEnum
	Default     any
	IsMap       bool
}

// MessageData describes one message type, possibly nested.
type MessageData struct {
	Name           string
	FullName       string
	ParentMessage  string // empty if top-level
	NestedMessages []string
	NestedEnums    []string
	IsMap          bool
	Fields         []MessageField
}

// EnumValue is one declared value of an EnumData.
type EnumValue struct {
	Name   string
	Number int32
}

// EnumData describes one enum type, possibly nested.
type EnumData struct {
	Name          string
	FullName      string
	ParentMessage string
	Fields        []EnumValue
}

// EndpointMessage describes one side (input or output) of a MethodData.
type EndpointMessage struct {
	Name      string // fully-qualified message name
	Streaming bool
}

// MethodData describes one RPC method of a service.
type MethodData struct {
	Name          string
	InputMessage  EndpointMessage
	OutputMessage EndpointMessage
}

// ServiceData describes one service and its methods.
type ServiceData struct {
	Name     string
	FullName string
	Methods  []MethodData
}

// ProtoFileStructure is the merged structural summary produced by
// compiling a set of IDL files: every message, service, and enum
// discovered, keyed by fully-qualified name.
type ProtoFileStructure struct {
	Package  string
	Messages map[string]*MessageData
	Services map[string]*ServiceData
	Enums    map[string]*EnumData
}

func newProtoFileStructure() *ProtoFileStructure {
	return &ProtoFileStructure{
		Messages: make(map[string]*MessageData),
		Services: make(map[string]*ServiceData),
		Enums:    make(map[string]*EnumData),
	}
}

// isMapEntryName reports whether the given unqualified message name could
// be a synthesized map-entry message, per the "ends with Entry" heuristic
// (§3: a message with name ending "Entry" and exactly two fields named
// key and value is flagged is_map).
func isMapEntryName(name string) bool {
	const suffix = "Entry"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}

// isMapEntryFields reports whether fields is exactly {key, value}.
func isMapEntryFields(fields []MessageField) bool {
	if len(fields) != 2 {
		return false
	}
	var hasKey, hasValue bool
	for _, f := range fields {
		switch f.Name {
		case "key":
			hasKey = true
		case "value":
			hasValue = true
		}
	}
	return hasKey && hasValue
}
