package idl

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
)

// Pool is the result of compiling a set of IDL files: the live descriptor
// registries (read-only after construction, per §5) plus the flattened
// structural summary used for mock materialization.
type Pool struct {
	Files     *protoregistry.Files
	Types     *protoregistry.Types
	Structure *ProtoFileStructure
}

// CompileOptions configures one IDL compilation pass.
type CompileOptions struct {
	// ProtoFiles is the set of .proto files to compile, as paths relative
	// to BaseDir (or absolute).
	ProtoFiles []string
	// BaseDir is the import root passed to the IDL compiler toolchain as
	// -I, and the directory proto file paths are resolved against.
	BaseDir string
	// ProtocPath overrides the protoc binary name/path; defaults to "protoc".
	ProtocPath string
}

// Compile writes a combined binary descriptor set to a scratch directory by
// invoking the standard IDL compiler toolchain (protoc), then loads it into
// an in-memory descriptor pool and derives a ProtoFileStructure summary.
//
// The scratch directory is always removed before Compile returns, on every
// exit path (§9 "Global scratch directory").
func Compile(opts CompileOptions) (*Pool, error) {
	if len(opts.ProtoFiles) == 0 {
		return nil, mockerr.Newf(mockerr.KindProtoCompile, "compile", "no proto files given")
	}

	scratchDir, err := os.MkdirTemp("", "cap-grpc-idl-*")
	if err != nil {
		return nil, mockerr.New(mockerr.KindProtoCompile, "mkdir scratch", err)
	}
	defer os.RemoveAll(scratchDir)

	descSetPath := filepath.Join(scratchDir, "descriptor_set.pb")

	protoc := opts.ProtocPath
	if protoc == "" {
		protoc = "protoc"
	}

	args := []string{
		"-I", opts.BaseDir,
		"--include_imports",
		"--descriptor_set_out=" + descSetPath,
	}
	args = append(args, opts.ProtoFiles...)

	cmd := exec.Command(protoc, args...)
	cmd.Dir = opts.BaseDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, mockerr.Newf(mockerr.KindProtoCompile, "protoc",
			"protoc exited with error: %v: %s", err, string(output))
	}

	raw, err := os.ReadFile(descSetPath)
	if err != nil {
		return nil, mockerr.New(mockerr.KindProtoCompile, "read descriptor set", err)
	}

	var fdSet descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &fdSet); err != nil {
		return nil, mockerr.New(mockerr.KindProtoCompile, "unmarshal descriptor set", err)
	}

	return buildPool(&fdSet)
}

// buildPool registers every FileDescriptorProto in topological order (every
// file's dependencies must already be registered) and derives the merged
// ProtoFileStructure.
func buildPool(fdSet *descriptorpb.FileDescriptorSet) (*Pool, error) {
	files := new(protoregistry.Files)
	types := new(protoregistry.Types)

	byName := make(map[string]*descriptorpb.FileDescriptorProto, len(fdSet.File))
	for _, fdp := range fdSet.File {
		byName[fdp.GetName()] = fdp
	}

	registered := make(map[string]protoreflect.FileDescriptor, len(fdSet.File))
	var registerFile func(name string) (protoreflect.FileDescriptor, error)
	registerFile = func(name string) (protoreflect.FileDescriptor, error) {
		if fd, ok := registered[name]; ok {
			return fd, nil
		}
		fdp, ok := byName[name]
		if !ok {
			if fd, err := files.FindFileByPath(name); err == nil {
				registered[name] = fd
				return fd, nil
			}
			return nil, mockerr.Newf(mockerr.KindDescriptorNotFound, "registerFile",
				"descriptor not found for imported file %q", name)
		}
		for _, dep := range fdp.GetDependency() {
			if _, err := registerFile(dep); err != nil {
				return nil, err
			}
		}
		fd, err := protodesc.NewFile(fdp, files)
		if err != nil {
			return nil, mockerr.New(mockerr.KindProtoCompile, "protodesc.NewFile", err)
		}
		if err := files.RegisterFile(fd); err != nil {
			return nil, mockerr.New(mockerr.KindProtoCompile, "RegisterFile", err)
		}
		registered[name] = fd
		if err := registerTypes(types, fd); err != nil {
			return nil, err
		}
		return fd, nil
	}

	// Deterministic order over the top-level fdSet.File, for reproducible
	// diagnostics; dependencies pull in ahead of their dependents regardless.
	names := make([]string, 0, len(fdSet.File))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := registerFile(name); err != nil {
			return nil, err
		}
	}

	structure, err := summarize(files, names)
	if err != nil {
		return nil, err
	}

	return &Pool{Files: files, Types: types, Structure: structure}, nil
}

// registerTypes registers every message and enum in fd (recursing into
// nested messages) as dynamic message/enum types, giving the type registry
// (C2) constructors for every fully-qualified name without generated code.
func registerTypes(types *protoregistry.Types, fd protoreflect.FileDescriptor) error {
	var walkMessages func(mds protoreflect.MessageDescriptors) error
	walkMessages = func(mds protoreflect.MessageDescriptors) error {
		for i := 0; i < mds.Len(); i++ {
			md := mds.Get(i)
			mt := dynamicpb.NewMessageType(md)
			if err := types.RegisterMessage(mt); err != nil {
				return mockerr.New(mockerr.KindProtoCompile, "RegisterMessage", err)
			}
			if err := walkMessages(md.Messages()); err != nil {
				return err
			}
			if err := walkEnums(types, md.Enums()); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walkMessages(fd.Messages()); err != nil {
		return err
	}
	return walkEnums(types, fd.Enums())
}

func walkEnums(types *protoregistry.Types, eds protoreflect.EnumDescriptors) error {
	for i := 0; i < eds.Len(); i++ {
		ed := eds.Get(i)
		et := dynamicpb.NewEnumType(ed)
		if err := types.RegisterEnum(et); err != nil {
			return mockerr.New(mockerr.KindProtoCompile, "RegisterEnum", err)
		}
	}
	return nil
}

// summarize walks the registered files' descriptors to build the merged
// ProtoFileStructure, running map-entry detection after all fields of a
// message are populated, per §4.1's parse-order requirement.
func summarize(files *protoregistry.Files, orderedNames []string) (*ProtoFileStructure, error) {
	out := newProtoFileStructure()

	for _, name := range orderedNames {
		fd, err := files.FindFileByPath(name)
		if err != nil {
			return nil, mockerr.New(mockerr.KindDescriptorNotFound, "summarize", err)
		}
		if out.Package == "" {
			out.Package = string(fd.Package())
		}
		if err := summarizeMessages(out, fd.Messages(), ""); err != nil {
			return nil, err
		}
		summarizeEnums(out, fd.Enums(), "")
		summarizeServices(out, fd.Services())
	}

	return out, nil
}

func summarizeMessages(out *ProtoFileStructure, mds protoreflect.MessageDescriptors, parent string) error {
	for i := 0; i < mds.Len(); i++ {
		md := mds.Get(i)
		fields := make([]MessageField, 0, md.Fields().Len())
		for j := 0; j < md.Fields().Len(); j++ {
			fd := md.Fields().Get(j)
			mf := MessageField{
				Name:       string(fd.Name()),
				Number:     int32(fd.Number()),
				Label:      labelOf(fd),
				SimpleType: protoTypeOf(fd.Kind()),
			}
			if fd.Message() != nil {
				mf.MessageType = string(fd.Message().FullName())
			}
			if fd.Enum() != nil {
				mf.EnumType = string(fd.Enum().FullName())
			}
			if fd.HasDefault() {
				mf.Default = fd.Default().Interface()
			}
			fields = append(fields, mf)
		}

		data := &MessageData{
			Name:          string(md.Name()),
			FullName:      string(md.FullName()),
			ParentMessage: parent,
			Fields:        fields,
		}
		data.IsMap = isMapEntryName(data.Name) && isMapEntryFields(fields)

		for j := 0; j < md.Messages().Len(); j++ {
			data.NestedMessages = append(data.NestedMessages, string(md.Messages().Get(j).FullName()))
		}
		for j := 0; j < md.Enums().Len(); j++ {
			data.NestedEnums = append(data.NestedEnums, string(md.Enums().Get(j).FullName()))
		}

		out.Messages[data.FullName] = data

		// Propagate is_map onto fields whose message type is this map-entry,
		// now that the flag has been computed (§4.1 topological requirement).
		if data.IsMap {
			for _, existing := range out.Messages {
				for k := range existing.Fields {
					if existing.Fields[k].MessageType == data.FullName {
						existing.Fields[k].IsMap = true
					}
				}
			}
		}

		if err := summarizeMessages(out, md.Messages(), data.FullName); err != nil {
			return err
		}
		summarizeEnums(out, md.Enums(), data.FullName)
	}
	return nil
}

func summarizeEnums(out *ProtoFileStructure, eds protoreflect.EnumDescriptors, parent string) {
	for i := 0; i < eds.Len(); i++ {
		ed := eds.Get(i)
		values := make([]EnumValue, 0, ed.Values().Len())
		for j := 0; j < ed.Values().Len(); j++ {
			ev := ed.Values().Get(j)
			values = append(values, EnumValue{Name: string(ev.Name()), Number: int32(ev.Number())})
		}
		out.Enums[string(ed.FullName())] = &EnumData{
			Name:          string(ed.Name()),
			FullName:      string(ed.FullName()),
			ParentMessage: parent,
			Fields:        values,
		}
	}
}

func summarizeServices(out *ProtoFileStructure, sds protoreflect.ServiceDescriptors) {
	for i := 0; i < sds.Len(); i++ {
		sd := sds.Get(i)
		methods := make([]MethodData, 0, sd.Methods().Len())
		for j := 0; j < sd.Methods().Len(); j++ {
			md := sd.Methods().Get(j)
			methods = append(methods, MethodData{
				Name: string(md.Name()),
				InputMessage: EndpointMessage{
					Name:      string(md.Input().FullName()),
					Streaming: md.IsStreamingClient(),
				},
				OutputMessage: EndpointMessage{
					Name:      string(md.Output().FullName()),
					Streaming: md.IsStreamingServer(),
				},
			})
		}
		out.Services[string(sd.FullName())] = &ServiceData{
			Name:     string(sd.Name()),
			FullName: string(sd.FullName()),
			Methods:  methods,
		}
	}
}

func labelOf(fd protoreflect.FieldDescriptor) Label {
	switch {
	case fd.Cardinality() == protoreflect.Repeated:
		return LabelRepeated
	case fd.Cardinality() == protoreflect.Required:
		return LabelRequired
	default:
		return LabelOptional
	}
}

func protoTypeOf(k protoreflect.Kind) ProtoType {
	switch k {
	case protoreflect.DoubleKind:
		return TypeDouble
	case protoreflect.FloatKind:
		return TypeFloat
	case protoreflect.Int64Kind:
		return TypeInt64
	case protoreflect.Uint64Kind:
		return TypeUint64
	case protoreflect.Int32Kind:
		return TypeInt32
	case protoreflect.Fixed64Kind:
		return TypeFixed64
	case protoreflect.Fixed32Kind:
		return TypeFixed32
	case protoreflect.BoolKind:
		return TypeBool
	case protoreflect.StringKind:
		return TypeString
	case protoreflect.GroupKind:
		return TypeGroup
	case protoreflect.MessageKind:
		return TypeMessage
	case protoreflect.BytesKind:
		return TypeBytes
	case protoreflect.Uint32Kind:
		return TypeUint32
	case protoreflect.EnumKind:
		return TypeEnum
	case protoreflect.Sfixed32Kind:
		return TypeSfixed32
	case protoreflect.Sfixed64Kind:
		return TypeSfixed64
	case protoreflect.Sint32Kind:
		return TypeSint32
	case protoreflect.Sint64Kind:
		return TypeSint64
	default:
		return TypeUnknown
	}
}

// ResolveProtoFiles expands globs in rawPaths (which may be a single
// glob/path or several) against baseDir, returning absolute file paths.
func ResolveProtoFiles(baseDir string, rawPaths []string) ([]string, error) {
	var out []string
	for _, raw := range rawPaths {
		pattern := raw
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		if abs, err := filepath.Abs(pattern); err == nil {
			pattern = abs
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, mockerr.New(mockerr.KindConfigLoad, "glob proto_files", err)
		}
		if len(matches) == 0 {
			// Not a glob, or a glob matching nothing: treat literally so a
			// missing file surfaces as a protoc error rather than silence.
			out = append(out, pattern)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}
