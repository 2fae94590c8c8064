package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/DmitroKihtenko/cap-grpc/internal/applog"
	"github.com/DmitroKihtenko/cap-grpc/internal/config"
	"github.com/DmitroKihtenko/cap-grpc/internal/mock"
	"github.com/DmitroKihtenko/cap-grpc/internal/proxy"
	"github.com/DmitroKihtenko/cap-grpc/internal/template"
)

func buildEchoDescriptors(t *testing.T) (protoreflect.MessageDescriptor, protoreflect.MessageDescriptor) {
	t.Helper()
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	strType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	name := func(s string) *string { return &s }
	num := func(n int32) *int32 { return &n }

	fdProto := &descriptorpb.FileDescriptorProto{
		Name:    name("echo.proto"),
		Package: name("echo"),
		Syntax:  name("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: name("EchoRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: name("name"), Number: num(1), Label: &label, Type: &strType},
				},
			},
			{
				Name: name("EchoResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: name("reply"), Number: num(1), Label: &label, Type: &strType},
				},
			},
		},
	}
	fd, err := protodesc.NewFile(fdProto, nil)
	require.NoError(t, err)
	return fd.Messages().ByName("EchoRequest"), fd.Messages().ByName("EchoResponse")
}

func newTestProcessor(t *testing.T, rawMock any) (*MethodProcessor, protoreflect.MessageDescriptor) {
	t.Helper()
	inputDesc, outputDesc := buildEchoDescriptors(t)
	logger := zerolog.Nop()

	apiLogs, err := applog.NewProcessor(config.LoggingConfig{})
	require.NoError(t, err)

	mp := NewMethodProcessor()
	mp.Alias = "test"
	mp.ServiceFQN = "echo.EchoService"
	mp.Method = "Echo"
	mp.InputDesc = inputDesc
	mp.OutputDesc = outputDesc
	mp.RawMock = rawMock
	mp.Engine = template.NewEngine(t.TempDir(), &logger)
	mp.Resolver = &mock.Resolver{Engine: mp.Engine, Logger: &logger}
	mp.Materializer = &mock.Materializer{Logger: &logger}
	mp.ProxyCache = proxy.NewCache()
	mp.Logs = apiLogs
	return mp, inputDesc
}

func TestInvokeSynthesizesMockResponse(t *testing.T) {
	mp, inputDesc := newTestProcessor(t, &mock.ResponseMockConfig{
		Messages: map[string]any{"reply": "hello, {{ message.name }}"},
	})

	req := dynamicpb.NewMessage(inputDesc)
	req.Set(inputDesc.Fields().ByName("name"), protoReflectStringValue("Ada"))

	outcome := mp.Invoke(context.Background(), []*dynamicpb.Message{req}, metadata.MD{})
	require.NoError(t, outcome.Err)
	require.Len(t, outcome.Responses, 1)
	assert.Equal(t, "hello, Ada", dictOf(t, outcome.Responses[0])["reply"])
}

func TestInvokeErrorMockAborts(t *testing.T) {
	mp, inputDesc := newTestProcessor(t, &mock.ResponseMockConfig{
		Error: &mock.ErrorMockConfig{Code: int(codes.Unauthenticated), Details: "denied"},
	})

	req := dynamicpb.NewMessage(inputDesc)
	outcome := mp.Invoke(context.Background(), []*dynamicpb.Message{req}, metadata.MD{})
	require.Error(t, outcome.Err)
	assert.Empty(t, outcome.Responses)
}

func buildCounterDescriptors(t *testing.T) (protoreflect.MessageDescriptor, protoreflect.MessageDescriptor) {
	t.Helper()
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	strType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	int32Type := descriptorpb.FieldDescriptorProto_TYPE_INT32
	name := func(s string) *string { return &s }
	num := func(n int32) *int32 { return &n }

	fdProto := &descriptorpb.FileDescriptorProto{
		Name:    name("book.proto"),
		Package: name("book"),
		Syntax:  name("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: name("GetBookReq"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: name("id"), Number: num(1), Label: &label, Type: &int32Type},
				},
			},
			{
				Name: name("Book"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: name("id"), Number: num(1), Label: &label, Type: &int32Type},
					{Name: name("name"), Number: num(2), Label: &label, Type: &strType},
				},
			},
		},
	}
	fd, err := protodesc.NewFile(fdProto, nil)
	require.NoError(t, err)
	return fd.Messages().ByName("GetBookReq"), fd.Messages().ByName("Book")
}

// TestInvokeSequentialStateCounterMatchesScenarioS6 reproduces the spec's
// S6 scenario: a mock using `get_state() or 0` as a sequential counter must
// see id 0, 1, 2 across three sequential calls sharing one MethodProcessor
// (and thus one StateSlot). A StateSlot initialized to a JS-truthy value
// would break the `or 0` idiom on every call.
func TestInvokeSequentialStateCounterMatchesScenarioS6(t *testing.T) {
	inputDesc, outputDesc := buildCounterDescriptors(t)
	logger := zerolog.Nop()

	apiLogs, err := applog.NewProcessor(config.LoggingConfig{})
	require.NoError(t, err)

	mp := NewMethodProcessor()
	mp.Alias = "test"
	mp.ServiceFQN = "book.BookService"
	mp.Method = "GetBook"
	mp.InputDesc = inputDesc
	mp.OutputDesc = outputDesc
	mp.RawMock = &mock.ResponseMockConfig{
		Messages: map[string]any{
			"id":   "{{ get_state() or 0 }}",
			"name": "{% set _ = set_state((get_state() or 0)+1) %}",
		},
	}
	mp.Engine = template.NewEngine(t.TempDir(), &logger)
	mp.Resolver = &mock.Resolver{Engine: mp.Engine, Logger: &logger}
	mp.Materializer = &mock.Materializer{Logger: &logger}
	mp.ProxyCache = proxy.NewCache()
	mp.Logs = apiLogs

	for _, wantID := range []int{0, 1, 2} {
		req := dynamicpb.NewMessage(inputDesc)
		outcome := mp.Invoke(context.Background(), []*dynamicpb.Message{req}, metadata.MD{})
		require.NoError(t, outcome.Err)
		require.Len(t, outcome.Responses, 1)
		got := outcome.Responses[0].Get(outputDesc.Fields().ByName("id")).Int()
		assert.EqualValues(t, wantID, got)
	}
}

func TestInvokeNoMockReturnsEmptyResponseSet(t *testing.T) {
	mp, inputDesc := newTestProcessor(t, nil)
	req := dynamicpb.NewMessage(inputDesc)
	outcome := mp.Invoke(context.Background(), []*dynamicpb.Message{req}, metadata.MD{})
	require.NoError(t, outcome.Err)
	assert.Empty(t, outcome.Responses)
}

func protoReflectStringValue(s string) protoreflect.Value {
	return protoreflect.ValueOfString(s)
}

func dictOf(t *testing.T, msg *dynamicpb.Message) map[string]any {
	t.Helper()
	return mock.ToDict(msg.ProtoReflect())
}
