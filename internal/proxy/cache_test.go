package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

func buildEchoDescriptors(t *testing.T) (protoreflect.MessageDescriptor, protoreflect.MessageDescriptor) {
	t.Helper()
	name := func(s string) *string { return &s }
	num := func(n int32) *int32 { return &n }
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	strType := descriptorpb.FieldDescriptorProto_TYPE_STRING

	fdProto := &descriptorpb.FileDescriptorProto{
		Name:    name("echo.proto"),
		Package: name("echo"),
		Syntax:  name("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: name("EchoRequest"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: name("text"), Number: num(1), Label: &label, Type: &strType},
			}},
			{Name: name("EchoResponse"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: name("text"), Number: num(1), Label: &label, Type: &strType},
			}},
		},
	}
	fd, err := protodesc.NewFile(fdProto, nil)
	require.NoError(t, err)
	return fd.Messages().ByName("EchoRequest"), fd.Messages().ByName("EchoResponse")
}

// startEchoServer registers a dynamic unary echo method and a streaming
// method that fails with Unauthenticated, exercising both the ok and
// RpcError-disposition paths through Cache.Invoke.
func startEchoServer(t *testing.T, inputDesc, outputDesc protoreflect.MessageDescriptor) (socket string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	desc := &grpc.ServiceDesc{
		ServiceName: "echo.EchoService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Echo",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := dynamicpb.NewMessage(inputDesc)
					if err := dec(in); err != nil {
						return nil, err
					}
					out := dynamicpb.NewMessage(outputDesc)
					out.Set(outputDesc.Fields().ByName("text"), in.Get(inputDesc.Fields().ByName("text")))
					grpc.SetTrailer(ctx, metadata.Pairs("x-echoed", "1"))
					return out, nil
				},
			},
		},
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Deny",
				ClientStreams: true,
				ServerStreams: true,
				Handler: func(srv any, stream grpc.ServerStream) error {
					return status.Error(codes.Unauthenticated, "denied")
				},
			},
		},
	}
	srv.RegisterService(desc, nil)

	go func() { _ = srv.Serve(lis) }()
	return lis.Addr().String(), srv.Stop
}

func TestInvokeUnarySuccess(t *testing.T) {
	inputDesc, outputDesc := buildEchoDescriptors(t)
	socket, stop := startEchoServer(t, inputDesc, outputDesc)
	defer stop()

	cache := NewCache()
	defer cache.Close()

	req := dynamicpb.NewMessage(inputDesc)
	req.Set(inputDesc.Fields().ByName("text"), protoreflect.ValueOfString("hi"))

	result, err := cache.Invoke(context.Background(), &Request{
		Socket:     socket,
		FullMethod: "/echo.EchoService/Echo",
		InputDesc:  inputDesc,
		OutputDesc: outputDesc,
		Requests:   []*dynamicpb.Message{req},
	})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "hi", result.Messages[0].Get(outputDesc.Fields().ByName("text")).String())
	assert.Equal(t, []string{"1"}, result.TrailerMeta["x-echoed"])
}

func TestInvokeStreamRpcErrorDisposition(t *testing.T) {
	inputDesc, outputDesc := buildEchoDescriptors(t)
	socket, stop := startEchoServer(t, inputDesc, outputDesc)
	defer stop()

	cache := NewCache()
	defer cache.Close()

	result, err := cache.Invoke(context.Background(), &Request{
		Socket:          socket,
		FullMethod:      "/echo.EchoService/Deny",
		InputDesc:       inputDesc,
		OutputDesc:      outputDesc,
		ServerStreaming: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.UpstreamStatus)
	assert.Equal(t, codes.Unauthenticated, result.UpstreamStatus.Code())
}

func TestInvokeDialFailureIsProxyOther(t *testing.T) {
	_, outputDesc := buildEchoDescriptors(t)
	inputDesc, _ := buildEchoDescriptors(t)

	cache := NewCache()
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := cache.Invoke(ctx, &Request{
		Socket:         "127.0.0.1:1", // reserved, nothing listens
		FullMethod:     "/echo.EchoService/Echo",
		InputDesc:      inputDesc,
		OutputDesc:     outputDesc,
		Requests:       []*dynamicpb.Message{dynamicpb.NewMessage(inputDesc)},
		HasTimeout:     true,
		SecondsTimeout: 0.05,
	})
	assert.Error(t, err)
}

func TestCacheConnIsMemoizedBySocket(t *testing.T) {
	inputDesc, outputDesc := buildEchoDescriptors(t)
	socket, stop := startEchoServer(t, inputDesc, outputDesc)
	defer stop()

	cache := NewCache()
	defer cache.Close()

	first, err := cache.conn(socket)
	require.NoError(t, err)
	second, err := cache.conn(socket)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
