// Package dispatch implements the Dispatch Layer (C6): for each server
// alias, it binds a listening socket per socket entry and registers, for
// every service in the summarized structure, a dynamically-built
// grpc.ServiceDesc whose method table wires a handler of the correct
// streaming shape into the Request Pipeline (C7).
//
// Grounded on goja-grpc/server.go's four-way dispatch by streaming shape
// (makeUnaryHandler/makeServerStreamHandler/makeClientStreamHandler/
// makeBidiStreamHandler), adapted from goja closures to real
// grpc.MethodHandler/grpc.StreamHandler signatures registered against a
// real *grpc.Server (not goja-grpc's in-process inprocgrpc.Channel, which
// cannot satisfy this system's real-listener/TLS requirements), plus
// keploy-keploy/pkg/grpc/server.go's plain net.Listen+Serve lifecycle.
package dispatch

import (
	"context"
	"io"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/DmitroKihtenko/cap-grpc/internal/config"
	"github.com/DmitroKihtenko/cap-grpc/internal/idl"
	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
	"github.com/DmitroKihtenko/cap-grpc/internal/pipeline"
	"github.com/DmitroKihtenko/cap-grpc/internal/registry"
	"github.com/DmitroKihtenko/cap-grpc/internal/tlsconf"
)

// Server wraps one configured server alias: its sockets and the
// *grpc.Server bound to them.
type Server struct {
	Alias     string
	grpcSrv   *grpc.Server
	listeners []net.Listener
	logger    *zerolog.Logger
}

// Build constructs the gRPC server for one alias: one listener per socket,
// one dynamically-built ServiceDesc per service named in the registry,
// with every method wired to a MethodProcessor from newProcessor.
//
// newProcessor must return a fully-configured *pipeline.MethodProcessor
// for (serviceFQN, methodName); the dispatch layer does not itself know
// about mock configuration.
func Build(
	serverCfg config.ServerConfig,
	reg *registry.Registry,
	newProcessor func(serviceFQN, methodName string, input, output protoreflect.MessageDescriptor, clientStreaming, serverStreaming bool) *pipeline.MethodProcessor,
	logger *zerolog.Logger,
) (*Server, error) {
	grpcSrv := grpc.NewServer()

	structure := reg.Structure()
	for fqn, svc := range structure.Services {
		desc := &grpc.ServiceDesc{
			ServiceName: fqn,
			HandlerType: (*any)(nil),
			Metadata:    fqn,
		}

		for _, m := range svc.Methods {
			inputDesc, err := reg.MessageDescriptor(m.InputMessage.Name)
			if err != nil {
				return nil, err
			}
			outputDesc, err := reg.MessageDescriptor(m.OutputMessage.Name)
			if err != nil {
				return nil, err
			}

			mp := newProcessor(fqn, m.Name, inputDesc, outputDesc, m.InputMessage.Streaming, m.OutputMessage.Streaming)

			if !m.InputMessage.Streaming && !m.OutputMessage.Streaming {
				desc.Methods = append(desc.Methods, grpc.MethodDesc{
					MethodName: m.Name,
					Handler:    unaryHandler(mp),
				})
			} else {
				desc.Streams = append(desc.Streams, grpc.StreamDesc{
					StreamName:    m.Name,
					Handler:       streamHandler(mp),
					ServerStreams: m.OutputMessage.Streaming,
					ClientStreams: m.InputMessage.Streaming,
				})
			}
		}

		grpcSrv.RegisterService(desc, nil)
	}

	warnUnknownMockTargets(serverCfg, structure, logger)

	if serverCfg.ReflectionEnabledOrDefault() {
		refSrv := reflection.NewServer(reflection.ServerOptions{
			Services:           grpcSrv,
			DescriptorResolver: reg.Files(),
			ExtensionResolver:  protoregistry.GlobalTypes,
		})
		reflectionpb.RegisterServerReflectionServer(grpcSrv, refSrv)
	}

	listeners := make([]net.Listener, 0, len(serverCfg.Sockets))
	for _, sock := range serverCfg.Sockets {
		lis, err := net.Listen("tcp", sock.Socket)
		if err != nil {
			return nil, mockerr.New(mockerr.KindConfigLoad, "listen", err)
		}
		if sock.Certificates != nil {
			creds, err := tlsconf.Credentials(sock.Certificates)
			if err != nil {
				return nil, err
			}
			lis = tls(lis, creds)
		}
		listeners = append(listeners, lis)
	}

	return &Server{Alias: serverCfg.Alias, grpcSrv: grpcSrv, listeners: listeners, logger: logger}, nil
}

// tls wraps lis so accepted connections are upgraded with creds. grpc.Server
// already supports being handed a raw net.Listener and performing its own
// credentials handshake when constructed with grpc.Creds; here sockets are
// configured per-listener rather than per-server, so the handshake is done
// at the listener boundary instead via a credentials-wrapping listener.
func tls(lis net.Listener, creds credentials.TransportCredentials) net.Listener {
	return &credsListener{Listener: lis, creds: creds}
}

type credsListener struct {
	net.Listener
	creds credentials.TransportCredentials
}

func (c *credsListener) Accept() (net.Conn, error) {
	conn, err := c.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tlsConn, _, err := c.creds.ServerHandshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// Addrs returns the bound address of every listener, in socket order.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, lis := range s.listeners {
		addrs[i] = lis.Addr()
	}
	return addrs
}

// Serve starts accepting connections on every listener, returning the
// first error encountered across all of them.
func (s *Server) Serve() error {
	errCh := make(chan error, len(s.listeners))
	for _, lis := range s.listeners {
		lis := lis
		go func() { errCh <- s.grpcSrv.Serve(lis) }()
	}
	return <-errCh
}

// Stop stops the listener without a grace period (§5 graceful shutdown).
func (s *Server) Stop() {
	s.grpcSrv.Stop()
}

func unaryHandler(mp *pipeline.MethodProcessor) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(mp.InputDesc)
		if err := dec(in); err != nil {
			return nil, err
		}
		md, _ := metadata.FromIncomingContext(ctx)

		handler := func(ctx context.Context, _ any) (any, error) {
			outcome := mp.Invoke(ctx, []*dynamicpb.Message{in}, md)
			if outcome.Trailer != nil {
				_ = grpc.SetTrailer(ctx, outcome.Trailer)
			}
			if outcome.Err != nil {
				return nil, outcome.Err
			}
			if len(outcome.Responses) == 0 {
				return dynamicpb.NewMessage(mp.OutputDesc), nil
			}
			return outcome.Responses[0], nil
		}

		if interceptor != nil {
			info := &grpc.UnaryServerInfo{FullMethod: "/" + mp.ServiceFQN + "/" + mp.Method}
			return interceptor(ctx, in, info, handler)
		}
		return handler(ctx, in)
	}
}

func streamHandler(mp *pipeline.MethodProcessor) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		ctx := stream.Context()
		md, _ := metadata.FromIncomingContext(ctx)

		var requests []*dynamicpb.Message
		for {
			in := dynamicpb.NewMessage(mp.InputDesc)
			err := stream.RecvMsg(in)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			requests = append(requests, in)
			if !mp.ClientStreaming {
				break
			}
		}

		outcome := mp.Invoke(ctx, requests, md)
		if outcome.Trailer != nil {
			stream.SetTrailer(outcome.Trailer)
		}
		if outcome.Err != nil {
			return outcome.Err
		}
		for _, resp := range outcome.Responses {
			if err := stream.SendMsg(resp); err != nil {
				return err
			}
		}
		return nil
	}
}

// warnUnknownMockTargets logs a WARNING for every (service, method) named
// in the configured mocks but absent from the compiled IDL. Per §4.6,
// unknown mock targets do not abort server creation.
func warnUnknownMockTargets(serverCfg config.ServerConfig, structure *idl.ProtoFileStructure, logger *zerolog.Logger) {
	for serviceFQN, methods := range serverCfg.Mocks {
		svc, ok := structure.Services[serviceFQN]
		if !ok {
			logger.Warn().Str("alias", serverCfg.Alias).Str("service", serviceFQN).
				Msg("mock configuration names a service absent from the compiled IDL")
			continue
		}
		known := make(map[string]bool, len(svc.Methods))
		for _, m := range svc.Methods {
			known[m.Name] = true
		}
		for methodName := range methods {
			if !known[methodName] {
				logger.Warn().Str("alias", serverCfg.Alias).Str("service", serviceFQN).Str("method", methodName).
					Msg("mock configuration names a method absent from the compiled IDL")
			}
		}
	}
}
