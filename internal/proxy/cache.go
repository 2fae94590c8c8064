// Package proxy implements the Proxy Channel Cache (C5): memoized upstream
// connections per socket. The unary or stream call path is chosen on each
// invocation from the method's streaming shape; no caller is cached per
// (service, method). Grounded on goja-grpc/client.go's
// real grpc.ClientConn invocation patterns (executeUnaryRPC, newStreamReader,
// newClientStreamCall, newBidiStream), stripped of the goja/Promise
// wrapping since this cache is invoked from the Go request pipeline, not
// from script.
package proxy

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
)

// Cache memoizes upstream *grpc.ClientConn instances by socket string.
// Writes are first-writer-wins under one mutex shared by all sockets (§5
// "Shared resources").
type Cache struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{conns: make(map[string]*grpc.ClientConn)}
}

// conn returns the cached channel for socket, dialing (insecure, per
// §4.5 "open insecure channel") and caching it on first use.
func (c *Cache) conn(socket string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[socket]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, mockerr.New(mockerr.KindProxyOther, "dial", err)
	}
	c.conns[socket] = cc
	return cc, nil
}

// Close concurrently closes every cached channel (§4.5 close_channels,
// §5 graceful shutdown).
func (c *Cache) Close() {
	c.mu.Lock()
	conns := make([]*grpc.ClientConn, 0, len(c.conns))
	for _, cc := range c.conns {
		conns = append(conns, cc)
	}
	c.conns = make(map[string]*grpc.ClientConn)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, cc := range conns {
		wg.Add(1)
		go func(cc *grpc.ClientConn) {
			defer wg.Done()
			_ = cc.Close()
		}(cc)
	}
	wg.Wait()
}

// Request describes one upstream invocation.
type Request struct {
	Socket         string
	FullMethod     string // "/pkg.Service/Method"
	InputDesc      protoreflect.MessageDescriptor
	OutputDesc     protoreflect.MessageDescriptor
	Metadata       map[string][]string
	SecondsTimeout float64
	HasTimeout     bool
	// Requests holds every inbound request message (one for unary-in,
	// possibly many for client-streaming methods, already fully drained
	// by the pipeline per §4.7 step 2).
	Requests []*dynamicpb.Message
	// ServerStreaming indicates the upstream method streams responses.
	ServerStreaming bool
}

// Result holds everything the pipeline needs after a proxy invocation.
type Result struct {
	Messages       []*dynamicpb.Message
	TrailerMeta    metadata.MD
	UpstreamStatus *status.Status // non-nil, non-OK on an RpcError disposition
}

// Invoke forwards Request to the cached channel, copying invocation
// metadata and applying SecondsTimeout to this one upstream call (§4.5,
// §5 "A configured seconds_timeout applies to each upstream invocation,
// not the whole call").
//
// On an RpcError-kind failure, Result.UpstreamStatus is set and
// Result.TrailerMeta carries the upstream trailer, for the caller to
// propagate downstream and abort (§4.5, §7 ProxyRpcError disposition). On
// any other failure, Invoke returns a ProxyOther *mockerr.Error and a nil
// Result; the caller falls back to synthesized mocks (§7 ProxyOther
// disposition).
func (c *Cache) Invoke(ctx context.Context, req *Request) (*Result, error) {
	cc, err := c.conn(req.Socket)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if req.HasTimeout {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.SecondsTimeout*float64(time.Second)))
		defer cancel()
	}
	if len(req.Metadata) > 0 {
		callCtx = metadata.NewOutgoingContext(callCtx, metadata.MD(req.Metadata))
	}

	if !req.ServerStreaming && len(req.Requests) <= 1 {
		return c.invokeUnary(callCtx, cc, req)
	}
	return c.invokeStream(callCtx, cc, req)
}

func (c *Cache) invokeUnary(ctx context.Context, cc *grpc.ClientConn, req *Request) (*Result, error) {
	var trailer metadata.MD
	out := dynamicpb.NewMessage(req.OutputDesc)

	var in *dynamicpb.Message
	if len(req.Requests) > 0 {
		in = req.Requests[0]
	} else {
		in = dynamicpb.NewMessage(req.InputDesc)
	}

	err := cc.Invoke(ctx, req.FullMethod, in, out, grpc.Trailer(&trailer))
	if err != nil {
		return c.classifyErr(err, trailer)
	}
	return &Result{Messages: []*dynamicpb.Message{out}, TrailerMeta: trailer}, nil
}

func (c *Cache) invokeStream(ctx context.Context, cc *grpc.ClientConn, req *Request) (*Result, error) {
	desc := &grpc.StreamDesc{
		StreamName:    "proxy",
		ClientStreams: true,
		ServerStreams: true,
	}
	stream, err := cc.NewStream(ctx, desc, req.FullMethod)
	if err != nil {
		return c.classifyErr(err, nil)
	}

	for _, in := range req.Requests {
		if err := stream.SendMsg(in); err != nil {
			return c.classifyErr(err, stream.Trailer())
		}
	}
	if err := stream.CloseSend(); err != nil {
		return c.classifyErr(err, stream.Trailer())
	}

	var messages []*dynamicpb.Message
	for {
		out := dynamicpb.NewMessage(req.OutputDesc)
		err := stream.RecvMsg(out)
		if err != nil {
			if isEOF(err) {
				break
			}
			return c.classifyErr(err, stream.Trailer())
		}
		messages = append(messages, out)
	}

	return &Result{Messages: messages, TrailerMeta: stream.Trailer()}, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// classifyErr distinguishes an RpcError (a real upstream gRPC status) from
// any other failure (context cancellation, dial/transport errors), per
// §4.5's dispatch between ProxyRpcError and ProxyOther handling. grpc-go
// reports dial and transport failures as Unavailable, so that code is
// classified as ProxyOther as well, also when an upstream itself answers
// Unavailable. Grounded on goja-grpc/client.go's grpcErrorFromGoError.
func (c *Cache) classifyErr(err error, trailer metadata.MD) (*Result, error) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, mockerr.New(mockerr.KindProxyOther, "invoke", err)
	}
	switch st.Code() {
	case codes.Canceled, codes.DeadlineExceeded, codes.Unavailable:
		return nil, mockerr.New(mockerr.KindProxyOther, "invoke", err)
	default:
		return &Result{UpstreamStatus: st, TrailerMeta: trailer}, nil
	}
}
