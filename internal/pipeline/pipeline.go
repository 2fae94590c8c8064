// Package pipeline implements the Request Pipeline (C7): the per-call
// sequence of collect -> render -> delay -> proxy-or-synthesize ->
// set-metadata -> respond-or-abort (§4.7), driving C3 (template), C4
// (materializer), C5 (proxy), and C8 (API log) for every invocation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/DmitroKihtenko/cap-grpc/internal/applog"
	"github.com/DmitroKihtenko/cap-grpc/internal/mock"
	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
	"github.com/DmitroKihtenko/cap-grpc/internal/proxy"
	"github.com/DmitroKihtenko/cap-grpc/internal/template"
)

// MethodProcessor drives the pipeline for one (service, method) pair. It
// owns the state slot for the lifetime of the server (§3 "Lifecycle").
type MethodProcessor struct {
	Alias           string
	Sockets         []string
	ServiceFQN      string
	Method          string
	InputDesc       protoreflect.MessageDescriptor
	OutputDesc      protoreflect.MessageDescriptor
	ClientStreaming bool
	ServerStreaming bool

	// RawMock is the unresolved per-method mock value: nil, a
	// *mock.ResponseMockConfig, a map[string]any decoded from the YAML
	// configuration, or a whole-document template string.
	RawMock any

	Engine       *template.Engine
	Resolver     *mock.Resolver
	Materializer *mock.Materializer
	ProxyCache   *proxy.Cache
	Logs         *applog.Processor

	state *template.StateSlot
}

// NewMethodProcessor constructs a processor with its state slot
// initialized per template.NewStateSlot (§3).
func NewMethodProcessor() *MethodProcessor {
	return &MethodProcessor{state: template.NewStateSlot()}
}

// Outcome is the result of one pipeline invocation.
type Outcome struct {
	Responses []*dynamicpb.Message
	Trailer   metadata.MD
	// Err, if non-nil, is a *status.Status-bearing gRPC error the caller
	// must return to the client instead of any Responses.
	Err error
}

// Invoke runs the full C7 sequence for one call. requests must already be
// fully collected (drained for client-streaming methods, a single element
// for unary-in) per §4.7 step 2 / §9 "Cooperative iteration over request
// streams". A panic raised while the call is processed is logged and turned
// into an UNKNOWN status ("Mock API server internal error").
func (p *MethodProcessor) Invoke(ctx context.Context, requests []*dynamicpb.Message, incomingMD metadata.MD) (out *Outcome) {
	logger := p.Logs.Logger(p.ServiceFQN, p.Method)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("mock pipeline internal error")
			out = &Outcome{Err: status.Error(codes.Unknown, "Mock API server internal error")}
		}
	}()

	p.Logs.Emit(p.ServiceFQN, p.Method, applog.Record{
		Service:   p.ServiceFQN,
		Method:    p.Method,
		Alias:     p.Alias,
		Metadata:  map[string][]string(incomingMD),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})

	reqDicts := make([]any, 0, len(requests))
	for _, r := range requests {
		reqDicts = append(reqDicts, mock.ToDict(r.ProtoReflect()))
	}
	var first any
	if len(reqDicts) > 0 {
		first = reqDicts[0]
	}

	cc := &template.CallContext{
		Sockets:  p.Sockets,
		Alias:    p.Alias,
		Service:  p.ServiceFQN,
		Method:   p.Method,
		Metadata: map[string][]string(incomingMD),
		Messages: reqDicts,
		Message:  first,
		State:    p.state,
	}

	rendered, err := p.Resolver.ResolveRaw(ctx, p.RawMock, cc)
	if err != nil {
		logger.Error().Err(err).Msg("mock resolution failed, using empty mock")
		rendered = mock.Empty()
	}

	if rendered.SecondsDelay > 0 {
		select {
		case <-time.After(time.Duration(rendered.SecondsDelay * float64(time.Second))):
		case <-ctx.Done():
			return &Outcome{Err: status.FromContextError(ctx.Err()).Err()}
		}
	}

	var finalDicts []map[string]any
	var trailer metadata.MD
	if len(rendered.TrailingMeta) > 0 {
		trailer = metadata.MD{}
		for k, v := range rendered.TrailingMeta {
			trailer.Append(k, v)
		}
	}

	if rendered.Proxy != nil && rendered.Proxy.Socket != "" {
		result, perr := p.ProxyCache.Invoke(ctx, &proxy.Request{
			Socket:          rendered.Proxy.Socket,
			FullMethod:      "/" + p.ServiceFQN + "/" + p.Method,
			InputDesc:       p.InputDesc,
			OutputDesc:      p.OutputDesc,
			Metadata:        incomingMD,
			SecondsTimeout:  rendered.Proxy.SecondsTimeout,
			HasTimeout:      rendered.Proxy.HasTimeout,
			Requests:        requests,
			ServerStreaming: p.ServerStreaming,
		})

		switch {
		case perr != nil:
			// ProxyOther: log and fall back to synthesized mocks (§4.5, §7).
			logger.Error().Err(perr).Msg("proxy invocation failed, falling back to synthesized mock")
			finalDicts = rendered.Messages

		case result.UpstreamStatus != nil:
			// ProxyRpcError: propagate trailer, abort with upstream code/details.
			if trailer == nil {
				trailer = metadata.MD{}
			}
			for k, v := range result.TrailerMeta {
				trailer[k] = append(trailer[k], v...)
			}
			p.emitResponse(nil, trailer, result.UpstreamStatus)
			return &Outcome{Trailer: trailer, Err: result.UpstreamStatus.Err()}

		default:
			for k, v := range result.TrailerMeta {
				if trailer == nil {
					trailer = metadata.MD{}
				}
				trailer[k] = append(trailer[k], v...)
			}
			for _, m := range result.Messages {
				proxyDict := mock.ToDict(m.ProtoReflect())
				merged := proxyDict
				for _, mockDict := range rendered.Messages {
					merged = mock.Merge(merged, any(mockDict)).(map[string]any)
				}
				finalDicts = append(finalDicts, merged)
			}
		}
	} else {
		finalDicts = rendered.Messages
	}

	if rendered.Error != nil {
		if trailer == nil {
			trailer = metadata.MD{}
		}
		st := status.New(mockerr.StatusCode(rendered.Error.Code), rendered.Error.Details)
		p.emitResponse(nil, trailer, st)
		return &Outcome{Trailer: trailer, Err: st.Err()}
	}

	responses := make([]*dynamicpb.Message, 0, len(finalDicts))
	for _, d := range finalDicts {
		responses = append(responses, p.Materializer.Build(p.OutputDesc, d))
	}

	p.emitResponse(responses, trailer, nil)
	return &Outcome{Responses: responses, Trailer: trailer}
}

func (p *MethodProcessor) emitResponse(responses []*dynamicpb.Message, trailer metadata.MD, st *status.Status) {
	var respDicts []map[string]any
	for _, r := range responses {
		respDicts = append(respDicts, mock.ToDict(r.ProtoReflect()))
	}
	rec := applog.Record{
		Service:         p.ServiceFQN,
		Method:          p.Method,
		Alias:           p.Alias,
		ResponseMessage: respDicts,
		Metadata:        map[string][]string(trailer),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	if st != nil && st.Code() != codes.OK {
		rec.Code = fmt.Sprintf("%d: %s", int(st.Code()), st.Code().String())
		rec.ErrorDetails = st.Message()
	}
	p.Logs.Emit(p.ServiceFQN, p.Method, rec)
}
