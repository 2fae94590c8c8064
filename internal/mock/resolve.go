package mock

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
	"github.com/DmitroKihtenko/cap-grpc/internal/template"
)

// Resolver renders a ResponseMockConfig into a ResponseMock for one call,
// using the template engine for every string-valued field (§4.4).
type Resolver struct {
	Engine *template.Engine
	Logger *zerolog.Logger
}

func (r *Resolver) logError(op string, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Error().Str("op", op).Err(err).Msg("mock resolution error")
}

func (r *Resolver) logWarn(op, msg string) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn().Str("op", op).Msg(msg)
}

// ResolveRaw resolves a raw per-method mock value, which may be nil (no
// mock configured), a *ResponseMockConfig, a map[string]any with the same
// keys (as decoded from the YAML configuration), or a whole-document
// template string that renders to YAML for the entire config (§3 "mocks {
// <service_fqn>: { <method>: ResponseMockConfig | str | null } }").
func (r *Resolver) ResolveRaw(ctx context.Context, raw any, cc *template.CallContext) (*ResponseMock, error) {
	if raw == nil {
		return Empty(), nil
	}
	if m, ok := raw.(map[string]any); ok {
		data, err := yaml.Marshal(m)
		if err != nil {
			return Empty(), mockerr.New(mockerr.KindModelValidation, "ResolveRaw", err)
		}
		var cfg ResponseMockConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Empty(), mockerr.New(mockerr.KindModelValidation, "ResolveRaw", err)
		}
		raw = &cfg
	}
	if s, ok := raw.(string); ok {
		cfg, err := r.parseWholeDocument(ctx, s, cc)
		if err != nil {
			r.logError("ResolveRaw.parseWholeDocument", err)
			return Empty(), nil
		}
		raw = cfg
	}

	cfg, ok := raw.(*ResponseMockConfig)
	if !ok {
		return Empty(), mockerr.Newf(mockerr.KindModelValidation, "ResolveRaw", "unsupported mock config type %T", raw)
	}
	return r.Resolve(ctx, cfg, cc)
}

func (r *Resolver) parseWholeDocument(ctx context.Context, s string, cc *template.CallContext) (*ResponseMockConfig, error) {
	rendered, err := r.Engine.Render(ctx, s, cc)
	if err != nil {
		return nil, err
	}
	var cfg ResponseMockConfig
	if err := yaml.Unmarshal([]byte(rendered), &cfg); err != nil {
		return nil, mockerr.New(mockerr.KindYamlParse, "parseWholeDocument", err)
	}
	return &cfg, nil
}

// Resolve renders every field of cfg per §4.4's rendering sequence.
func (r *Resolver) Resolve(ctx context.Context, cfg *ResponseMockConfig, cc *template.CallContext) (*ResponseMock, error) {
	if cfg == nil {
		return Empty(), nil
	}

	out := &ResponseMock{}

	messages, err := r.resolveStructuredField(ctx, cfg.Messages, cc, "messages")
	if err != nil {
		r.logError("Resolve.messages", err)
	} else if messages != nil {
		switch v := messages.(type) {
		case map[string]any:
			out.Messages = []map[string]any{v}
		case []any:
			for _, elem := range v {
				if m, ok := elem.(map[string]any); ok {
					out.Messages = append(out.Messages, m)
				}
			}
		}
	}

	trailing, err := r.resolveStructuredField(ctx, cfg.TrailingMeta, cc, "trailing_meta")
	if err != nil {
		r.logError("Resolve.trailing_meta", err)
	} else if m, ok := trailing.(map[string]any); ok {
		out.TrailingMeta = make(map[string]string, len(m))
		for k, v := range m {
			out.TrailingMeta[k] = fmt.Sprint(v)
		}
	}

	if cfg.Error != nil {
		details, err := r.Engine.Render(ctx, cfg.Error.Details, cc)
		if err != nil {
			r.logError("Resolve.error.details", err)
			details = cfg.Error.Details
		}
		code := cfg.Error.Code
		if code < 1 || code > 16 {
			r.logWarn("Resolve.error.code", fmt.Sprintf("error code %d outside 1..16, will map to UNKNOWN", code))
		}
		out.Error = &ResolvedError{Code: code, Details: details}
	}

	if cfg.SecondsDelay != nil {
		if d, ok := r.resolveNumber(ctx, cfg.SecondsDelay, cc, "seconds_delay"); ok && d > 0 {
			out.SecondsDelay = d
		}
	}

	if cfg.Proxy != nil {
		socket, err := r.Engine.Render(ctx, cfg.Proxy.Socket, cc)
		if err != nil {
			r.logError("Resolve.proxy.socket", err)
			socket = cfg.Proxy.Socket
		}
		rp := &ResolvedProxy{Socket: socket}
		if cfg.Proxy.SecondsTimeout != nil {
			if t, ok := r.resolveNumber(ctx, cfg.Proxy.SecondsTimeout, cc, "seconds_timeout"); ok && t >= 0 {
				rp.SecondsTimeout = t
				rp.HasTimeout = true
			}
		}
		out.Proxy = rp
	}

	return out, nil
}

// resolveStructuredField renders field, which may be a string (rendered,
// then parsed as YAML) or an already-structured dict/list/string subtree
// (deep-rendered in place), per §4.4 step 1/2.
func (r *Resolver) resolveStructuredField(ctx context.Context, field any, cc *template.CallContext, name string) (any, error) {
	if field == nil {
		return nil, nil
	}
	if s, ok := field.(string); ok {
		rendered, err := r.Engine.Render(ctx, s, cc)
		if err != nil {
			return nil, err
		}
		if rendered == "" {
			return nil, nil
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(rendered), &parsed); err != nil {
			return nil, mockerr.New(mockerr.KindYamlParse, name, err)
		}
		return parsed, nil
	}
	return r.renderSubtree(ctx, field, cc)
}

// renderSubtree walks v depth-first, rendering every string leaf. Map keys
// are visited in sorted order: helpers like set_state/get_state can have
// side effects, and Go's map iteration order is randomized, so an
// unordered walk would make a mock's field-evaluation order (and thus any
// state it accumulates) nondeterministic between calls.
func (r *Resolver) renderSubtree(ctx context.Context, v any, cc *template.CallContext) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(val))
		for _, k := range keys {
			rendered, err := r.renderSubtree(ctx, val[k], cc)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			rendered, err := r.renderSubtree(ctx, sub, cc)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case string:
		return r.Engine.Render(ctx, val, cc)
	default:
		return v, nil
	}
}

func (r *Resolver) resolveNumber(ctx context.Context, field any, cc *template.CallContext, name string) (float64, bool) {
	if s, ok := field.(string); ok {
		rendered, err := r.Engine.Render(ctx, s, cc)
		if err != nil {
			r.logError("resolveNumber."+name, err)
			return 0, false
		}
		var f float64
		if _, err := fmt.Sscanf(rendered, "%g", &f); err != nil {
			r.logError("resolveNumber."+name, err)
			return 0, false
		}
		return f, true
	}
	switch n := field.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
