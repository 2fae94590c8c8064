// Package mock implements the Mock Materializer (C4): it renders a
// possibly-partial, possibly-string-valued mock configuration into a
// well-typed outbound message, jointly walking the output message
// descriptor and the rendered mock tree (§4.4).
//
// The primitive-coercion and map/repeated-field logic is grounded on
// goja-protobuf/conversion.go's gojaToProtoValue/setRepeatedFromGoja/
// setMapFromGoja family, generalized from a goja.Value source to a plain
// `any` source since the mock tree here originates from YAML/template
// output, not a live JS object.
package mock

// ResponseMockConfig is the as-configured mock for one service/method
// (§3). Any of Messages/TrailingMeta/Delay/Timeout may instead be supplied
// as a raw YAML string that renders (via the template engine) to the
// structure described here.
type ResponseMockConfig struct {
	// Messages is a dict, a list of dicts (streaming-output methods only,
	// one response per element), or a template string yielding one of
	// those after rendering.
	Messages any `yaml:"messages,omitempty"`
	// TrailingMeta is a dict of metadata key -> value, or a template
	// string yielding one.
	TrailingMeta any `yaml:"trailing_meta,omitempty"`
	Error        *ErrorMockConfig `yaml:"error,omitempty"`
	// SecondsDelay may be a number or a template string yielding one.
	SecondsDelay any          `yaml:"seconds_delay,omitempty"`
	Proxy        *ProxyConfig `yaml:"proxy,omitempty"`
}

type ErrorMockConfig struct {
	Code    int    `yaml:"code"`
	Details string `yaml:"details"`
}

type ProxyConfig struct {
	Socket string `yaml:"socket"`
	// SecondsTimeout may be a number or a template string yielding one.
	SecondsTimeout any `yaml:"seconds_timeout,omitempty"`
}

// ResponseMock is the per-call rendered form of a ResponseMockConfig: every
// string has been resolved and every numeric bound enforced (code in
// 1..16, SecondsDelay > 0, SecondsTimeout >= 0).
type ResponseMock struct {
	// Messages holds one rendered message tree (dict) per outbound
	// message: one for a dict mock, one per mapping element for a list
	// mock, whatever the method's streaming shape (a unary-out handler
	// sends only the first).
	Messages     []map[string]any
	TrailingMeta map[string]string
	Error        *ResolvedError
	SecondsDelay float64 // 0 means "no delay"
	Proxy        *ResolvedProxy
}

type ResolvedError struct {
	Code    int
	Details string
}

type ResolvedProxy struct {
	Socket         string
	SecondsTimeout float64
	HasTimeout     bool
}

// Empty returns the zero ResponseMock: no messages, no metadata, no error,
// no delay, no proxy. Per §4.4 step 1, a mock string that fails to render
// or parse as YAML collapses to this value rather than aborting the call.
func Empty() *ResponseMock {
	return &ResponseMock{}
}
