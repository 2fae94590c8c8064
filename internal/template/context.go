package template

import "sync"

// StateSlot is the per-method-processor mutable state cell exposed to
// templates via set_state/get_state (§3, §9 "Shared mutable state slot").
// It must not be shared across methods; callers own its lifetime.
type StateSlot struct {
	mu    sync.Mutex
	value any
}

// NewStateSlot returns a StateSlot initialized to nil, which get_state
// hands to scripts as null — falsy, so the S6 idiom `get_state() or 0`
// starts a sequential counter at 0 on the first call. A non-empty string
// sentinel (e.g. "initial") would be JS-truthy and break that idiom: the
// first `get_state() or 0` would evaluate to the sentinel itself, and
// `set_state((get_state() or 0)+1)` would string-concatenate instead of
// incrementing.
func NewStateSlot() *StateSlot {
	return &StateSlot{}
}

// Get returns the current value.
func (s *StateSlot) Get() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores v as the current value.
func (s *StateSlot) Set(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

// CallContext carries the per-request variables visible to templates (§3
// "Call context variables").
type CallContext struct {
	Sockets  []string
	Alias    string
	Service  string
	Method   string
	Metadata map[string][]string
	// Messages holds every request received so far, already decoded into
	// a generic dict/list form.
	Messages []any
	// Message is the first request (nil if none received yet).
	Message any
	State   *StateSlot
}
