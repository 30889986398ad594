package contracts

// Well-known header keys. These map to native protocol properties on the wire;
// every other header travels opaquely in the protocol's header table.
const (
	HeaderContentType   = "wirebus.content-type"
	HeaderEnclosedType  = "wirebus.enclosed-type"
	HeaderReplyTo       = "wirebus.reply-to"
	HeaderCorrelationID = "wirebus.correlation-id"
	HeaderNonDurable    = "wirebus.non-durable"
)

// Headers is an insertion-ordered mapping of string names to string values.
// Iteration visits keys in the order they were first set; updating an existing
// key keeps its original position. The zero value is ready to use.
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders returns an empty header mapping.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set adds or updates a header. A new key is appended to the iteration order;
// an existing key keeps its position.
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key and whether it is present.
func (h *Headers) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Delete removes a header if present.
func (h *Headers) Delete(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.keys)
}

// Keys returns the header names in insertion order.
func (h *Headers) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Each calls fn for every header in insertion order.
func (h *Headers) Each(fn func(key, value string)) {
	for _, k := range h.keys {
		fn(k, h.values[k])
	}
}

// Clone returns an independent copy preserving iteration order.
func (h *Headers) Clone() *Headers {
	c := &Headers{
		keys:   make([]string, len(h.keys)),
		values: make(map[string]string, len(h.values)),
	}
	copy(c.keys, h.keys)
	for k, v := range h.values {
		c.values[k] = v
	}
	return c
}
