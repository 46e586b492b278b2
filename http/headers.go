package http

import (
	"net/textproto"
	"strings"
)

// Headers maps canonical header names to their values. It satisfies the
// propagation.TextMapCarrier interface so trace context can travel in it.
type Headers map[string][]string

func (h Headers) Get(name string) string {
	if vv := h[textproto.CanonicalMIMEHeaderKey(name)]; len(vv) > 0 {
		return vv[0]
	}
	return ""
}

func (h Headers) Values(name string) []string {
	return h[textproto.CanonicalMIMEHeaderKey(name)]
}

func (h Headers) Set(name, value string) {
	h[textproto.CanonicalMIMEHeaderKey(name)] = []string{value}
}

func (h Headers) Add(name, value string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	h[key] = append(h[key], value)
}

func (h Headers) Del(name string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(name))
}

func (h Headers) Has(name string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// hasToken reports whether the comma separated header contains token,
// ignoring case.
func (h Headers) hasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for len(v) > 0 {
			var part string
			if i := strings.IndexByte(v, ','); i >= 0 {
				part, v = v[:i], v[i+1:]
			} else {
				part, v = v, ""
			}
			if equalFoldASCII(trimOWS(part), token) {
				return true
			}
		}
	}
	return false
}
