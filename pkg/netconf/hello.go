package netconf

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Capability URIs.
const (
	CapabilityBase10          = "urn:ietf:params:netconf:base:1.0"
	CapabilityBase11          = "urn:ietf:params:netconf:base:1.1"
	CapabilityWritableRunning = "urn:ietf:params:netconf:capability:writable-running:1.0"
	CapabilityCandidate       = "urn:ietf:params:netconf:capability:candidate:1.0"
	CapabilityXPath           = "urn:ietf:params:netconf:capability:xpath:1.0"
	CapabilityValidate        = "urn:ietf:params:netconf:capability:validate:1.1"
)

// DefaultCapabilities are advertised in addition to the base capabilities
// when the configuration supplies none.
var DefaultCapabilities = []string{
	CapabilityWritableRunning,
	CapabilityCandidate,
	CapabilityXPath,
}

var (
	ErrHelloInvalid      = errors.New("netconf: invalid hello")
	ErrHelloHasSessionID = errors.New("netconf: client hello must not carry a session-id")
	ErrNoCommonBase      = errors.New("netconf: no common base capability")
)

// Hello is a <hello> message.
type Hello struct {
	Capabilities []string
	SessionID    uint64 // zero on client hellos
}

// ServerCapabilities returns the base capabilities followed by extra, with
// duplicates removed and order preserved.
func ServerCapabilities(extra []string) []string {
	seen := make(map[string]struct{}, len(extra)+2)
	out := make([]string, 0, len(extra)+2)
	for _, c := range append([]string{CapabilityBase10, CapabilityBase11}, extra...) {
		if _, dup := seen[c]; dup || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Bytes renders the hello document.
func (h *Hello) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<hello xmlns="` + BaseNamespace + `"><capabilities>`)
	for _, c := range h.Capabilities {
		element(&b, "capability", c)
	}
	b.WriteString("</capabilities>")
	if h.SessionID != 0 {
		element(&b, "session-id", strconv.FormatUint(h.SessionID, 10))
	}
	b.WriteString("</hello>")
	return b.Bytes()
}

// ParseHello decodes a hello received from a client.
func ParseHello(raw []byte) (*Hello, error) {
	root, err := ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHelloInvalid, err)
	}
	if root.Name() != "hello" {
		return nil, fmt.Errorf("%w: root element is %s", ErrHelloInvalid, root.Name())
	}

	h := &Hello{}
	if caps := root.Child("capabilities"); caps != nil {
		for _, c := range caps.Children {
			if c.Name() == "capability" {
				if uri := c.TrimmedText(); uri != "" {
					h.Capabilities = append(h.Capabilities, uri)
				}
			}
		}
	}
	if len(h.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: no capabilities", ErrHelloInvalid)
	}
	if root.Child("session-id") != nil {
		return nil, ErrHelloHasSessionID
	}
	return h, nil
}

// Has reports whether the hello advertises capability uri.
func (h *Hello) Has(uri string) bool {
	for _, c := range h.Capabilities {
		if c == uri {
			return true
		}
	}
	return false
}

// NegotiateFraming selects the framing for a session from the capabilities
// both peers advertised. Chunked framing requires base:1.1 on both sides.
func NegotiateFraming(server []string, client *Hello) (Framing, error) {
	serverHas := func(uri string) bool {
		for _, c := range server {
			if c == uri {
				return true
			}
		}
		return false
	}

	switch {
	case serverHas(CapabilityBase11) && client.Has(CapabilityBase11):
		return FramingChunked, nil
	case serverHas(CapabilityBase10) && client.Has(CapabilityBase10):
		return FramingEOM, nil
	default:
		return FramingEOM, ErrNoCommonBase
	}
}
