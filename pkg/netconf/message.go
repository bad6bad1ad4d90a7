package netconf

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
)

// BaseNamespace is the NETCONF base namespace carried by rpc and rpc-reply.
const BaseNamespace = "urn:ietf:params:xml:ns:netconf:base:1.0"

// Envelope is the raw bytes of an inbound <rpc>. It travels verbatim to the
// order engine and back so the reply can be correlated.
type Envelope []byte

// Attributes returns the unqualified attributes of the root element.
func (e Envelope) Attributes() ([]xml.Attr, error) {
	dec := xml.NewDecoder(bytes.NewReader(e))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("netconf: envelope has no root element")
			}
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return replyAttrs(start.Attr), nil
		}
	}
}

// MessageID returns the message-id of the root element.
func (e Envelope) MessageID() (string, bool) {
	attrs, err := e.Attributes()
	if err != nil {
		return "", false
	}
	for _, a := range attrs {
		if a.Name.Local == "message-id" {
			return a.Value, true
		}
	}
	return "", false
}

// RPC is one parsed <rpc> request.
type RPC struct {
	MessageID string
	Attrs     []xml.Attr
	Root      *Node
	Envelope  Envelope
}

// ParseRPC decodes raw into an RPC. A document that does not parse, whose
// root is not rpc, or that lacks a message-id yields KindMalformedMessage.
func ParseRPC(raw []byte) (*RPC, error) {
	root, err := ParseDocument(raw)
	if err != nil {
		return nil, NewMalformedMessage("message is not well-formed XML", err)
	}
	if root.Name() != "rpc" {
		return nil, NewMalformedMessage("root element is "+root.Name()+", expected rpc", nil)
	}
	if ns := root.Namespace(); ns != "" && ns != BaseNamespace {
		return nil, NewMalformedMessage("rpc is in namespace "+ns+", expected "+BaseNamespace, nil)
	}
	id, ok := root.Attr("message-id")
	if !ok || id == "" {
		return nil, NewMalformedMessage("rpc has no message-id attribute", nil)
	}
	return &RPC{
		MessageID: id,
		Attrs:     replyAttrs(root.Attrs),
		Root:      root,
		Envelope:  Envelope(raw),
	}, nil
}

// Operation returns the single operation element of the rpc.
func (r *RPC) Operation() (*Node, error) {
	if len(r.Root.Children) != 1 {
		return nil, NewBadMessage("rpc must contain exactly one operation element, found " +
			strconv.Itoa(len(r.Root.Children)))
	}
	return r.Root.Children[0], nil
}

// replyAttrs keeps the unqualified attributes that are echoed on rpc-reply.
// Namespace declarations are dropped; the reply declares its own.
func replyAttrs(in []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(in))
	for _, a := range in {
		if a.Name.Space != "" || a.Name.Local == "xmlns" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Reply is an outbound <rpc-reply>. Exactly one of OK, Data, Body or Errors
// should be set; Errors takes precedence.
type Reply struct {
	Attrs  []xml.Attr
	OK     bool
	Data   []byte // inner XML of <data>
	Body   []byte // raw reply content
	Errors []*RPCError
}

// OKReply returns <rpc-reply><ok/></rpc-reply> carrying attrs.
func OKReply(attrs []xml.Attr) *Reply {
	return &Reply{Attrs: attrs, OK: true}
}

// ErrorReply returns an rpc-reply carrying a single rpc-error.
func ErrorReply(attrs []xml.Attr, rerr *RPCError) *Reply {
	return &Reply{Attrs: attrs, Errors: []*RPCError{rerr}}
}

// DataReply returns an rpc-reply whose <data> element wraps inner.
func DataReply(attrs []xml.Attr, inner []byte) *Reply {
	return &Reply{Attrs: attrs, Data: inner}
}

// Bytes renders the reply document.
func (r *Reply) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(`<rpc-reply xmlns="` + BaseNamespace + `"`)
	for _, a := range r.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Name.Local)
		b.WriteString(`="`)
		escape(&b, a.Value)
		b.WriteByte('"')
	}
	b.WriteByte('>')

	switch {
	case len(r.Errors) > 0:
		for _, e := range r.Errors {
			writeRPCError(&b, e)
		}
	case r.Data != nil:
		b.WriteString("<data>")
		b.Write(r.Data)
		b.WriteString("</data>")
	case r.Body != nil:
		b.Write(r.Body)
	default:
		b.WriteString("<ok/>")
	}

	b.WriteString("</rpc-reply>")
	return b.Bytes()
}

func writeRPCError(b *bytes.Buffer, e *RPCError) {
	severity := e.Severity
	if severity == "" {
		severity = SeverityError
	}
	b.WriteString("<rpc-error>")
	element(b, "error-type", e.Type)
	element(b, "error-tag", e.Tag)
	element(b, "error-severity", severity)
	if e.Message != "" {
		b.WriteString(`<error-message xml:lang="en">`)
		escape(b, e.Message)
		b.WriteString("</error-message>")
	}
	if len(e.Info) > 0 {
		b.WriteString("<error-info>")
		for _, i := range e.Info {
			element(b, i.Name, i.Value)
		}
		b.WriteString("</error-info>")
	}
	b.WriteString("</rpc-error>")
}

func element(b *bytes.Buffer, name, value string) {
	b.WriteString("<" + name + ">")
	escape(b, value)
	b.WriteString("</" + name + ">")
}

func escape(b *bytes.Buffer, s string) {
	// EscapeText only fails on write errors; bytes.Buffer never returns one.
	_ = xml.EscapeText(b, []byte(s))
}
