package netconf

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Node is a generic XML element. Operation parameters are validated on this
// tree; their content is forwarded verbatim, so no schema binding is needed.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Inner    []byte     `xml:",innerxml"`
	Children []*Node    `xml:",any"`
}

// ErrMultipleRoots is returned when a document holds more than one top-level element.
var ErrMultipleRoots = errors.New("netconf: document has more than one root element")

// ParseDocument decodes raw as a single XML document.
func ParseDocument(raw []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var root Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("netconf: empty document")
		}
		return nil, fmt.Errorf("netconf: parse document: %w", err)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("netconf: parse document: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return nil, ErrMultipleRoots
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("netconf: text after root element")
			}
		}
	}

	return &root, nil
}

// Name returns the element's local name.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.XMLName.Local
}

// Namespace returns the element's namespace URI.
func (n *Node) Namespace() string {
	if n == nil {
		return ""
	}
	return n.XMLName.Space
}

// Attr returns the value of the unqualified attribute with the given local name.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child element with the given local name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

// ChildText returns the trimmed text of the named child, or "".
func (n *Node) ChildText(name string) string {
	c := n.Child(name)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text)
}

// TrimmedText returns the element's character data without surrounding whitespace.
func (n *Node) TrimmedText() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// InnerXML returns the raw content between the element's tags.
func (n *Node) InnerXML() []byte {
	if n == nil {
		return nil
	}
	return n.Inner
}
