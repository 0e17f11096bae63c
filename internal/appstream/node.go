// Package appstream parses firmware component descriptors, converts the
// rich-text description field to and from a constrained Markdown subset,
// and generates the published catalog XML.
package appstream

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Attr is a single XML attribute. Attributes keep document order.
type Attr struct {
	Key   string
	Value string
}

// Node is one element of a descriptor document. encoding/xml cannot
// round-trip a mixed ordered tree into structs, so descriptors are held
// as a literal node tree.
type Node struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
}

// NewNode returns an element with no attributes or children.
func NewNode(tag string) *Node {
	return &Node{Tag: tag}
}

// SetAttr adds or replaces an attribute.
func (n *Node) SetAttr(key, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Key == key {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, Attr{key, value})
	return n
}

// Attr returns the attribute value, or "".
func (n *Node) Attr(key string) string {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Add appends a child and returns it for chaining.
func (n *Node) Add(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// AddText appends a child with text content.
func (n *Node) AddText(tag, text string) *Node {
	return n.Add(&Node{Tag: tag, Text: text})
}

// First returns the first child with the given tag, or nil.
func (n *Node) First(tag string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// All returns every child with the given tag.
func (n *Node) All(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// FirstWithAttr returns the first child with the tag and attribute value.
func (n *Node) FirstWithAttr(tag, key, value string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag && c.Attr(key) == value {
			return c
		}
	}
	return nil
}

// ParseNode reads an XML document into a node tree. Character data inside
// an element with children is discarded apart from leading text, matching
// how descriptor documents are structured.
func ParseNode(buf []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(buf))
	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed XML: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := NewNode(t.Name.Local)
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{a.Name.Local, a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements")
				}
				root = n
			} else {
				stack[len(stack)-1].Add(n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 && len(stack[len(stack)-1].Children) == 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

// Serialize writes the tree as UTF-8 XML with a declaration. Output is
// deterministic for a given tree.
func (n *Node) Serialize() []byte {
	var b bytes.Buffer
	b.WriteString("<?xml version='1.0' encoding='utf-8'?>\n")
	n.write(&b)
	return b.Bytes()
}

func (n *Node) write(b *bytes.Buffer) {
	b.WriteByte('<')
	b.WriteString(n.Tag)
	for _, a := range n.Attrs {
		b.WriteString(" ")
		b.WriteString(a.Key)
		b.WriteString(`="`)
		xml.EscapeText(b, []byte(a.Value))
		b.WriteString(`"`)
	}
	if n.Text == "" && len(n.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	if n.Text != "" {
		xml.EscapeText(b, []byte(n.Text))
	}
	for _, c := range n.Children {
		c.write(b)
	}
	b.WriteString("</")
	b.WriteString(n.Tag)
	b.WriteByte('>')
}

// unwrapText joins wrapped lines of element text into a single line.
func unwrapText(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " ")
}
