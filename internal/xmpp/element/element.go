// Package element provides a small mutable XML element used to build and
// rewrite stanzas before they are handed to the transport.
package element

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"mellium.im/xmlstream"
)

// Element is a generic XML element with attributes, character data and
// child elements. Namespace declarations are not kept as attributes; the
// namespace of an element lives in XMLName.Space.
type Element struct {
	XMLName  xml.Name
	Attr     []xml.Attr
	Text     string
	Children []*Element
}

// NewElement returns an element in the given namespace with attributes
// given as name/value pairs.
func NewElement(space, local string, attrs ...string) *Element {
	el := &Element{XMLName: xml.Name{Space: space, Local: local}}
	for i := 0; i+1 < len(attrs); i += 2 {
		el.SetAttr(attrs[i], attrs[i+1])
	}
	return el
}

// Parse decodes a single element from s.
func Parse(s string) (*Element, error) {
	el := &Element{}
	if err := xml.Unmarshal([]byte(s), el); err != nil {
		return nil, err
	}
	return el, nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// static templates.
func MustParse(s string) *Element {
	el, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return el
}

// Name returns the local name of the element.
func (e *Element) Name() string {
	return e.XMLName.Local
}

// Namespace returns the namespace of the element.
func (e *Element) Namespace() string {
	return e.XMLName.Space
}

// Attribute returns the value of the unqualified attribute name.
func (e *Element) Attribute(name string) (string, bool) {
	for _, a := range e.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttributeValue is like Attribute but returns "" when absent.
func (e *Element) AttributeValue(name string) string {
	v, _ := e.Attribute(name)
	return v
}

// SetAttr sets or replaces the unqualified attribute name.
func (e *Element) SetAttr(name, value string) *Element {
	for i, a := range e.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			e.Attr[i].Value = value
			return e
		}
	}
	e.Attr = append(e.Attr, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return e
}

// RemoveAttr removes the unqualified attribute name.
func (e *Element) RemoveAttr(name string) {
	attrs := e.Attr[:0]
	for _, a := range e.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			continue
		}
		attrs = append(attrs, a)
	}
	e.Attr = attrs
}

// AddChild appends c and returns e.
func (e *Element) AddChild(c *Element) *Element {
	e.Children = append(e.Children, c)
	return e
}

// Child returns the first child with the given local name. An empty space
// matches any namespace.
func (e *Element) Child(local, space string) *Element {
	for _, c := range e.Children {
		if c.XMLName.Local == local && (space == "" || c.XMLName.Space == space) {
			return c
		}
	}
	return nil
}

// RemoveChild removes c from the children of e. It reports whether c was
// found.
func (e *Element) RemoveChild(c *Element) bool {
	for i, child := range e.Children {
		if child == c {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			return true
		}
	}
	return false
}

// ChildText returns the character data of the first matching child.
func (e *Element) ChildText(local, space string) (string, bool) {
	c := e.Child(local, space)
	if c == nil {
		return "", false
	}
	return c.Text, true
}

// Copy returns a deep copy of e.
func (e *Element) Copy() *Element {
	if e == nil {
		return nil
	}
	c := &Element{
		XMLName: e.XMLName,
		Text:    e.Text,
	}
	if len(e.Attr) > 0 {
		c.Attr = make([]xml.Attr, len(e.Attr))
		copy(c.Attr, e.Attr)
	}
	if len(e.Children) > 0 {
		c.Children = make([]*Element, 0, len(e.Children))
		for _, child := range e.Children {
			c.Children = append(c.Children, child.Copy())
		}
	}
	return c
}

// UnmarshalXML satisfies xml.Unmarshaler.
func (e *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.XMLName = start.Name
	e.Attr = e.Attr[:0]
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		e.Attr = append(e.Attr, a)
	}

	var text bytes.Buffer
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &Element{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			e.Children = append(e.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(e.Children) == 0 || len(bytes.TrimSpace(text.Bytes())) > 0 {
				e.Text = text.String()
			}
			return nil
		}
	}
}

// TokenReader returns a stream of XML tokens representing e.
func (e *Element) TokenReader() xml.TokenReader {
	return e.tokenReader("")
}

func (e *Element) tokenReader(parentSpace string) xml.TokenReader {
	start := xml.StartElement{Name: e.XMLName, Attr: e.Attr}
	if e.XMLName.Space == parentSpace {
		start.Name.Space = ""
	}

	inner := make([]xml.TokenReader, 0, len(e.Children)+1)
	if e.Text != "" {
		inner = append(inner, xmlstream.Token(xml.CharData(e.Text)))
	}
	for _, c := range e.Children {
		inner = append(inner, c.tokenReader(e.XMLName.Space))
	}
	return xmlstream.Wrap(xmlstream.MultiReader(inner...), start)
}

// WriteXML satisfies xmlstream.WriterTo.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	if _, err := e.WriteXML(enc); err != nil {
		return err
	}
	return enc.Flush()
}

// WriteTo encodes e as XML to w.
func (e *Element) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := e.WriteXML(enc); err != nil {
		return 0, err
	}
	if err := enc.Flush(); err != nil {
		return 0, err
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// String returns the XML encoding of e.
func (e *Element) String() string {
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return fmt.Sprintf("<!-- %v -->", err)
	}
	return buf.String()
}
