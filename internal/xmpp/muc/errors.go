package muc

import (
	"strconv"

	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/element"
)

// Error is a presence-processing failure that is reported back to the
// sender as a stanza error. It never affects other stanzas.
type Error struct {
	Condition stanza.Condition
	// Type is the error type attribute: auth, cancel, modify, wait.
	Type string
	// Code is the legacy numeric error code.
	Code int
	Text string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return "muc: " + string(e.Condition) + ": " + e.Text
	}
	return "muc: " + string(e.Condition)
}

// WithText returns a copy of e carrying a human-readable text.
func (e *Error) WithText(text string) *Error {
	c := *e
	c.Text = text
	return &c
}

// Is matches errors with the same condition.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Condition == e.Condition
}

var (
	ErrJIDMalformed          = &Error{Condition: stanza.JIDMalformed, Type: "modify", Code: 400}
	ErrNotAuthorized         = &Error{Condition: stanza.NotAuthorized, Type: "auth", Code: 401}
	ErrForbidden             = &Error{Condition: stanza.Forbidden, Type: "auth", Code: 403}
	ErrItemNotFound          = &Error{Condition: stanza.ItemNotFound, Type: "cancel", Code: 404}
	ErrNotAcceptable         = &Error{Condition: stanza.NotAcceptable, Type: "modify", Code: 406}
	ErrRegistrationRequired  = &Error{Condition: stanza.RegistrationRequired, Type: "auth", Code: 407}
	ErrConflict              = &Error{Condition: stanza.Conflict, Type: "cancel", Code: 409}
	ErrFeatureNotImplemented = &Error{Condition: stanza.FeatureNotImplemented, Type: "cancel", Code: 501}
)

// Reply builds the error stanza answering original: addresses swapped,
// type "error", original children kept, followed by the error element.
func (e *Error) Reply(original *element.Element) *element.Element {
	reply := original.Copy()
	from := original.AttributeValue("from")
	to := original.AttributeValue("to")
	reply.RemoveAttr("from")
	reply.RemoveAttr("to")
	if to != "" {
		reply.SetAttr("from", to)
	}
	if from != "" {
		reply.SetAttr("to", from)
	}
	reply.SetAttr("type", "error")

	errEl := element.NewElement("", "error", "type", e.Type)
	if e.Code != 0 {
		errEl.SetAttr("code", strconv.Itoa(e.Code))
	}
	errEl.AddChild(element.NewElement(element.NSStanzas, string(e.Condition)))
	if e.Text != "" {
		text := element.NewElement(element.NSStanzas, "text")
		text.Text = e.Text
		errEl.AddChild(text)
	}
	reply.AddChild(errEl)
	return reply
}
