package element

import (
	"encoding/xml"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// Namespaces used when building stanzas.
const (
	NSClient    = "jabber:client"
	NSStanzas   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSCaps      = "http://jabber.org/protocol/caps"
	NSDelay     = "urn:xmpp:delay"
	NSDelayOld  = "jabber:x:delay"
	NSMUC       = "http://jabber.org/protocol/muc"
	NSMUCUser   = "http://jabber.org/protocol/muc#user"
	MessageName = "message"
)

// Priority is the delivery priority of a packet.
type Priority int

// Packet priorities.
const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// Packet is an element ready to be handed to the transport together with
// its delivery priority.
type Packet struct {
	Element  *Element
	Priority Priority
}

// NewPacket wraps el with normal priority.
func NewPacket(el *Element) *Packet {
	return &Packet{Element: el}
}

// From returns the parsed from address of the packet.
func (p *Packet) From() (jid.JID, error) {
	return jid.Parse(p.Element.AttributeValue("from"))
}

// To returns the parsed to address of the packet.
func (p *Packet) To() (jid.JID, error) {
	return jid.Parse(p.Element.AttributeValue("to"))
}

// NewPresence returns an empty presence element of type typ.
func NewPresence(typ stanza.PresenceType) *Element {
	el := &Element{XMLName: xml.Name{Local: "presence"}}
	if typ != stanza.AvailablePresence {
		el.SetAttr("type", string(typ))
	}
	return el
}

// NewMessage returns a message element addressed from → to.
func NewMessage(typ stanza.MessageType, from, to string) *Element {
	return NewElement("", MessageName, "type", string(typ), "from", from, "to", to)
}

// PresenceType returns the type attribute of a presence element.
func PresenceType(el *Element) stanza.PresenceType {
	return stanza.PresenceType(el.AttributeValue("type"))
}
