package presence

import (
	"strconv"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Status codes carried in the muc#user extension.
const (
	StatusNonAnonymous = 100
	StatusSelfPresence = 110
	StatusLogging      = 170
	StatusRoomCreated  = 201
	StatusNickChanged  = 303
)

// Source is the occupant a directed presence is about.
type Source struct {
	JID         jid.JID
	Nick        string
	Affiliation muc.Affiliation
	Role        muc.Role
}

// sourceOf describes the occupant holding nick. JID is the first resource
// sharing the nickname.
func sourceOf(room *muc.Room, nick string) Source {
	src := Source{Nick: nick, Role: room.Role(nick)}
	if jids := room.OccupantJIDs(nick); len(jids) > 0 {
		src.JID = jids[0]
	} else if bare, ok := room.OccupantJID(nick); ok {
		src.JID = bare
	}
	src.Affiliation = room.Affiliation(src.JID)
	return src
}

// Directed is a presence addressed to one recipient on behalf of an
// occupant.
type Directed struct {
	packet *element.Packet
	x      *element.Element
	item   *element.Element
}

// BuildDirected stamps base with the room address of src and the
// recipient, and appends the muc#user item describing src. base is
// modified in place.
func BuildDirected(room *muc.Room, recipient jid.JID, base *element.Element, src Source) *Directed {
	cfg := room.Config()

	from, err := room.Address().WithResource(src.Nick)
	if err != nil {
		base.SetAttr("from", room.Address().String()+"/"+src.Nick)
	} else {
		base.SetAttr("from", from.String())
	}
	base.SetAttr("to", recipient.String())

	x := element.NewElement(element.NSMUCUser, "x")
	item := element.NewElement(element.NSMUCUser, "item",
		"affiliation", string(src.Affiliation),
		"role", string(src.Role),
		"nick", src.Nick,
	)
	x.AddChild(item)
	base.AddChild(x)

	d := &Directed{packet: element.NewPacket(base), x: x, item: item}

	if src.JID.Bare().Equal(recipient.Bare()) {
		d.packet.Priority = element.PriorityHigh
		d.AddStatusCode(StatusSelfPresence)
		if cfg.Anonymity == muc.NonAnonymous {
			d.AddStatusCode(StatusNonAnonymous)
		}
		if cfg.Logging {
			d.AddStatusCode(StatusLogging)
		}
	}

	if cfg.Anonymity == muc.NonAnonymous ||
		(cfg.Anonymity == muc.SemiAnonymous && room.Affiliation(recipient).CanViewOccupantsJID()) {
		item.SetAttr("jid", src.JID.String())
	}

	return d
}

// AddStatusCode appends a status element with code.
func (d *Directed) AddStatusCode(code int) {
	d.x.AddChild(element.NewElement(element.NSMUCUser, "status", "code", strconv.Itoa(code)))
}

// SetNewNick marks the presence as a nickname change to nick.
func (d *Directed) SetNewNick(nick string) {
	d.AddStatusCode(StatusNickChanged)
	d.item.SetAttr("nick", nick)
}

// Packet returns the built packet.
func (d *Directed) Packet() *element.Packet {
	return d.packet
}

// Element returns the built presence element.
func (d *Directed) Element() *element.Element {
	return d.packet.Element
}

// StatusCodes returns the status codes added so far, in order.
func (d *Directed) StatusCodes() []int {
	var codes []int
	for _, c := range d.x.Children {
		if c.Name() != "status" {
			continue
		}
		if code, err := strconv.Atoi(c.AttributeValue("code")); err == nil {
			codes = append(codes, code)
		}
	}
	return codes
}
