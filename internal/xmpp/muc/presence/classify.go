package presence

import (
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Action is what an inbound presence asks of a room
type Action int

const (
	Ignore Action = iota
	Enter
	Reenter
	Exit
	NicknameChange
	AvailabilityUpdate
)

func (a Action) String() string {
	switch a {
	case Enter:
		return "enter"
	case Reenter:
		return "reenter"
	case Exit:
		return "exit"
	case NicknameChange:
		return "nickname-change"
	case AvailabilityUpdate:
		return "availability-update"
	default:
		return "ignore"
	}
}

// Classify decides what p from sender means for room, which is nil when the
// room does not exist. nick is the nickname p is addressed to.
func Classify(room *muc.Room, sender jid.JID, nick string, p *element.Element) Action {
	switch element.PresenceType(p) {
	case stanza.ErrorPresence:
		return Ignore
	case stanza.UnavailablePresence:
		return Exit
	}
	if room == nil {
		return Enter
	}

	known := room.OccupantNickname(sender)
	if known == "" {
		// A bare JID holds one nickname across its resources.
		if held, ok := room.BareNickname(sender); ok && held != nick {
			return NicknameChange
		}
		return Enter
	}
	switch {
	case known != nick:
		return NicknameChange
	case p.Child("x", element.NSMUC) != nil:
		return Reenter
	default:
		return AvailabilityUpdate
	}
}
