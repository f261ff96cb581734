package history

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Rooms is the room repository seen by the Archiver
type Rooms interface {
	GetRoom(addr jid.JID) (*muc.Room, error)
	SaveRoom(room *muc.Room) error
	Lock(addr jid.JID) func()
}

// Archiver captures groupchat messages sent to a room: subject changes
// update the room and bodies go to the transcript. Messages are not relayed.
type Archiver struct {
	rooms Rooms
	store *Store
	log   hclog.Logger
	now   func() time.Time
}

// NewArchiver creates an archiver. store may be nil, in which case only
// subject changes are kept.
func NewArchiver(rooms Rooms, store *Store, logger hclog.Logger) *Archiver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Archiver{rooms: rooms, store: store, log: logger, now: time.Now}
}

// HandleMessage processes one inbound message. Like presence processing,
// a *muc.Error refuses the message and other errors are fatal.
func (a *Archiver) HandleMessage(ctx context.Context, msg *element.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if stanza.MessageType(msg.AttributeValue("type")) != stanza.GroupChatMessage {
		return nil
	}
	from, err := jid.Parse(msg.AttributeValue("from"))
	if err != nil {
		return muc.ErrJIDMalformed
	}
	to, err := jid.Parse(msg.AttributeValue("to"))
	if err != nil {
		return muc.ErrJIDMalformed
	}
	if to.Resourcepart() != "" {
		return nil
	}

	unlock := a.rooms.Lock(to)
	defer unlock()

	room, err := a.rooms.GetRoom(to)
	if err != nil {
		return err
	}
	if room == nil {
		return muc.ErrItemNotFound.WithText("Unknown room")
	}
	nick := room.OccupantNickname(from)
	if nick == "" {
		return muc.ErrNotAcceptable.WithText("Only occupants are allowed to send messages to the conference")
	}
	role := room.Role(nick)
	if room.Config().Moderated && role == muc.RoleVisitor {
		return muc.ErrForbidden.WithText("Visitors are not allowed to send messages in moderated rooms")
	}

	now := a.now()
	if subject, ok := msg.ChildText("subject", ""); ok {
		if role != muc.RoleModerator {
			return muc.ErrForbidden.WithText("Only moderators may change the subject")
		}
		room.SetSubject(subject, nick, now)
		if err := a.rooms.SaveRoom(room); err != nil {
			return err
		}
		a.log.Debug("subject changed", "room", room.Address(), "nick", nick)
	}

	if _, ok := msg.ChildText("body", ""); ok && a.store != nil {
		if err := a.store.AddMessage(room, now, from, nick, msg); err != nil {
			a.log.Warn("failed to archive message", "room", room.Address(), "error", err)
		}
	}
	return nil
}
