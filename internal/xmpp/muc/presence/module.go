// Package presence turns inbound MUC presence into room state changes and
// the presence, history and notices that occupants receive as a result.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/delay"
	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Notice texts sent to occupants as groupchat messages.
const (
	NoticeLocked   = "Room is locked. Please configure."
	NoticeWelcome  = "Welcome! You created new Multi User Chat Room."
	NoticeIsLocked = " Room is locked now. Configure it please!"
	NoticeUnlocked = " Room is unlocked and ready for occupants!"
)

// Writer hands stanzas to the transport.
type Writer interface {
	Write(p *element.Packet)
	WriteElement(el *element.Element)
}

// Repository owns room lifecycles.
type Repository interface {
	// GetRoom returns nil if the room does not exist.
	GetRoom(addr jid.JID) (*muc.Room, error)
	CreateNewRoom(addr, creator jid.JID) (*muc.Room, error)
	LeaveRoom(room *muc.Room) error
	// Discard releases a room that never admitted anyone.
	Discard(room *muc.Room)
	// Lock serializes work on one room and returns the unlock function.
	Lock(addr jid.JID) func()
}

// HistoryRequest limits the history replayed to an entrant. Nil fields
// are unset.
type HistoryRequest struct {
	MaxChars   *int
	MaxStanzas *int
	Seconds    *int
	Since      *time.Time
}

// HistoryProvider stores room transcripts and replays them.
type HistoryProvider interface {
	AddJoinEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error
	AddLeaveEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error
	GetHistoryMessages(room *muc.Room, recipient jid.JID, req HistoryRequest, w Writer) error
	RemoveHistory(room *muc.Room) error
}

// Logger keeps a durable record of joins and leaves.
type Logger interface {
	AddJoinEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error
	AddLeaveEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error
}

// Queue defers delivery of a batch of stanzas.
type Queue interface {
	Put(batch []*element.Element)
}

// Options configures a Module. History, Logger and Queue are optional.
type Options struct {
	History HistoryProvider
	Logger  Logger
	Queue   Queue

	// LockNewRooms leaves newly created rooms locked until configured.
	LockNewRooms bool
	// FilterPresence strips unknown children from inbound presence.
	FilterPresence bool
	// DeferCatchUp hands history, subject and notices to Queue instead
	// of writing them with the presence burst.
	DeferCatchUp bool

	Log hclog.Logger
	Now func() time.Time
}

// Module processes presence addressed to rooms.
type Module struct {
	writer  Writer
	repo    Repository
	history HistoryProvider
	logger  Logger
	queue   Queue

	filter       Filter
	lockNewRooms bool
	deferCatchUp bool

	log hclog.Logger
	now func() time.Time
}

// New creates a presence module writing to w.
func New(w Writer, repo Repository, opts Options) *Module {
	m := &Module{
		writer:       w,
		repo:         repo,
		history:      opts.History,
		logger:       opts.Logger,
		queue:        opts.Queue,
		filter:       Filter{Enabled: opts.FilterPresence},
		lockNewRooms: opts.LockNewRooms,
		deferCatchUp: opts.DeferCatchUp && opts.Queue != nil,
		log:          opts.Log,
		now:          opts.Now,
	}
	if m.log == nil {
		m.log = hclog.NewNullLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.FilterPresence {
		m.log.Info("filtering presence children is enabled")
	} else {
		m.log.Info("filtering presence children is disabled")
	}
	return m
}

// Process handles one inbound presence. A *muc.Error means p was refused
// and should be answered with an error reply; any other error comes from
// the repository and is not recoverable.
func (m *Module) Process(ctx context.Context, p *element.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if element.PresenceType(p) == stanza.ErrorPresence {
		m.log.Trace("ignoring error presence", "from", p.AttributeValue("from"))
		return nil
	}

	sender, err := jid.Parse(p.AttributeValue("from"))
	if err != nil {
		return muc.ErrJIDMalformed
	}
	to, err := jid.Parse(p.AttributeValue("to"))
	if err != nil {
		return muc.ErrJIDMalformed
	}
	roomAddr := to.Bare()
	nick := to.Resourcepart()

	unlock := m.repo.Lock(roomAddr)
	defer unlock()

	room, err := m.repo.GetRoom(roomAddr)
	if err != nil {
		return fmt.Errorf("get room %s: %w", roomAddr, err)
	}

	action := Classify(room, sender, nick, p)
	if action != Exit && nick == "" {
		return muc.ErrJIDMalformed
	}
	m.log.Trace("processing presence", "room", roomAddr, "from", sender, "action", action)

	switch action {
	case Ignore:
		return nil
	case Exit:
		return m.processExit(room, sender)
	case NicknameChange:
		return muc.ErrFeatureNotImplemented.WithText("Will be done soon")
	case AvailabilityUpdate:
		m.processAvailability(room, p, sender)
		return nil
	}

	created := false
	if room == nil {
		m.log.Info("creating new room", "room", roomAddr, "nick", nick, "creator", sender)
		room, err = m.repo.CreateNewRoom(roomAddr, sender)
		if err != nil {
			return fmt.Errorf("create room %s: %w", roomAddr, err)
		}
		room.SetAffiliation(sender, muc.AffiliationOwner)
		room.SetLocked(m.lockNewRooms)
		created = true
	}

	err = m.processEntering(room, created, p, sender, nick)
	var merr *muc.Error
	if created && errors.As(err, &merr) {
		m.repo.Discard(room)
	}
	return err
}

func (m *Module) processEntering(room *muc.Room, created bool, p *element.Element, sender jid.JID, nick string) error {
	affiliation := room.Affiliation(sender)
	x := p.Child("x", element.NSMUC)

	entry := muc.Entry{Occupant: sender, Nick: nick, Affiliation: affiliation}
	if x != nil {
		if pw := x.Child("password", ""); pw != nil {
			entry.Password, entry.HasPassword = pw.Text, true
		}
	}
	if err := muc.CanEnter(room, entry); err != nil {
		m.log.Info("entry denied", "room", room.Address(), "nick", nick, "occupant", sender, "reason", err)
		return err
	}
	_, occupied := room.OccupantJID(nick)

	// Existing occupants to the entrant.
	for _, occupantNick := range room.Nicknames() {
		bare, _ := room.OccupantJID(occupantNick)
		op := room.LastPresence(bare)
		if op == nil {
			op = element.NewPresence(stanza.AvailablePresence)
		}
		m.writer.Write(BuildDirected(room, sender, op, sourceOf(room, occupantNick)).Packet())
	}

	role := muc.DefaultRole(room.Config().Moderated, affiliation)
	m.log.Debug("occupant entering room", "room", room.Address(), "nick", nick, "occupant", sender,
		"role", role, "affiliation", affiliation)
	room.AddOccupant(sender, nick, role)
	room.UpdatePresence(sender, m.filter.Clone(p))

	if !occupied {
		m.broadcast(room, room.LastPresence(sender), sender, created)
	}

	w := m.catchUpWriter()
	if m.history != nil {
		req := parseHistoryRequest(x)
		if err := m.history.GetHistoryMessages(room, sender, req, w); err != nil {
			m.log.Warn("failed to replay history", "room", room.Address(), "recipient", sender, "error", err)
		}
	}
	if subject := room.Subject(); subject.IsSet() {
		w.WriteElement(subjectMessage(room, subject, sender))
	}
	if room.IsLocked() {
		m.sendNotice(w, room, nick, NoticeLocked)
	}
	if created {
		text := NoticeWelcome
		if room.IsLocked() {
			text += NoticeIsLocked
		} else {
			text += NoticeUnlocked
		}
		m.sendNotice(w, room, nick, text)
	}
	if bw, ok := w.(*batchWriter); ok && len(bw.batch) > 0 {
		m.queue.Put(bw.batch)
	}

	if room.Config().Logging {
		m.recordJoin(room, sender, nick)
	}
	return nil
}

func (m *Module) processAvailability(room *muc.Room, p *element.Element, sender jid.JID) {
	room.UpdatePresence(sender, m.filter.Clone(p))
	m.broadcast(room, room.LastPresence(sender), sender, false)
}

func (m *Module) processExit(room *muc.Room, sender jid.JID) error {
	if room == nil {
		return muc.ErrItemNotFound.WithText("Unknown room")
	}
	if room.OccupantNickname(sender) == "" {
		return muc.ErrItemNotFound.WithText("Unknown occupant")
	}
	return m.doQuit(room, sender)
}

// doQuit removes sender from room, informing it and, once its nickname is
// vacated, everybody else. An empty room is released.
func (m *Module) doQuit(room *muc.Room, sender jid.JID) error {
	nick := room.OccupantNickname(sender)
	src := Source{
		JID:         sender,
		Nick:        nick,
		Affiliation: room.Affiliation(sender),
		Role:        room.Role(nick),
	}

	self := BuildDirected(room, sender, element.NewPresence(stanza.UnavailablePresence), src)
	gone := room.RemoveOccupant(sender)
	room.UpdatePresence(sender, nil)
	m.writer.Write(self.Packet())

	if gone {
		for _, occupantNick := range room.Nicknames() {
			for _, occupant := range room.OccupantJIDs(occupantNick) {
				d := BuildDirected(room, occupant, element.NewPresence(stanza.UnavailablePresence), src)
				m.writer.Write(d.Packet())
			}
		}
		if room.Config().Logging {
			m.recordLeave(room, sender, nick)
		}
	}

	if room.OccupantCount() == 0 {
		if m.history != nil && !room.Config().Persistent {
			if err := m.history.RemoveHistory(room); err != nil {
				m.log.Warn("failed to remove history", "room", room.Address(), "error", err)
			}
		}
		if err := m.repo.LeaveRoom(room); err != nil {
			return fmt.Errorf("release room %s: %w", room.Address(), err)
		}
		m.log.Debug("room released", "room", room.Address())
	}
	return nil
}

// broadcast sends base, as the presence of sender, to every occupant
// resource.
func (m *Module) broadcast(room *muc.Room, base *element.Element, sender jid.JID, created bool) {
	nick := room.OccupantNickname(sender)
	src := Source{
		JID:         sender,
		Nick:        nick,
		Affiliation: room.Affiliation(sender),
		Role:        room.Role(nick),
	}
	if base == nil {
		base = element.NewPresence(stanza.UnavailablePresence)
	}

	for _, occupantNick := range room.Nicknames() {
		for _, occupant := range room.OccupantJIDs(occupantNick) {
			d := BuildDirected(room, occupant, base.Copy(), src)
			if created {
				d.AddStatusCode(StatusRoomCreated)
			}
			m.writer.Write(d.Packet())
		}
	}
}

func (m *Module) sendNotice(w Writer, room *muc.Room, nick, text string) {
	for _, occupant := range room.OccupantJIDs(nick) {
		msg := element.NewMessage(stanza.GroupChatMessage, room.Address().String(), occupant.String())
		body := element.NewElement("", "body")
		body.Text = text
		msg.AddChild(body)
		w.Write(element.NewPacket(msg))
	}
}

func subjectMessage(room *muc.Room, subject muc.Subject, recipient jid.JID) *element.Element {
	from := room.Address().String() + "/" + subject.ChangedBy
	msg := element.NewMessage(stanza.GroupChatMessage, from, recipient.String())

	s := element.NewElement("", "subject")
	s.Text = subject.Text
	msg.AddChild(s)

	modern, legacy := delay.Elements(from, subject.ChangedAt)
	msg.AddChild(modern)
	msg.AddChild(legacy)
	return msg
}

func (m *Module) recordJoin(room *muc.Room, occupant jid.JID, nick string) {
	at := m.now()
	if m.history != nil {
		if err := m.history.AddJoinEvent(room, at, occupant, nick); err != nil {
			m.log.Warn("failed to record join in history", "room", room.Address(), "nick", nick, "error", err)
		}
	}
	if m.logger != nil {
		if err := m.logger.AddJoinEvent(room, at, occupant, nick); err != nil {
			m.log.Warn("failed to log join", "room", room.Address(), "nick", nick, "error", err)
		}
	}
}

func (m *Module) recordLeave(room *muc.Room, occupant jid.JID, nick string) {
	at := m.now()
	if m.history != nil {
		if err := m.history.AddLeaveEvent(room, at, occupant, nick); err != nil {
			m.log.Warn("failed to record leave in history", "room", room.Address(), "nick", nick, "error", err)
		}
	}
	if m.logger != nil {
		if err := m.logger.AddLeaveEvent(room, at, occupant, nick); err != nil {
			m.log.Warn("failed to log leave", "room", room.Address(), "nick", nick, "error", err)
		}
	}
}

// catchUpWriter returns where history, subject and notices go.
func (m *Module) catchUpWriter() Writer {
	if m.deferCatchUp {
		return &batchWriter{}
	}
	return m.writer
}

// batchWriter collects stanzas for the delayed delivery queue.
type batchWriter struct {
	batch []*element.Element
}

func (b *batchWriter) Write(p *element.Packet) {
	b.batch = append(b.batch, p.Element)
}

func (b *batchWriter) WriteElement(el *element.Element) {
	b.batch = append(b.batch, el)
}

func parseHistoryRequest(x *element.Element) HistoryRequest {
	var req HistoryRequest
	if x == nil {
		return req
	}
	h := x.Child("history", "")
	if h == nil {
		return req
	}
	req.MaxChars = parseInt(h.AttributeValue("maxchars"))
	req.MaxStanzas = parseInt(h.AttributeValue("maxstanzas"))
	req.Seconds = parseInt(h.AttributeValue("seconds"))
	if since, ok := delay.Parse(h.AttributeValue("since")); ok {
		req.Since = &since
	}
	return req
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
