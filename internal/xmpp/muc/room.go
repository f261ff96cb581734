package muc

import (
	"crypto/subtle"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/element"
)

// RoomConfig is the configuration of a room
type RoomConfig struct {
	Name              string
	Anonymity         Anonymity
	MembersOnly       bool
	Moderated         bool
	PasswordProtected bool
	// Password is either plain text or a bcrypt hash.
	Password   string
	Persistent bool
	Logging    bool
}

// CheckPassword reports whether supplied matches the room password.
func (c RoomConfig) CheckPassword(supplied string) bool {
	if isBcryptHash(c.Password) {
		return bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.Password), []byte(supplied)) == 1
}

// HashPassword returns a bcrypt hash suitable for RoomConfig.Password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// Subject is the room subject and who set it
type Subject struct {
	Text      string
	ChangedBy string // Nick
	ChangedAt time.Time
}

// IsSet reports whether a complete subject is present
func (s Subject) IsSet() bool {
	return s.Text != "" && s.ChangedBy != "" && !s.ChangedAt.IsZero()
}

// Occupant is a nickname held in a room by one bare JID, possibly from
// several resources at once.
type Occupant struct {
	Nick string
	JID  jid.JID // Bare
	Role Role
	// Resources are the full JIDs sharing the nickname, in join order.
	Resources []jid.JID
}

type presenceEntry struct {
	el  *element.Element
	seq uint64
}

// Room is the state of one room. It is not safe for concurrent use; callers
// serialize access with Manager.Lock.
type Room struct {
	addr    jid.JID
	config  RoomConfig
	creator jid.JID
	created time.Time
	locked  bool
	subject Subject

	affiliations map[string]Affiliation // bare JID -> affiliation
	occupants    map[string]*Occupant   // nick -> occupant
	nickByJID    map[string]string      // full JID -> nick
	presences    map[string]map[string]presenceEntry
	presenceSeq  uint64
}

// NewRoom creates an empty, unlocked room.
func NewRoom(addr, creator jid.JID, cfg RoomConfig, created time.Time) *Room {
	return &Room{
		addr:         addr.Bare(),
		config:       cfg,
		creator:      creator,
		created:      created,
		affiliations: make(map[string]Affiliation),
		occupants:    make(map[string]*Occupant),
		nickByJID:    make(map[string]string),
		presences:    make(map[string]map[string]presenceEntry),
	}
}

// Address returns the bare room JID
func (r *Room) Address() jid.JID {
	return r.addr
}

// Config returns the room configuration
func (r *Room) Config() RoomConfig {
	return r.config
}

// SetConfig replaces the room configuration
func (r *Room) SetConfig(cfg RoomConfig) {
	r.config = cfg
}

// Creator returns the JID that created the room
func (r *Room) Creator() jid.JID {
	return r.creator
}

// Created returns the creation time
func (r *Room) Created() time.Time {
	return r.created
}

// IsLocked reports whether the room awaits configuration by its owner
func (r *Room) IsLocked() bool {
	return r.locked
}

// SetLocked locks or unlocks the room
func (r *Room) SetLocked(locked bool) {
	r.locked = locked
}

// Subject returns the room subject
func (r *Room) Subject() Subject {
	return r.subject
}

// SetSubject sets the room subject
func (r *Room) SetSubject(text, nick string, at time.Time) {
	r.subject = Subject{Text: text, ChangedBy: nick, ChangedAt: at}
}

// Affiliation returns the affiliation of a JID, none if unknown
func (r *Room) Affiliation(j jid.JID) Affiliation {
	if a, ok := r.affiliations[j.Bare().String()]; ok {
		return a
	}
	return AffiliationNone
}

// SetAffiliation sets the affiliation of a bare JID; none removes it
func (r *Room) SetAffiliation(j jid.JID, a Affiliation) {
	key := j.Bare().String()
	if a == AffiliationNone {
		delete(r.affiliations, key)
		return
	}
	r.affiliations[key] = a
}

// Affiliations returns a copy of the affiliation table
func (r *Room) Affiliations() map[string]Affiliation {
	out := make(map[string]Affiliation, len(r.affiliations))
	for k, v := range r.affiliations {
		out[k] = v
	}
	return out
}

// OccupantNickname returns the nickname held by a full JID, "" if absent
func (r *Room) OccupantNickname(full jid.JID) string {
	return r.nickByJID[full.String()]
}

// BareNickname returns the nickname held by any resource of bare
func (r *Room) BareNickname(bare jid.JID) (string, bool) {
	bare = bare.Bare()
	for nick, o := range r.occupants {
		if o.JID.Equal(bare) {
			return nick, true
		}
	}
	return "", false
}

// Occupant returns the occupant holding nick
func (r *Room) Occupant(nick string) (Occupant, bool) {
	o, ok := r.occupants[nick]
	if !ok {
		return Occupant{}, false
	}
	c := *o
	c.Resources = append([]jid.JID(nil), o.Resources...)
	return c, true
}

// OccupantJID returns the bare JID holding nick
func (r *Room) OccupantJID(nick string) (jid.JID, bool) {
	o, ok := r.occupants[nick]
	if !ok {
		return jid.JID{}, false
	}
	return o.JID, true
}

// OccupantJIDs returns the full JIDs sharing nick
func (r *Room) OccupantJIDs(nick string) []jid.JID {
	o, ok := r.occupants[nick]
	if !ok {
		return nil
	}
	return append([]jid.JID(nil), o.Resources...)
}

// Role returns the role of nick, none if absent
func (r *Room) Role(nick string) Role {
	if o, ok := r.occupants[nick]; ok {
		return o.Role
	}
	return RoleNone
}

// Nicknames returns the occupied nicknames in sorted order
func (r *Room) Nicknames() []string {
	nicks := make([]string, 0, len(r.occupants))
	for nick := range r.occupants {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	return nicks
}

// Occupants returns a copy of all occupants sorted by nickname
func (r *Room) Occupants() []Occupant {
	out := make([]Occupant, 0, len(r.occupants))
	for _, nick := range r.Nicknames() {
		o, _ := r.Occupant(nick)
		out = append(out, o)
	}
	return out
}

// OccupantCount returns the number of occupied nicknames
func (r *Room) OccupantCount() int {
	return len(r.occupants)
}

// AddOccupant binds full to nick with the given role. A second resource of
// the same bare JID joins the existing nickname.
func (r *Room) AddOccupant(full jid.JID, nick string, role Role) {
	key := full.String()
	if old, ok := r.nickByJID[key]; ok && old != nick {
		r.RemoveOccupant(full)
	}

	o, ok := r.occupants[nick]
	if !ok {
		o = &Occupant{Nick: nick, JID: full.Bare()}
		r.occupants[nick] = o
	}
	o.Role = role
	if _, ok := r.nickByJID[key]; !ok {
		o.Resources = append(o.Resources, full)
	}
	r.nickByJID[key] = nick
}

// RemoveOccupant unbinds full. It reports whether the nickname became
// vacant as a result.
func (r *Room) RemoveOccupant(full jid.JID) bool {
	key := full.String()
	nick, ok := r.nickByJID[key]
	if !ok {
		return false
	}
	delete(r.nickByJID, key)

	o := r.occupants[nick]
	for i, res := range o.Resources {
		if res.Equal(full) {
			o.Resources = append(o.Resources[:i], o.Resources[i+1:]...)
			break
		}
	}
	if len(o.Resources) == 0 {
		delete(r.occupants, nick)
		return true
	}
	return false
}

// UpdatePresence stores the last presence broadcast for full. A nil
// presence clears it.
func (r *Room) UpdatePresence(full jid.JID, p *element.Element) {
	bare := full.Bare().String()
	if p == nil {
		if m, ok := r.presences[bare]; ok {
			delete(m, full.String())
			if len(m) == 0 {
				delete(r.presences, bare)
			}
		}
		return
	}
	m, ok := r.presences[bare]
	if !ok {
		m = make(map[string]presenceEntry)
		r.presences[bare] = m
	}
	r.presenceSeq++
	m[full.String()] = presenceEntry{el: p.Copy(), seq: r.presenceSeq}
}

// LastPresence returns a copy of the most recent presence stored for any
// resource of the bare JID, nil if none.
func (r *Room) LastPresence(j jid.JID) *element.Element {
	var best presenceEntry
	for _, e := range r.presences[j.Bare().String()] {
		if e.seq > best.seq {
			best = e
		}
	}
	return best.el.Copy()
}

// RoomRecord is the persisted form of a room
type RoomRecord struct {
	Address      jid.JID
	Config       RoomConfig
	Creator      jid.JID
	Created      time.Time
	Locked       bool
	Subject      Subject
	Affiliations map[string]Affiliation
}

// Record returns the persisted form of r
func (r *Room) Record() RoomRecord {
	return RoomRecord{
		Address:      r.addr,
		Config:       r.config,
		Creator:      r.creator,
		Created:      r.created,
		Locked:       r.locked,
		Subject:      r.subject,
		Affiliations: r.Affiliations(),
	}
}

// RestoreRoom rebuilds an occupant-less room from its record
func RestoreRoom(rec RoomRecord) *Room {
	r := NewRoom(rec.Address, rec.Creator, rec.Config, rec.Created)
	r.locked = rec.Locked
	r.subject = rec.Subject
	for k, v := range rec.Affiliations {
		r.affiliations[k] = v
	}
	return r
}
