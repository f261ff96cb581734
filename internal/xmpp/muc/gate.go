package muc

import (
	"mellium.im/xmpp/jid"
)

// Entry describes an attempt to enter a room
type Entry struct {
	Occupant    jid.JID // Full JID of the entrant
	Nick        string
	Affiliation Affiliation
	// Password is the supplied password. HasPassword distinguishes an
	// empty password from none at all.
	Password    string
	HasPassword bool
}

// CanEnter decides whether e may enter room. The first failing check wins:
// password, lock, ban, member list, nickname conflict. It does not modify
// the room.
func CanEnter(room *Room, e Entry) error {
	cfg := room.Config()

	if cfg.PasswordProtected && (!e.HasPassword || !cfg.CheckPassword(e.Password)) {
		return ErrNotAuthorized
	}
	if room.IsLocked() && e.Affiliation != AffiliationOwner {
		return ErrItemNotFound.WithText("Room exists but is locked")
	}
	if !e.Affiliation.CanEnterOpenRoom() {
		return ErrForbidden
	} else if cfg.MembersOnly && !e.Affiliation.CanEnterMembersOnlyRoom() {
		return ErrRegistrationRequired
	}

	if holder, ok := room.OccupantJID(e.Nick); ok && !holder.Equal(e.Occupant.Bare()) {
		return ErrConflict
	}
	return nil
}
