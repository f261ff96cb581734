package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

func TestClassify(t *testing.T) {
	room := muc.NewRoom(jid.MustParse(roomAddr), aliceHome, muc.RoomConfig{}, clock)
	room.AddOccupant(aliceHome, "alice", muc.RoleModerator)

	available := element.MustParse(`<presence><show>away</show></presence>`)
	join := element.MustParse(`<presence><x xmlns="http://jabber.org/protocol/muc"/></presence>`)
	unavailable := element.MustParse(`<presence type="unavailable"/>`)
	errored := element.MustParse(`<presence type="error"/>`)

	tests := []struct {
		name   string
		room   *muc.Room
		sender jid.JID
		nick   string
		p      *element.Element
		want   Action
	}{
		{"error", room, aliceHome, "alice", errored, Ignore},
		{"error to missing room", nil, aliceHome, "alice", errored, Ignore},
		{"unavailable", room, aliceHome, "alice", unavailable, Exit},
		{"unavailable to missing room", nil, aliceHome, "alice", unavailable, Exit},
		{"missing room", nil, bobLaptop, "bob", available, Enter},
		{"new occupant", room, bobLaptop, "bob", available, Enter},
		{"new resource", room, aliceWork, "alice", join, Enter},
		{"new resource under another nickname", room, aliceWork, "alice2", join, NicknameChange},
		{"rejoin", room, aliceHome, "alice", join, Reenter},
		{"nickname change", room, aliceHome, "queen", available, NicknameChange},
		{"nickname change with join", room, aliceHome, "queen", join, NicknameChange},
		{"availability", room, aliceHome, "alice", available, AvailabilityUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.room, tt.sender, tt.nick, tt.p))
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "availability-update", AvailabilityUpdate.String())
	assert.Equal(t, "ignore", Action(42).String())
}
