package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

var carolPhone = jid.MustParse("carol@example.com/phone")

func transformRoom(cfg muc.RoomConfig) *muc.Room {
	room := muc.NewRoom(jid.MustParse(roomAddr), aliceHome, cfg, clock)
	room.SetAffiliation(aliceHome, muc.AffiliationOwner)
	room.SetAffiliation(carolPhone, muc.AffiliationAdmin)
	room.AddOccupant(aliceHome, "alice", muc.RoleModerator)
	room.AddOccupant(bobLaptop, "bob", muc.RoleParticipant)
	room.AddOccupant(carolPhone, "carol", muc.RoleModerator)
	return room
}

func bobSource(room *muc.Room) Source {
	return Source{JID: bobLaptop, Nick: "bob", Affiliation: room.Affiliation(bobLaptop), Role: room.Role("bob")}
}

func TestBuildDirectedStampsAddresses(t *testing.T) {
	room := transformRoom(muc.RoomConfig{Anonymity: muc.SemiAnonymous})

	d := BuildDirected(room, aliceHome, element.NewPresence(stanza.AvailablePresence), bobSource(room))
	el := d.Element()

	assert.Equal(t, roomAddr+"/bob", el.AttributeValue("from"))
	assert.Equal(t, aliceHome.String(), el.AttributeValue("to"))
	assert.Equal(t, element.PriorityNormal, d.Packet().Priority)
	assert.Empty(t, d.StatusCodes())

	it := item(el)
	require.NotNil(t, it)
	assert.Equal(t, "none", it.AttributeValue("affiliation"))
	assert.Equal(t, "participant", it.AttributeValue("role"))
	assert.Equal(t, "bob", it.AttributeValue("nick"))
}

func TestBuildDirectedSelfPresence(t *testing.T) {
	tests := []struct {
		name string
		cfg  muc.RoomConfig
		want []int
	}{
		{"semi-anonymous", muc.RoomConfig{Anonymity: muc.SemiAnonymous}, []int{110}},
		{"non-anonymous", muc.RoomConfig{Anonymity: muc.NonAnonymous}, []int{110, 100}},
		{"logged", muc.RoomConfig{Anonymity: muc.SemiAnonymous, Logging: true}, []int{110, 170}},
		{"non-anonymous logged", muc.RoomConfig{Anonymity: muc.NonAnonymous, Logging: true}, []int{110, 100, 170}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := transformRoom(tt.cfg)
			// Another resource of bob is still a self-presence.
			d := BuildDirected(room, jid.MustParse("bob@example.com/phone"), element.NewPresence(stanza.AvailablePresence), bobSource(room))
			assert.Equal(t, element.PriorityHigh, d.Packet().Priority)
			assert.Equal(t, tt.want, d.StatusCodes())
		})
	}
}

func TestBuildDirectedJIDDisclosure(t *testing.T) {
	tests := []struct {
		anonymity muc.Anonymity
		recipient jid.JID
		disclosed bool
	}{
		{muc.NonAnonymous, bobLaptop, true},
		{muc.NonAnonymous, aliceHome, true},
		{muc.SemiAnonymous, aliceHome, true},  // owner
		{muc.SemiAnonymous, carolPhone, true}, // admin
		{muc.SemiAnonymous, jid.MustParse("dave@example.com/x"), false},
		{muc.FullyAnonymous, aliceHome, false},
		{muc.FullyAnonymous, carolPhone, false},
	}
	for _, tt := range tests {
		room := transformRoom(muc.RoomConfig{Anonymity: tt.anonymity})
		d := BuildDirected(room, tt.recipient, element.NewPresence(stanza.AvailablePresence), bobSource(room))

		v, ok := item(d.Element()).Attribute("jid")
		assert.Equal(t, tt.disclosed, ok, "%s to %s", tt.anonymity, tt.recipient)
		if tt.disclosed {
			assert.Equal(t, bobLaptop.String(), v)
		}
	}
}

func TestBuildDirectedNonPrivilegedNeverSeesJIDInSemiAnonymousRoom(t *testing.T) {
	room := transformRoom(muc.RoomConfig{Anonymity: muc.SemiAnonymous})
	room.SetAffiliation(bobLaptop, muc.AffiliationMember)

	for _, nick := range []string{"alice", "carol"} {
		d := BuildDirected(room, bobLaptop, element.NewPresence(stanza.AvailablePresence), sourceOf(room, nick))
		_, ok := item(d.Element()).Attribute("jid")
		assert.False(t, ok, nick)
	}
}

func TestBuildDirectedStatusCodesFromCaller(t *testing.T) {
	room := transformRoom(muc.RoomConfig{})

	d := BuildDirected(room, aliceHome, element.NewPresence(stanza.UnavailablePresence), bobSource(room))
	d.AddStatusCode(StatusRoomCreated)
	d.SetNewNick("robert")

	assert.Equal(t, []int{201, 303}, d.StatusCodes())
	assert.Equal(t, "robert", item(d.Element()).AttributeValue("nick"))
	assert.Equal(t, "unavailable", d.Element().AttributeValue("type"))
}

func TestBuildDirectedKeepsPresenceChildren(t *testing.T) {
	room := transformRoom(muc.RoomConfig{})
	base := element.MustParse(`<presence><show>xa</show></presence>`)

	d := BuildDirected(room, aliceHome, base, bobSource(room))

	show, ok := d.Element().ChildText("show", "")
	assert.True(t, ok)
	assert.Equal(t, "xa", show)
	assert.Equal(t, "x", d.Element().Children[1].Name())
}

func TestSourceOf(t *testing.T) {
	room := transformRoom(muc.RoomConfig{})
	room.AddOccupant(aliceWork, "alice", muc.RoleModerator)

	src := sourceOf(room, "alice")
	assert.True(t, src.JID.Equal(aliceHome))
	assert.Equal(t, muc.AffiliationOwner, src.Affiliation)
	assert.Equal(t, muc.RoleModerator, src.Role)
}
