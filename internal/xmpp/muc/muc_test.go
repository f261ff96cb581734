package muc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/mucd/internal/xmpp/element"
)

var allAffiliations = []Affiliation{
	AffiliationOutcast, AffiliationNone, AffiliationMember, AffiliationAdmin, AffiliationOwner,
}

func TestDefaultRole(t *testing.T) {
	tests := []struct {
		moderated   bool
		affiliation Affiliation
		want        Role
	}{
		{false, AffiliationOutcast, RoleNone},
		{true, AffiliationOutcast, RoleNone},
		{false, AffiliationNone, RoleParticipant},
		{true, AffiliationNone, RoleVisitor},
		{false, AffiliationMember, RoleParticipant},
		{true, AffiliationMember, RoleParticipant},
		{false, AffiliationAdmin, RoleModerator},
		{true, AffiliationAdmin, RoleModerator},
		{false, AffiliationOwner, RoleModerator},
		{true, AffiliationOwner, RoleModerator},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultRole(tt.moderated, tt.affiliation), "moderated=%v affiliation=%s", tt.moderated, tt.affiliation)
	}
}

func TestDefaultRoleIsTotal(t *testing.T) {
	for _, moderated := range []bool{false, true} {
		for _, a := range append(allAffiliations, Affiliation("bogus")) {
			role := DefaultRole(moderated, a)
			assert.Contains(t, []Role{RoleNone, RoleVisitor, RoleParticipant, RoleModerator}, role)
		}
	}
}

func TestAffiliationOrdering(t *testing.T) {
	for i := 1; i < len(allAffiliations); i++ {
		assert.Less(t, allAffiliations[i-1].Rank(), allAffiliations[i].Rank())
	}

	assert.False(t, AffiliationOutcast.CanEnterOpenRoom())
	assert.True(t, AffiliationNone.CanEnterOpenRoom())
	assert.False(t, AffiliationNone.CanEnterMembersOnlyRoom())
	assert.True(t, AffiliationMember.CanEnterMembersOnlyRoom())
	assert.False(t, AffiliationMember.CanViewOccupantsJID())
	assert.True(t, AffiliationAdmin.CanViewOccupantsJID())
	assert.True(t, AffiliationOwner.CanViewOccupantsJID())
}

func TestParseAffiliation(t *testing.T) {
	a, err := ParseAffiliation("admin")
	require.NoError(t, err)
	assert.Equal(t, AffiliationAdmin, a)

	_, err = ParseAffiliation("king")
	assert.Error(t, err)
}

func TestParseAnonymity(t *testing.T) {
	a, err := ParseAnonymity("")
	require.NoError(t, err)
	assert.Equal(t, SemiAnonymous, a)

	a, err = ParseAnonymity("nonanonymous")
	require.NoError(t, err)
	assert.Equal(t, NonAnonymous, a)

	_, err = ParseAnonymity("open")
	assert.Error(t, err)
}

func TestErrorIs(t *testing.T) {
	err := error(ErrItemNotFound.WithText("Unknown room"))
	assert.True(t, errors.Is(err, ErrItemNotFound))
	assert.False(t, errors.Is(err, ErrConflict))

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, stanza.ItemNotFound, merr.Condition)
	assert.Equal(t, "Unknown room", merr.Text)
	assert.Empty(t, ErrItemNotFound.Text)
}

func TestErrorReply(t *testing.T) {
	in := element.MustParse(`<presence from="alice@example.com/home" to="room@muc.example.com/alice"><x xmlns="http://jabber.org/protocol/muc"/></presence>`)

	reply := ErrConflict.WithText("Nickname in use").Reply(in)

	assert.Equal(t, "room@muc.example.com/alice", reply.AttributeValue("from"))
	assert.Equal(t, "alice@example.com/home", reply.AttributeValue("to"))
	assert.Equal(t, "error", reply.AttributeValue("type"))

	errEl := reply.Child("error", "")
	require.NotNil(t, errEl)
	assert.Equal(t, "cancel", errEl.AttributeValue("type"))
	assert.Equal(t, "409", errEl.AttributeValue("code"))
	assert.NotNil(t, errEl.Child("conflict", element.NSStanzas))
	text, ok := errEl.ChildText("text", element.NSStanzas)
	assert.True(t, ok)
	assert.Equal(t, "Nickname in use", text)

	// The original is left untouched.
	assert.Equal(t, "alice@example.com/home", in.AttributeValue("from"))
	assert.Nil(t, in.Child("error", ""))
}
