// Package muc holds the state of Multi-User Chat rooms: occupants,
// affiliations and roles, together with the rules that decide who may
// enter a room and with which role.
package muc

import (
	"fmt"
)

// Affiliation represents a MUC affiliation
type Affiliation string

const (
	AffiliationOwner   Affiliation = "owner"
	AffiliationAdmin   Affiliation = "admin"
	AffiliationMember  Affiliation = "member"
	AffiliationOutcast Affiliation = "outcast"
	AffiliationNone    Affiliation = "none"
)

// Rank orders affiliations by privilege, outcast being the lowest.
func (a Affiliation) Rank() int {
	switch a {
	case AffiliationOutcast:
		return 0
	case AffiliationMember:
		return 2
	case AffiliationAdmin:
		return 3
	case AffiliationOwner:
		return 4
	default:
		return 1
	}
}

// CanEnterOpenRoom reports whether the affiliation may enter a room that
// is not members-only.
func (a Affiliation) CanEnterOpenRoom() bool {
	return a != AffiliationOutcast
}

// CanEnterMembersOnlyRoom reports whether the affiliation is on the member
// list of a members-only room.
func (a Affiliation) CanEnterMembersOnlyRoom() bool {
	return a.Rank() >= AffiliationMember.Rank()
}

// CanViewOccupantsJID reports whether the affiliation sees real JIDs in a
// semi-anonymous room.
func (a Affiliation) CanViewOccupantsJID() bool {
	return a == AffiliationAdmin || a == AffiliationOwner
}

// ParseAffiliation parses the wire form of an affiliation
func ParseAffiliation(s string) (Affiliation, error) {
	switch a := Affiliation(s); a {
	case AffiliationOwner, AffiliationAdmin, AffiliationMember, AffiliationOutcast, AffiliationNone:
		return a, nil
	}
	return AffiliationNone, fmt.Errorf("muc: unrecognized affiliation %q", s)
}

// Role represents a MUC role
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
	RoleNone        Role = "none"
)

// Anonymity controls which occupants see real JIDs
type Anonymity string

const (
	FullyAnonymous Anonymity = "fullanonymous"
	SemiAnonymous  Anonymity = "semianonymous"
	NonAnonymous   Anonymity = "nonanonymous"
)

// ParseAnonymity parses a configured anonymity level, "" meaning semi-anonymous
func ParseAnonymity(s string) (Anonymity, error) {
	switch a := Anonymity(s); a {
	case FullyAnonymous, SemiAnonymous, NonAnonymous:
		return a, nil
	case "":
		return SemiAnonymous, nil
	}
	return SemiAnonymous, fmt.Errorf("muc: unrecognized anonymity %q", s)
}

// DefaultRole returns the role an occupant gets on entering a room.
func DefaultRole(moderated bool, affiliation Affiliation) Role {
	if moderated && affiliation == AffiliationNone {
		return RoleVisitor
	}
	switch affiliation {
	case AffiliationOwner, AffiliationAdmin:
		return RoleModerator
	case AffiliationMember, AffiliationNone:
		return RoleParticipant
	default:
		return RoleNone
	}
}
