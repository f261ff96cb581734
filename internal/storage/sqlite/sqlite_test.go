package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/muc"
)

var (
	roomJID = jid.MustParse("room@muc.example.com")
	alice   = jid.MustParse("alice@example.com/home")
	bob     = jid.MustParse("bob@example.com/laptop")
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord() muc.RoomRecord {
	return muc.RoomRecord{
		Address: roomJID,
		Config: muc.RoomConfig{
			Name:              "Planning",
			Anonymity:         muc.NonAnonymous,
			MembersOnly:       true,
			PasswordProtected: true,
			Password:          "secret",
			Persistent:        true,
			Logging:           true,
		},
		Creator: alice,
		Created: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Locked:  true,
		Subject: muc.Subject{Text: "Plans", ChangedBy: "alice", ChangedAt: time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)},
		Affiliations: map[string]muc.Affiliation{
			"alice@example.com": muc.AffiliationOwner,
			"bob@example.com":   muc.AffiliationMember,
		},
	}
}

func TestSaveAndLoadRoom(t *testing.T) {
	db := openTestDB(t)

	rec, err := db.LoadRoom(roomJID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	want := testRecord()
	require.NoError(t, db.SaveRoom(want))

	got, err := db.LoadRoom(jid.MustParse("room@muc.example.com/alice"))
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.True(t, got.Address.Equal(roomJID))
	assert.Equal(t, want.Config, got.Config)
	assert.True(t, got.Creator.Equal(alice))
	assert.True(t, want.Created.Equal(got.Created))
	assert.True(t, got.Locked)
	assert.Equal(t, "Plans", got.Subject.Text)
	assert.Equal(t, "alice", got.Subject.ChangedBy)
	assert.True(t, want.Subject.ChangedAt.Equal(got.Subject.ChangedAt))
	assert.Equal(t, want.Affiliations, got.Affiliations)
}

func TestSaveRoomReplacesAffiliations(t *testing.T) {
	db := openTestDB(t)

	rec := testRecord()
	require.NoError(t, db.SaveRoom(rec))

	rec.Affiliations = map[string]muc.Affiliation{"carol@example.com": muc.AffiliationOutcast}
	rec.Locked = false
	require.NoError(t, db.SaveRoom(rec))

	got, err := db.LoadRoom(roomJID)
	require.NoError(t, err)
	assert.False(t, got.Locked)
	assert.Equal(t, rec.Affiliations, got.Affiliations)
}

func TestListAndDeleteRooms(t *testing.T) {
	db := openTestDB(t)

	second := testRecord()
	second.Address = jid.MustParse("annex@muc.example.com")
	require.NoError(t, db.SaveRoom(testRecord()))
	require.NoError(t, db.SaveRoom(second))

	rooms, err := db.ListRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "annex@muc.example.com", rooms[0].Address.String())

	require.NoError(t, db.DeleteRoom(second.Address))
	rooms, err = db.ListRooms()
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestManagerRestoresFromDB(t *testing.T) {
	db := openTestDB(t)
	m := muc.NewManager(muc.RoomConfig{Persistent: true}, db)

	room, err := m.CreateNewRoom(roomJID, alice)
	require.NoError(t, err)
	room.SetAffiliation(alice, muc.AffiliationOwner)
	require.NoError(t, m.LeaveRoom(room))

	restored, err := m.GetRoom(roomJID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, muc.AffiliationOwner, restored.Affiliation(alice))
}

func TestRoomLog(t *testing.T) {
	db := openTestDB(t)
	room := muc.NewRoom(roomJID, alice, muc.RoomConfig{}, time.Now())
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.AddJoinEvent(room, at, alice, "alice"))
	require.NoError(t, db.AddJoinEvent(room, at.Add(time.Minute), bob, "bob"))
	require.NoError(t, db.AddLeaveEvent(room, at.Add(2*time.Minute), bob, "bob"))

	entries, err := db.GetRoomLog(roomJID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "leave", entries[0].Event)
	assert.Equal(t, "bob", entries[0].Nick)
	assert.Equal(t, bob.String(), entries[0].JID)
	assert.Equal(t, "alice", entries[2].Nick)

	count, err := db.GetEventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDeleteOldEvents(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return now }
	room := muc.NewRoom(roomJID, alice, muc.RoomConfig{}, now)

	require.NoError(t, db.AddJoinEvent(room, now.AddDate(0, 0, -40), alice, "alice"))
	require.NoError(t, db.AddJoinEvent(room, now.AddDate(0, 0, -10), bob, "bob"))

	n, err := db.DeleteOldEvents(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := db.GetRoomLog(roomJID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].Nick)

	require.NoError(t, db.Vacuum())
	size, err := db.GetDatabaseSize()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.SaveRoom(testRecord()))
	rooms, err := db.ListRooms()
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}
