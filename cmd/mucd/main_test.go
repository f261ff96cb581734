package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/storage/sqlite"
	"github.com/meszmate/mucd/internal/xmpp/muc"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return filepath.Join(dir, "data", "mucd")
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "s3cret")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	cfg := muc.RoomConfig{PasswordProtected: true, Password: hash}
	assert.True(t, cfg.CheckPassword("s3cret"))
	assert.False(t, cfg.CheckPassword("guess"))
}

func TestRoomsListsStoredRooms(t *testing.T) {
	dataDir := isolate(t)
	db, err := sqlite.New(dataDir)
	require.NoError(t, err)
	room := muc.NewRoom(jid.MustParse("lobby@muc.example.org"), jid.MustParse("alice@example.org/home"),
		muc.RoomConfig{Name: "Lobby", Anonymity: muc.NonAnonymous, Persistent: true}, time.Now())
	room.SetAffiliation(jid.MustParse("alice@example.org"), muc.AffiliationOwner)
	require.NoError(t, db.SaveRoom(room.Record()))
	require.NoError(t, db.AddJoinEvent(room, time.Now(), jid.MustParse("alice@example.org/home"), "alice"))
	require.NoError(t, db.Close())

	out, err := run(t, "rooms")
	require.NoError(t, err)
	assert.Contains(t, out, "lobby@muc.example.org")
	assert.Contains(t, out, "Lobby")
	assert.Contains(t, out, "nonanonymous")

	out, err = run(t, "rooms", "log", "lobby@muc.example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "join")
	assert.Contains(t, out, "alice@example.org/home")

	_, err = run(t, "rooms", "delete", "lobby@muc.example.org")
	require.NoError(t, err)
	out, err = run(t, "rooms")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored rooms.")
}

func TestPruneNeedsRetention(t *testing.T) {
	isolate(t)
	_, err := run(t, "prune")
	require.Error(t, err)

	out, err := run(t, "prune", "--days", "30", "--vacuum")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 entries older than 30 days.")
}

func TestHistoryNeedsDiskBackend(t *testing.T) {
	isolate(t)
	_, err := run(t, "history", "lobby@muc.example.org")
	require.Error(t, err)
}
