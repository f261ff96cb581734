package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/muc"
)

func TestLoggersReachEveryLogger(t *testing.T) {
	broken := &fakeLogger{err: errors.New("disk full")}
	healthy := &fakeLogger{}
	loggers := Loggers{broken, healthy}

	room := muc.NewRoom(jid.MustParse("lobby@conference.example.org"), jid.MustParse("alice@example.org/home"), muc.RoomConfig{}, time.Now())
	occupant := jid.MustParse("alice@example.org/home")

	err := loggers.AddJoinEvent(room, time.Now(), occupant, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, healthy.joins, 1)
	assert.Equal(t, "alice", healthy.joins[0].nick)

	broken.err = nil
	require.NoError(t, loggers.AddLeaveEvent(room, time.Now(), occupant, "alice"))
	assert.Len(t, broken.leaves, 1)
	assert.Len(t, healthy.leaves, 1)
}

func TestEmptyLoggers(t *testing.T) {
	room := muc.NewRoom(jid.MustParse("lobby@conference.example.org"), jid.MustParse("alice@example.org/home"), muc.RoomConfig{}, time.Now())
	require.NoError(t, Loggers(nil).AddJoinEvent(room, time.Now(), jid.MustParse("alice@example.org/home"), "alice"))
}
