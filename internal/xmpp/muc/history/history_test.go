package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
	"github.com/meszmate/mucd/internal/xmpp/muc/presence"
)

var (
	roomJID = jid.MustParse("room@muc.example.com")
	alice   = jid.MustParse("alice@example.com/home")
	bob     = jid.MustParse("bob@example.com/laptop")
	start   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type collector struct {
	elements []*element.Element
}

func (c *collector) Write(p *element.Packet) {
	c.elements = append(c.elements, p.Element)
}

func (c *collector) WriteElement(el *element.Element) {
	c.elements = append(c.elements, el)
}

func (c *collector) bodies() []string {
	var out []string
	for _, el := range c.elements {
		b, _ := el.ChildText("body", "")
		out = append(out, b)
	}
	return out
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.now = func() time.Time { return start.Add(time.Hour) }
	return s
}

func newRoom() *muc.Room {
	return muc.NewRoom(roomJID, alice, muc.RoomConfig{}, start)
}

func message(body string) *element.Element {
	return element.MustParse(fmt.Sprintf(`<message type="groupchat" from="alice@example.com/home" to="room@muc.example.com"><body>%s</body></message>`, body))
}

// seed stores n messages one minute apart, with a join before them.
func seed(t *testing.T, s *Store, room *muc.Room, n int) {
	t.Helper()
	require.NoError(t, s.AddJoinEvent(room, start, alice, "alice"))
	for i := 1; i <= n; i++ {
		require.NoError(t, s.AddMessage(room, start.Add(time.Duration(i)*time.Minute), alice, "alice", message(fmt.Sprintf("m%d", i))))
	}
}

func intp(v int) *int {
	return &v
}

func TestReplayMarksMessagesDelayed(t *testing.T) {
	s := openStore(t)
	room := newRoom()
	seed(t, s, room, 2)

	out := &collector{}
	require.NoError(t, s.GetHistoryMessages(room, bob, presence.HistoryRequest{}, out))

	require.Len(t, out.elements, 2)
	assert.Equal(t, []string{"m1", "m2"}, out.bodies())

	first := out.elements[0]
	assert.Equal(t, "room@muc.example.com/alice", first.AttributeValue("from"))
	assert.Equal(t, bob.String(), first.AttributeValue("to"))
	d := first.Child("delay", element.NSDelay)
	require.NotNil(t, d)
	assert.Equal(t, "2024-03-01T12:01:00Z", d.AttributeValue("stamp"))
	assert.Equal(t, "room@muc.example.com", d.AttributeValue("from"))
	assert.NotNil(t, first.Child("x", element.NSDelayOld))
}

func TestReplayLimits(t *testing.T) {
	s := openStore(t)
	room := newRoom()
	seed(t, s, room, 5)

	tests := []struct {
		name string
		req  presence.HistoryRequest
		want []string
	}{
		{"maxstanzas", presence.HistoryRequest{MaxStanzas: intp(2)}, []string{"m4", "m5"}},
		{"maxstanzas zero", presence.HistoryRequest{MaxStanzas: intp(0)}, nil},
		{"maxchars zero", presence.HistoryRequest{MaxChars: intp(0)}, nil},
		{"maxchars one message", presence.HistoryRequest{MaxChars: intp(len(message("m5").String()) + 10)}, []string{"m5"}},
		// The clock is at 13:00, so 57 minutes reach back to 12:03.
		{"seconds", presence.HistoryRequest{Seconds: intp(57 * 60)}, []string{"m3", "m4", "m5"}},
		{"since", presence.HistoryRequest{Since: timep(start.Add(4 * time.Minute))}, []string{"m4", "m5"}},
		{"combined", presence.HistoryRequest{Since: timep(start.Add(2 * time.Minute)), MaxStanzas: intp(1)}, []string{"m5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &collector{}
			require.NoError(t, s.GetHistoryMessages(room, bob, tt.req, out))
			assert.Equal(t, tt.want, out.bodies())
		})
	}
}

func timep(t time.Time) *time.Time {
	return &t
}

func TestEntriesIncludeJoinAndLeave(t *testing.T) {
	s := openStore(t)
	room := newRoom()
	seed(t, s, room, 1)
	require.NoError(t, s.AddLeaveEvent(room, start.Add(time.Hour), alice, "alice"))

	entries, err := s.Entries(roomJID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, KindJoin, entries[0].Kind)
	assert.Equal(t, KindMessage, entries[1].Kind)
	assert.Equal(t, KindLeave, entries[2].Kind)
	assert.Equal(t, alice.String(), entries[2].JID)

	last, err := s.Entries(roomJID, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, KindLeave, last[0].Kind)
}

func TestRemoveHistoryOnlyAffectsRoom(t *testing.T) {
	s := openStore(t)
	room := newRoom()
	other := muc.NewRoom(jid.MustParse("room2@muc.example.com"), alice, muc.RoomConfig{}, start)
	seed(t, s, room, 3)
	seed(t, s, other, 2)

	require.NoError(t, s.RemoveHistory(room))

	entries, err := s.Entries(roomJID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = s.Entries(other.Address(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestEntriesExpire(t *testing.T) {
	s, err := Open(":memory:", 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddJoinEvent(newRoom(), start, alice, "alice"))
	assert.Eventually(t, func() bool {
		entries, err := s.Entries(roomJID, 0)
		return err == nil && len(entries) == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestStoreSatisfiesHistoryProvider(t *testing.T) {
	var _ presence.HistoryProvider = openStore(t)
}
