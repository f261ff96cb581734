package plugin

import (
	"errors"
	"net"
	"net/rpc"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/muc"
)

type fakeLogger struct {
	mu      sync.Mutex
	name    string
	options map[string]string
	events  []Event
	fail    error
	stopped bool
}

func (f *fakeLogger) Metadata() (Metadata, error) {
	return Metadata{Name: f.name, Version: "0.1.0", Description: "records events"}, nil
}

func (f *fakeLogger) Init(options map[string]string) error {
	f.options = options
	return nil
}

func (f *fakeLogger) HandleEvent(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeLogger) Stop() error {
	f.stopped = true
	return nil
}

func rpcPair(t *testing.T, impl AuditLogger) *RPCClient {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Plugin", &RPCServer{Impl: impl}))

	a, b := net.Pipe()
	go server.ServeConn(a)
	client := rpc.NewClient(b)
	t.Cleanup(func() { client.Close() })
	return &RPCClient{client: client}
}

func TestRPCRoundTrip(t *testing.T) {
	impl := &fakeLogger{name: "jsonlog"}
	c := rpcPair(t, impl)

	md, err := c.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "jsonlog", md.Name)

	require.NoError(t, c.Init(map[string]string{"path": "/tmp/audit.log"}))
	assert.Equal(t, "/tmp/audit.log", impl.options["path"])

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.HandleEvent(Event{Kind: EventJoin, Room: "lobby@conference.example.org", JID: "alice@example.org/home", Nick: "alice", At: at}))
	require.Len(t, impl.events, 1)
	assert.Equal(t, "alice", impl.events[0].Nick)
	assert.True(t, at.Equal(impl.events[0].At))

	require.NoError(t, c.Stop())
	assert.True(t, impl.stopped)
}

func TestRPCErrorsCrossTheWire(t *testing.T) {
	impl := &fakeLogger{name: "broken", fail: errors.New("disk full")}
	c := rpcPair(t, impl)

	err := c.HandleEvent(Event{Kind: EventLeave})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestHostFansOutEvents(t *testing.T) {
	h := NewHost("", nil, map[string]map[string]string{"a": {"level": "debug"}}, nil)
	a := &fakeLogger{name: "a"}
	b := &fakeLogger{name: "b", fail: errors.New("unavailable")}
	c := &fakeLogger{name: "c"}
	require.NoError(t, h.register("/plugins/a", a, nil))
	require.NoError(t, h.register("/plugins/b", b, nil))
	require.NoError(t, h.register("/plugins/c", c, nil))
	assert.Equal(t, "debug", a.options["level"])

	room := muc.NewRoom(jid.MustParse("lobby@conference.example.org"), jid.MustParse("alice@example.org/home"), muc.RoomConfig{}, time.Now())
	err := h.AddJoinEvent(room, time.Now(), jid.MustParse("alice@example.org/home"), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin b")

	require.Len(t, a.events, 1)
	require.Len(t, c.events, 1)
	assert.Equal(t, EventJoin, c.events[0].Kind)
	assert.Equal(t, "lobby@conference.example.org", c.events[0].Room)
	assert.Equal(t, "alice@example.org/home", c.events[0].JID)

	require.Error(t, h.AddLeaveEvent(room, time.Now(), jid.MustParse("alice@example.org/home"), "alice"))
	require.Len(t, c.events, 2)
	assert.Equal(t, EventLeave, c.events[1].Kind)
}

func TestHostRejectsDuplicates(t *testing.T) {
	h := NewHost("", nil, nil, nil)
	require.NoError(t, h.register("/plugins/a", &fakeLogger{name: "a"}, nil))
	require.Error(t, h.register("/other/a", &fakeLogger{name: "a"}, nil))
}

func TestHostNamesFromPath(t *testing.T) {
	h := NewHost("", nil, nil, nil)
	require.NoError(t, h.register("/plugins/jsonlog.bin", &fakeLogger{}, nil))
	require.NotNil(t, h.Get("jsonlog"))
}

func TestHostUnload(t *testing.T) {
	h := NewHost("", nil, nil, nil)
	a := &fakeLogger{name: "a"}
	b := &fakeLogger{name: "b"}
	require.NoError(t, h.register("/plugins/a", a, nil))
	require.NoError(t, h.register("/plugins/b", b, nil))

	require.NoError(t, h.Unload("a"))
	assert.True(t, a.stopped)
	assert.Nil(t, h.Get("a"))
	require.NoError(t, h.Unload("a"))

	h.UnloadAll()
	assert.True(t, b.stopped)
	assert.Empty(t, h.List())
}

func TestLoadAllSkipsWhenNothingEnabled(t *testing.T) {
	h := NewHost(t.TempDir(), nil, nil, nil)
	require.NoError(t, h.LoadAll())
	assert.Empty(t, h.List())

	h = NewHost("/does/not/exist", []string{"jsonlog"}, nil, nil)
	require.NoError(t, h.LoadAll())
}
