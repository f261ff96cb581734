package muc

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"mellium.im/xmpp/jid"
)

// Store persists rooms that outlive their occupants.
type Store interface {
	// LoadRoom returns the stored record for addr, or nil if none exists.
	LoadRoom(addr jid.JID) (*RoomRecord, error)
	SaveRoom(rec RoomRecord) error
}

// Summary is a point-in-time view of a room
type Summary struct {
	Address   jid.JID
	Config    RoomConfig
	Locked    bool
	Subject   Subject
	Occupants []Occupant

	// Affiliations maps bare JIDs to their affiliation.
	Affiliations map[string]Affiliation
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// Manager manages MUC rooms. It is the room repository used by presence
// processing and serializes work on a single room through Lock.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	defaults RoomConfig
	store    Store

	locksMu sync.Mutex
	locks   map[string]*roomLock

	now func() time.Time
}

// NewManager creates a new MUC manager. New rooms start with defaults.
// store may be nil.
func NewManager(defaults RoomConfig, store Store) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		defaults: defaults,
		store:    store,
		locks:    make(map[string]*roomLock),
		now:      time.Now,
	}
}

// Lock acquires exclusive access to the room at addr, whether or not it
// exists yet, and returns the function releasing it. Different rooms do not
// block each other.
func (m *Manager) Lock(addr jid.JID) func() {
	key := addr.Bare().String()

	m.locksMu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &roomLock{}
		m.locks[key] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.locksMu.Unlock()
	}
}

// GetRoom returns a room by JID, loading a persisted room from the store
// if it is not active. It returns nil if the room does not exist.
func (m *Manager) GetRoom(roomJID jid.JID) (*Room, error) {
	bare := roomJID.Bare()

	m.mu.RLock()
	room := m.rooms[bare.String()]
	m.mu.RUnlock()
	if room != nil || m.store == nil {
		return room, nil
	}

	rec, err := m.store.LoadRoom(bare)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", bare, err)
	}
	if rec == nil {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rooms[bare.String()]; ok {
		return existing, nil
	}
	room = RestoreRoom(*rec)
	m.rooms[bare.String()] = room
	return room, nil
}

// CreateNewRoom creates an empty room with the default configuration
func (m *Manager) CreateNewRoom(roomJID, creator jid.JID) (*Room, error) {
	bare := roomJID.Bare()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[bare.String()]; ok {
		return nil, fmt.Errorf("create room %s: already exists", bare)
	}
	room := NewRoom(bare, creator, m.defaults, m.now())
	m.rooms[bare.String()] = room
	return room, nil
}

// LeaveRoom releases a room. Persistent rooms are written to the store
// first so they can be loaded again later.
func (m *Manager) LeaveRoom(room *Room) error {
	if m.store != nil && room.Config().Persistent {
		if err := m.store.SaveRoom(room.Record()); err != nil {
			return fmt.Errorf("save room %s: %w", room.Address(), err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room.Address().String())
	return nil
}

// Discard releases a room without writing it to the store
func (m *Manager) Discard(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room.Address().String())
}

// SaveRoom writes the room to the store if it is persistent
func (m *Manager) SaveRoom(room *Room) error {
	if m.store == nil || !room.Config().Persistent {
		return nil
	}
	if err := m.store.SaveRoom(room.Record()); err != nil {
		return fmt.Errorf("save room %s: %w", room.Address(), err)
	}
	return nil
}

// Rooms returns the addresses of all active rooms, sorted
func (m *Manager) Rooms() []jid.JID {
	m.mu.RLock()
	addrs := make([]jid.JID, 0, len(m.rooms))
	for _, room := range m.rooms {
		addrs = append(addrs, room.Address())
	}
	m.mu.RUnlock()

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	return addrs
}

// Snapshot returns a summary of every active room. Each room is locked
// while it is copied.
func (m *Manager) Snapshot() []Summary {
	var out []Summary
	for _, addr := range m.Rooms() {
		unlock := m.Lock(addr)
		m.mu.RLock()
		room := m.rooms[addr.String()]
		m.mu.RUnlock()
		if room != nil {
			out = append(out, Summary{
				Address:   room.Address(),
				Config:    room.Config(),
				Locked:    room.IsLocked(),
				Subject:   room.Subject(),
				Occupants: room.Occupants(),

				Affiliations: room.Affiliations(),
			})
		}
		unlock()
	}
	return out
}
