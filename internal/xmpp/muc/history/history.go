// Package history keeps room transcripts in a buntdb database and replays
// them to occupants entering a room.
package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/buntdb"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/delay"
	"github.com/meszmate/mucd/internal/xmpp/element"
	"github.com/meszmate/mucd/internal/xmpp/muc"
	"github.com/meszmate/mucd/internal/xmpp/muc/presence"
)

// DefaultMaxStanzas limits replay when the entrant asks for no limit.
const DefaultMaxStanzas = 20

// Entry kinds
const (
	KindMessage = "message"
	KindJoin    = "join"
	KindLeave   = "leave"
)

// Entry is one transcript line
type Entry struct {
	Kind string    `json:"kind"`
	Nick string    `json:"nick"`
	JID  string    `json:"jid,omitempty"`
	At   time.Time `json:"at"`
	// XML is the original message stanza for message entries.
	XML string `json:"xml,omitempty"`
}

// Store is a buntdb backed transcript store
type Store struct {
	db  *buntdb.DB
	ttl time.Duration
	seq atomic.Uint64
	log hclog.Logger
	now func() time.Time
}

// Open opens the transcript database at path, ":memory:" for a volatile
// one. Entries expire after ttl when it is positive.
func Open(path string, ttl time.Duration, logger hclog.Logger) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{db: db, ttl: ttl, log: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func roomPrefix(room jid.JID) string {
	return "hist:" + room.Bare().String() + ":"
}

func (s *Store) key(room jid.JID, at time.Time) string {
	return fmt.Sprintf("%s%020d:%06d", roomPrefix(room), at.UnixNano(), s.seq.Add(1)%1000000)
}

func (s *Store) add(room jid.JID, e Entry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var opts *buntdb.SetOptions
	if s.ttl > 0 {
		opts = &buntdb.SetOptions{Expires: true, TTL: s.ttl}
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(s.key(room, e.At), string(v), opts)
		return err
	})
}

// AddJoinEvent records nick joining room
func (s *Store) AddJoinEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	return s.add(room.Address(), Entry{Kind: KindJoin, Nick: nick, JID: occupant.String(), At: at})
}

// AddLeaveEvent records nick leaving room
func (s *Store) AddLeaveEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	return s.add(room.Address(), Entry{Kind: KindLeave, Nick: nick, JID: occupant.String(), At: at})
}

// AddMessage records a groupchat message sent by nick
func (s *Store) AddMessage(room *muc.Room, at time.Time, occupant jid.JID, nick string, msg *element.Element) error {
	return s.add(room.Address(), Entry{Kind: KindMessage, Nick: nick, JID: occupant.String(), At: at, XML: msg.String()})
}

// Entries returns up to limit of the most recent transcript entries of
// room, oldest first. A limit of zero or less returns everything.
func (s *Store) Entries(room jid.JID, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.DescendKeys(roomPrefix(room)+"*", func(_, value string) bool {
			var e Entry
			if iterErr = json.Unmarshal([]byte(value), &e); iterErr != nil {
				return false
			}
			entries = append(entries, e)
			return limit <= 0 || len(entries) < limit
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", room, err)
	}
	reverse(entries)
	return entries, nil
}

// GetHistoryMessages writes the messages of room selected by req to w,
// oldest first, each marked as delayed.
func (s *Store) GetHistoryMessages(room *muc.Room, recipient jid.JID, req presence.HistoryRequest, w presence.Writer) error {
	maxStanzas := DefaultMaxStanzas
	if req.MaxStanzas != nil {
		maxStanzas = *req.MaxStanzas
	}
	maxChars := -1
	if req.MaxChars != nil {
		maxChars = *req.MaxChars
	}
	var notBefore time.Time
	if req.Seconds != nil {
		notBefore = s.now().Add(-time.Duration(*req.Seconds) * time.Second)
	}
	if req.Since != nil && req.Since.After(notBefore) {
		notBefore = *req.Since
	}
	if maxStanzas <= 0 || maxChars == 0 {
		return nil
	}

	var selected []Entry
	chars := 0
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys(roomPrefix(room.Address())+"*", func(key, value string) bool {
			var e Entry
			if err := json.Unmarshal([]byte(value), &e); err != nil {
				s.log.Warn("skipping unreadable history entry", "key", key, "error", err)
				return true
			}
			if !notBefore.IsZero() && e.At.Before(notBefore) {
				return false
			}
			if e.Kind != KindMessage {
				return true
			}
			if maxChars > 0 {
				if chars+len(e.XML) > maxChars {
					return false
				}
				chars += len(e.XML)
			}
			selected = append(selected, e)
			return len(selected) < maxStanzas
		})
	})
	if err != nil {
		return fmt.Errorf("read history of %s: %w", room.Address(), err)
	}

	reverse(selected)
	for _, e := range selected {
		msg, err := replay(room, recipient, e)
		if err != nil {
			s.log.Warn("skipping unreadable history message", "room", room.Address(), "error", err)
			continue
		}
		w.WriteElement(msg)
	}
	return nil
}

func replay(room *muc.Room, recipient jid.JID, e Entry) (*element.Element, error) {
	msg, err := element.Parse(e.XML)
	if err != nil {
		return nil, err
	}
	msg.SetAttr("from", room.Address().String()+"/"+e.Nick)
	msg.SetAttr("to", recipient.String())
	for _, old := range []*element.Element{msg.Child("delay", element.NSDelay), msg.Child("x", element.NSDelayOld)} {
		if old != nil {
			msg.RemoveChild(old)
		}
	}
	modern, legacy := delay.Elements(room.Address().String(), e.At)
	msg.AddChild(modern)
	msg.AddChild(legacy)
	return msg, nil
}

// RemoveHistory deletes the whole transcript of room
func (s *Store) RemoveHistory(room *muc.Room) error {
	return s.remove(room.Address())
}

func (s *Store) remove(room jid.JID) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		err := tx.AscendKeys(roomPrefix(room)+"*", func(key, _ string) bool {
			if strings.HasPrefix(key, roomPrefix(room)) {
				keys = append(keys, key)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove history of %s: %w", room, err)
	}
	return nil
}

func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
