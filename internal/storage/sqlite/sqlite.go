package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/muc"
)

type DB struct {
	db  *sql.DB
	now func() time.Time
}

// LogEntry is one line of the join/leave audit log
type LogEntry struct {
	ID        int64
	Room      string
	Event     string // join, leave
	JID       string
	Nick      string
	Timestamp time.Time
}

func New(dataDir string) (*DB, error) {
	return Open(filepath.Join(dataDir, "mucd.db"))
}

// Open opens the database file at path, ":memory:" for a private
// in-memory database.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_foreign_keys=on"
	if path == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &DB{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			jid TEXT PRIMARY KEY,
			name TEXT,
			anonymity TEXT NOT NULL,
			members_only INTEGER DEFAULT 0,
			moderated INTEGER DEFAULT 0,
			password_protected INTEGER DEFAULT 0,
			password TEXT,
			persistent INTEGER DEFAULT 0,
			logging INTEGER DEFAULT 0,
			locked INTEGER DEFAULT 0,
			creator TEXT,
			created_at INTEGER NOT NULL,
			subject TEXT,
			subject_nick TEXT,
			subject_at INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS room_affiliations (
			room_jid TEXT NOT NULL REFERENCES rooms(jid) ON DELETE CASCADE,
			jid TEXT NOT NULL,
			affiliation TEXT NOT NULL,
			PRIMARY KEY (room_jid, jid)
		)`,

		`CREATE TABLE IF NOT EXISTS room_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_jid TEXT NOT NULL,
			event TEXT NOT NULL,
			jid TEXT NOT NULL,
			nick TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_room_log_room ON room_log(room_jid)`,
		`CREATE INDEX IF NOT EXISTS idx_room_log_timestamp ON room_log(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	// Older databases predate room names.
	if _, err := d.db.Exec(`ALTER TABLE rooms ADD COLUMN name TEXT`); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "duplicate column name") {
			return fmt.Errorf("failed to ensure name column: %w", err)
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveRoom stores a room and replaces its affiliation list
func (d *DB) SaveRoom(rec muc.RoomRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var subjectAt sql.NullInt64
	if !rec.Subject.ChangedAt.IsZero() {
		subjectAt = sql.NullInt64{Int64: rec.Subject.ChangedAt.Unix(), Valid: true}
	}
	cfg := rec.Config
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO rooms (jid, name, anonymity, members_only, moderated, password_protected,
			password, persistent, logging, locked, creator, created_at, subject, subject_nick, subject_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Address.Bare().String(), cfg.Name, string(cfg.Anonymity), boolToInt(cfg.MembersOnly),
		boolToInt(cfg.Moderated), boolToInt(cfg.PasswordProtected), cfg.Password,
		boolToInt(cfg.Persistent), boolToInt(cfg.Logging), boolToInt(rec.Locked),
		rec.Creator.String(), rec.Created.Unix(), rec.Subject.Text, rec.Subject.ChangedBy, subjectAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM room_affiliations WHERE room_jid = ?", rec.Address.Bare().String()); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO room_affiliations (room_jid, jid, affiliation) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for j, a := range rec.Affiliations {
		if _, err := stmt.Exec(rec.Address.Bare().String(), j, string(a)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadRoom returns the stored room, or nil if there is none
func (d *DB) LoadRoom(addr jid.JID) (*muc.RoomRecord, error) {
	recs, err := d.queryRooms("WHERE jid = ?", addr.Bare().String())
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// ListRooms returns every stored room ordered by address
func (d *DB) ListRooms() ([]muc.RoomRecord, error) {
	return d.queryRooms("ORDER BY jid")
}

func (d *DB) queryRooms(where string, args ...any) ([]muc.RoomRecord, error) {
	rows, err := d.db.Query(`
		SELECT jid, name, anonymity, members_only, moderated, password_protected, password,
			persistent, logging, locked, creator, created_at, subject, subject_nick, subject_at
		FROM rooms `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []muc.RoomRecord
	for rows.Next() {
		var (
			addr, anonymity                            string
			name, password, creator, subject, subjNick sql.NullString
			membersOnly, moderated, pwProtected        int
			persistent, logging, locked                int
			createdAt                                  int64
			subjectAt                                  sql.NullInt64
		)
		if err := rows.Scan(&addr, &name, &anonymity, &membersOnly, &moderated, &pwProtected, &password,
			&persistent, &logging, &locked, &creator, &createdAt, &subject, &subjNick, &subjectAt); err != nil {
			return nil, err
		}

		roomJID, err := jid.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("stored room %q: %w", addr, err)
		}
		anon, err := muc.ParseAnonymity(anonymity)
		if err != nil {
			return nil, fmt.Errorf("stored room %q: %w", addr, err)
		}
		rec := muc.RoomRecord{
			Address: roomJID,
			Config: muc.RoomConfig{
				Name:              name.String,
				Anonymity:         anon,
				MembersOnly:       membersOnly == 1,
				Moderated:         moderated == 1,
				PasswordProtected: pwProtected == 1,
				Password:          password.String,
				Persistent:        persistent == 1,
				Logging:           logging == 1,
			},
			Created:      time.Unix(createdAt, 0),
			Locked:       locked == 1,
			Affiliations: make(map[string]muc.Affiliation),
		}
		if creator.Valid && creator.String != "" {
			if c, err := jid.Parse(creator.String); err == nil {
				rec.Creator = c
			}
		}
		if subject.Valid {
			rec.Subject.Text = subject.String
			rec.Subject.ChangedBy = subjNick.String
			if subjectAt.Valid {
				rec.Subject.ChangedAt = time.Unix(subjectAt.Int64, 0)
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		if err := d.loadAffiliations(&recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (d *DB) loadAffiliations(rec *muc.RoomRecord) error {
	rows, err := d.db.Query(`SELECT jid, affiliation FROM room_affiliations WHERE room_jid = ?`,
		rec.Address.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var j, a string
		if err := rows.Scan(&j, &a); err != nil {
			return err
		}
		aff, err := muc.ParseAffiliation(a)
		if err != nil {
			return fmt.Errorf("stored room %q: %w", rec.Address, err)
		}
		rec.Affiliations[j] = aff
	}
	return rows.Err()
}

// DeleteRoom removes a stored room and its affiliations
func (d *DB) DeleteRoom(addr jid.JID) error {
	_, err := d.db.Exec("DELETE FROM rooms WHERE jid = ?", addr.Bare().String())
	return err
}

// AddJoinEvent appends a join to the audit log
func (d *DB) AddJoinEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	return d.addEvent(room.Address(), "join", at, occupant, nick)
}

// AddLeaveEvent appends a leave to the audit log
func (d *DB) AddLeaveEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	return d.addEvent(room.Address(), "leave", at, occupant, nick)
}

func (d *DB) addEvent(room jid.JID, event string, at time.Time, occupant jid.JID, nick string) error {
	_, err := d.db.Exec(`
		INSERT INTO room_log (room_jid, event, jid, nick, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, room.Bare().String(), event, occupant.String(), nick, at.Unix())
	return err
}

// GetRoomLog returns the most recent audit log entries of a room, newest first
func (d *DB) GetRoomLog(room jid.JID, limit, offset int) ([]LogEntry, error) {
	rows, err := d.db.Query(`
		SELECT id, room_jid, event, jid, nick, timestamp
		FROM room_log
		WHERE room_jid = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, room.Bare().String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Room, &e.Event, &e.JID, &e.Nick, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOldEvents removes audit log entries older than days
func (d *DB) DeleteOldEvents(days int) (int64, error) {
	cutoff := d.now().AddDate(0, 0, -days).Unix()
	result, err := d.db.Exec("DELETE FROM room_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) GetEventCount() (int64, error) {
	var count int64
	err := d.db.QueryRow("SELECT COUNT(*) FROM room_log").Scan(&count)
	return count, err
}

func (d *DB) GetDatabaseSize() (int64, error) {
	var pageCount, pageSize int64
	err := d.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, err
	}
	err = d.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

func (d *DB) Vacuum() error {
	_, err := d.db.Exec("VACUUM")
	return err
}
