// Package store implements the persistence adapter (C9): a prepared-statement
// facade over the durable schema (users, secret_keys, sessions, messages,
// calls, media). The original deployment targets a wide-column store
// (Scylla/Cassandra); no such driver exists anywhere in the example pack this
// module was grounded on, so the adapter is backed by sqlite through
// database/sql instead (see DESIGN.md). The adapter's method set is
// schema-agnostic enough that a true wide-column driver could be dropped in
// behind the same interface later.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by the adapter. The caller (C5/C6/C7) logs and
// proceeds with fan-out regardless, per spec.md §4.9 and §7.
var (
	ErrUserNotFound    = errors.New("store: user not found")
	ErrSessionNotFound = errors.New("store: session not found")
	ErrCallNotFound    = errors.New("store: call not found")
)

// Role is a User's authorization level.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// User mirrors spec.md §3's User entity.
type User struct {
	UUID         string
	Username     string
	PasswordHash string
	Role         Role
	PublicKey    string
	CreatedAt    time.Time
}

// SessionRow mirrors spec.md §3's Session (auth-layer) entity — one row per
// active JWT.
type SessionRow struct {
	JWT        string
	UserUUID   string
	Location   string
	DeviceName string
	DeviceType string
	DeviceOS   string
	CreatedAt  time.Time
}

// Message mirrors spec.md §3's Message entity. Persisted iff Secret is false.
type Message struct {
	UUID         string
	Ciphertext   []byte
	Nonce        []byte
	SenderUUID   string
	ReceiverUUID string
	Sent         bool
	Read         bool
	Edited       bool
	Type         string
	Secret       bool
	CreatedAt    int64
	EditedAt     *int64
}

// Call mirrors spec.md §3's Call entity.
type Call struct {
	UUID         string
	SenderUUID   string
	ReceiverUUID string
	Secret       bool
	Accepted     bool
	CreatedAt    int64
	DurationS    int64
}

// Media mirrors spec.md §3's MediaObject entity.
type Media struct {
	UUID      string
	Name      string
	Path      string
	Kind      string
	Sender    string
	CreatedAt int64
}

// Store is the sqlite-backed Persistence Adapter.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt

	// callCache holds recently touched calls so rapid Accept→End sequences
	// on the same uuid don't round-trip the database twice. Bounded the way
	// the teacher bounds its in-memory maps, but backed by a real LRU
	// instead of a hand-rolled parallel-slice eviction.
	callCache *lru.Cache[string, Call]
}

// Open opens (or creates) the sqlite database at path and runs migrations.
func Open(path string, log *zap.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers per process.

	cache, _ := lru.New[string, Call](512)
	s := &Store{db: db, log: log, stmts: make(map[string]*sql.Stmt), callCache: cache}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite store opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database connection and any prepared statements.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.stmtMu.Lock()
	for _, stmt := range s.stmts {
		_ = stmt.Close()
	}
	s.stmtMu.Unlock()
	return s.db.Close()
}

// migration is one versioned schema step, in the style of the teacher's
// ordered migrations slice rather than a single opaque schema blob.
type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	{1, `CREATE TABLE IF NOT EXISTS users (
		uuid TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		public_key TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`},
	{2, `CREATE TABLE IF NOT EXISTS secret_keys (
		user_uuid TEXT PRIMARY KEY REFERENCES users(uuid),
		public_key TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`},
	{3, `CREATE TABLE IF NOT EXISTS sessions (
		jwt TEXT PRIMARY KEY,
		user_uuid TEXT NOT NULL REFERENCES users(uuid),
		location TEXT NOT NULL DEFAULT '',
		device_name TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		device_os TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`},
	{4, `CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_uuid)`},
	{5, `CREATE TABLE IF NOT EXISTS messages (
		uuid TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		sender_uuid TEXT NOT NULL,
		receiver_uuid TEXT NOT NULL,
		sent INTEGER NOT NULL DEFAULT 0,
		read INTEGER NOT NULL DEFAULT 0,
		edited INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL DEFAULT 'text',
		created_at INTEGER NOT NULL,
		edited_at INTEGER
	)`},
	{6, `CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_uuid, receiver_uuid, created_at)`},
	{7, `CREATE TABLE IF NOT EXISTS calls (
		uuid TEXT PRIMARY KEY,
		sender_uuid TEXT NOT NULL,
		receiver_uuid TEXT NOT NULL,
		secret INTEGER NOT NULL DEFAULT 0,
		accepted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		duration_s INTEGER NOT NULL DEFAULT 0
	)`},
	{8, `CREATE TABLE IF NOT EXISTS media (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		sender TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`},
	{9, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("store: bootstrap migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied int
		_ = s.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied)
		if applied == 1 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("store: migration v%d: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now().Unix()); err != nil {
			return fmt.Errorf("store: record migration v%d: %w", m.version, err)
		}
	}
	s.log.Debug("sqlite migrations applied", zap.Int("count", len(migrations)))
	return nil
}

// prepared returns a cached *sql.Stmt for query, preparing it on first use.
func (s *Store) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: prepare statement: %w", err)
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// InsertUser creates a new user row.
func (s *Store) InsertUser(ctx context.Context, u User) error {
	stmt, err := s.prepared(ctx, `INSERT INTO users (uuid, username, password_hash, role, public_key, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, u.UUID, u.Username, u.PasswordHash, string(u.Role), u.PublicKey, u.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("store: insert user: %w", err)
	}
	return nil
}

// SelectUserByUUID resolves a user by uuid.
func (s *Store) SelectUserByUUID(ctx context.Context, uuid string) (User, error) {
	return s.selectUser(ctx, `SELECT uuid, username, password_hash, role, public_key, created_at FROM users WHERE uuid = ?`, uuid)
}

// SelectUserByUsername resolves a user by username.
func (s *Store) SelectUserByUsername(ctx context.Context, username string) (User, error) {
	return s.selectUser(ctx, `SELECT uuid, username, password_hash, role, public_key, created_at FROM users WHERE username = ?`, username)
}

func (s *Store) selectUser(ctx context.Context, query, arg string) (User, error) {
	stmt, err := s.prepared(ctx, query)
	if err != nil {
		return User{}, err
	}
	var u User
	var role string
	var createdAt int64
	err = stmt.QueryRowContext(ctx, arg).Scan(&u.UUID, &u.Username, &u.PasswordHash, &role, &u.PublicKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: select user: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}

// ListUsers returns every registered user.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, username, password_hash, role, public_key, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var role string
		var createdAt int64
		if err := rows.Scan(&u.UUID, &u.Username, &u.PasswordHash, &role, &u.PublicKey, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.Role = Role(role)
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserKey rotates a user's public key.
func (s *Store) UpdateUserKey(ctx context.Context, uuid, publicKey string) error {
	stmt, err := s.prepared(ctx, `UPDATE users SET public_key = ? WHERE uuid = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, publicKey, uuid)
	if err != nil {
		return fmt.Errorf("store: update user key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUsername renames a user, the one field the original's PUT
// /users/:id handler rewrites.
func (s *Store) UpdateUsername(ctx context.Context, uuid, username string) error {
	stmt, err := s.prepared(ctx, `UPDATE users SET username = ? WHERE uuid = ?`)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, username, uuid)
	if err != nil {
		return fmt.Errorf("store: update username: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, uuid string) error {
	stmt, err := s.prepared(ctx, `DELETE FROM users WHERE uuid = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, uuid); err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}
	return nil
}

// InsertSession persists a freshly issued JWT with its device metadata.
func (s *Store) InsertSession(ctx context.Context, sess SessionRow) error {
	stmt, err := s.prepared(ctx, `INSERT INTO sessions (jwt, user_uuid, location, device_name, device_type, device_os, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, sess.JWT, sess.UserUUID, sess.Location, sess.DeviceName, sess.DeviceType, sess.DeviceOS, sess.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// SelectUUIDByJWT resolves the owning user_uuid for a JWT that is present in
// the session table. This is the second half of C4's auth check — signature
// verification alone is not sufficient; the token must also be live.
func (s *Store) SelectUUIDByJWT(ctx context.Context, jwt string) (string, error) {
	stmt, err := s.prepared(ctx, `SELECT user_uuid FROM sessions WHERE jwt = ?`)
	if err != nil {
		return "", err
	}
	var uuid string
	err = stmt.QueryRowContext(ctx, jwt).Scan(&uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: select session: %w", err)
	}
	return uuid, nil
}

// DeleteSessionByJWT removes one session row (logout).
func (s *Store) DeleteSessionByJWT(ctx context.Context, jwt string) error {
	stmt, err := s.prepared(ctx, `DELETE FROM sessions WHERE jwt = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, jwt); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// InsertMessage persists one non-secret message row. Per spec.md invariant 4,
// the in-memory status is already sent=true by the time this is called.
func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	stmt, err := s.prepared(ctx, `INSERT INTO messages (uuid, ciphertext, nonce, sender_uuid, receiver_uuid, sent, read, edited, type, created_at, edited_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, m.UUID, m.Ciphertext, m.Nonce, m.SenderUUID, m.ReceiverUUID, m.Sent, m.Read, m.Edited, m.Type, m.CreatedAt, m.EditedAt)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// InsertCall persists a call row on Start: duration is 0, accepted is false.
func (s *Store) InsertCall(ctx context.Context, c Call) error {
	stmt, err := s.prepared(ctx, `INSERT INTO calls (uuid, sender_uuid, receiver_uuid, secret, accepted, created_at, duration_s) VALUES (?, ?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, c.UUID, c.SenderUUID, c.ReceiverUUID, c.Secret, c.Accepted, c.CreatedAt); err != nil {
		return fmt.Errorf("store: insert call: %w", err)
	}
	s.callCache.Add(c.UUID, c)
	return nil
}

// UpdateCall conditionally updates duration and accepted on Accept/End,
// per spec.md §4.6. The WHERE clause matches both uuid and created_at,
// mirroring the original wide-column query's clustering-key comparison
// (`WHERE uuid = ? AND created_at = ? IF EXISTS`). Returns (false, nil) —
// not an error — when no matching row exists, per the §9 design note
// resolving the End-before-Start race as a no-op rather than a failure.
func (s *Store) UpdateCall(ctx context.Context, uuid string, createdAt, duration int64, accepted bool) (bool, error) {
	stmt, err := s.prepared(ctx, `UPDATE calls SET duration_s = ?, accepted = ? WHERE uuid = ? AND created_at = ?`)
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, duration, accepted, uuid, createdAt)
	if err != nil {
		return false, fmt.Errorf("store: update call: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if cached, ok := s.callCache.Get(uuid); ok {
		cached.DurationS = duration
		cached.Accepted = accepted
		s.callCache.Add(uuid, cached)
	}
	return true, nil
}

// SelectCall resolves a call row, preferring the bounded in-memory cache
// before falling back to sqlite.
func (s *Store) SelectCall(ctx context.Context, uuid string) (Call, error) {
	if c, ok := s.callCache.Get(uuid); ok {
		return c, nil
	}
	stmt, err := s.prepared(ctx, `SELECT uuid, sender_uuid, receiver_uuid, secret, accepted, created_at, duration_s FROM calls WHERE uuid = ?`)
	if err != nil {
		return Call{}, err
	}
	var c Call
	err = stmt.QueryRowContext(ctx, uuid).Scan(&c.UUID, &c.SenderUUID, &c.ReceiverUUID, &c.Secret, &c.Accepted, &c.CreatedAt, &c.DurationS)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrCallNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("store: select call: %w", err)
	}
	s.callCache.Add(uuid, c)
	return c, nil
}

// InsertMedia persists media metadata (C7's payload record).
func (s *Store) InsertMedia(ctx context.Context, m Media) error {
	stmt, err := s.prepared(ctx, `INSERT INTO media (uuid, name, path, kind, sender, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, m.UUID, m.Name, m.Path, m.Kind, m.Sender, m.CreatedAt); err != nil {
		return fmt.Errorf("store: insert media: %w", err)
	}
	return nil
}
