// Package credstore owns the on-disk credential material of every session:
// one directory per session id, each holding a sqlite database managed by the
// protocol engine's own store. Credential writes happen inside the engine on
// every credential-update event; this package only controls placement,
// loading and removal.
package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

var (
	// ErrBadSessionID rejects ids that cannot safely name a directory.
	ErrBadSessionID = errors.New("invalid session id")
	// ErrCredentialIO wraps failures to open or read credential material.
	ErrCredentialIO = errors.New("credential store failure")
)

// managed pairs a container with the database handle it wraps, so eviction
// can close the connection pool before the files go away.
type managed struct {
	container *sqlstore.Container
	db        *sql.DB
}

// Store hands out per-session credential containers. A session id owns its
// directory exclusively; the registry's single-flight rule guarantees no two
// containers for the same id are live at once.
type Store struct {
	root string
	log  waLog.Logger

	mu         sync.Mutex
	containers map[string]*managed
}

// New creates a store rooted at dir (created on demand).
func New(root string) *Store {
	return &Store{
		root:       root,
		log:        waLog.Noop,
		containers: make(map[string]*managed),
	}
}

// ValidateID rejects session ids that escape the credential root.
func ValidateID(sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		filepath.Base(sessionID) != sessionID {
		return errors.Wrap(ErrBadSessionID, sessionID)
	}
	return nil
}

// Device loads the stored device for a session, creating fresh (unpaired)
// credentials when none exist yet.
func (s *Store) Device(ctx context.Context, sessionID string) (*store.Device, error) {
	container, err := s.container(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		return nil, errors.Wrapf(ErrCredentialIO, "load device: %v", err)
	}
	return device, nil
}

func (s *Store) container(ctx context.Context, sessionID string) (*sqlstore.Container, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.containers[sessionID]; ok {
		return m.container, nil
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(ErrCredentialIO, "create credential dir: %v", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, "creds.db"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(ErrCredentialIO, "open credential db: %v", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", s.log)
	if err := container.Upgrade(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(ErrCredentialIO, "migrate credential store: %v", err)
	}
	s.containers[sessionID] = &managed{container: container, db: db}
	return container, nil
}

// Remove closes the cached container's database handle and deletes the
// credential directory. Called after a successful logout; best-effort.
func (s *Store) Remove(sessionID string) {
	if err := ValidateID(sessionID); err != nil {
		return
	}
	s.mu.Lock()
	m := s.containers[sessionID]
	delete(s.containers, sessionID)
	s.mu.Unlock()
	if m != nil {
		if err := m.db.Close(); err != nil {
			zap.L().Warn("credential db close failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		zap.L().Warn("credential cleanup failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
