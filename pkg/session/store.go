package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	_ "modernc.org/sqlite"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// State is the persisted shape of a session: default headers, runtime
// cookies, and the current auth token.
type State struct {
	Headers     map[string]string `json:"headers,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Token       string            `json:"token,omitempty"`
	TokenExpiry time.Time         `json:"token_expiry,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store persists session state between runs. Load returns (nil, nil)
// when no state exists for the key.
type Store interface {
	Load(ctx context.Context, key string) (*State, error)
	Save(ctx context.Context, key string, state *State) error
}

// NewStore builds the store the persist config names.
func NewStore(cfg *descriptor.PersistConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		if cfg.Path == "" {
			return nil, &libretoerrors.ConfigError{
				Key:    "persist.path",
				Reason: "file backend requires a path",
			}
		}
		return NewFileStore(cfg.Path), nil
	case "keyring":
		service := cfg.Service
		if service == "" {
			service = "libretto"
		}
		return NewKeyringStore(service), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, &libretoerrors.ConfigError{
				Key:    "persist.path",
				Reason: "sqlite backend requires a path",
			}
		}
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, &libretoerrors.ConfigError{
			Key:    "persist.backend",
			Reason: fmt.Sprintf("unknown backend %q (use file, keyring, or sqlite)", cfg.Backend),
		}
	}
}

// FileStore keeps every session's state in one JSON file, keyed by
// session. Writes go through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state for key, or (nil, nil) when absent.
func (f *FileStore) Load(ctx context.Context, key string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	states, err := f.read()
	if err != nil {
		return nil, err
	}
	return states[key], nil
}

// Save writes the state for key, preserving other keys in the file.
func (f *FileStore) Save(ctx context.Context, key string, state *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	states, err := f.read()
	if err != nil {
		return err
	}
	if states == nil {
		states = map[string]*State{}
	}
	states[key] = state

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) read() (map[string]*State, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	states := map[string]*State{}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("invalid state file format: %w", err)
	}
	return states, nil
}

// KeyringStore keeps session state in the OS keyring, one entry per key.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring store under the given service name.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

// Load reads the state for key, or (nil, nil) when absent.
func (k *KeyringStore) Load(ctx context.Context, key string) (*State, error) {
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring entry: %w", err)
	}
	state := &State{}
	if err := json.Unmarshal([]byte(value), state); err != nil {
		return nil, fmt.Errorf("invalid keyring state format: %w", err)
	}
	return state, nil
}

// Save writes the state for key.
func (k *KeyringStore) Save(ctx context.Context, key string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	if err := keyring.Set(k.service, key, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	return nil
}

// SQLiteStore keeps session state in a single key-value table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	connStr := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS session_state (
		key        TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session_state table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads the state for key, or (nil, nil) when absent.
func (s *SQLiteStore) Load(ctx context.Context, key string) (*State, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	state := &State{}
	if err := json.Unmarshal([]byte(value), state); err != nil {
		return nil, fmt.Errorf("invalid stored state format: %w", err)
	}
	return state, nil
}

// Save upserts the state for key.
func (s *SQLiteStore) Save(ctx context.Context, key string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	query := `INSERT INTO session_state (key, state, updated_at) VALUES (?, ?, ?)
	          ON CONFLICT(key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, string(data),
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
