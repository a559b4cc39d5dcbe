package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tame/pkg/logx"
)

// Store owns the configuration file: it loads, repairs, persists and
// publishes configuration documents. Load and Save are serialized.
type Store struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	doc      Document
	lastHash uint64

	// subsMu guards subs so publish never sends on a channel that
	// Unsubscribe is closing.
	subsMu sync.Mutex
	subs   []chan Document
}

// NewStore returns a store for path. An empty path selects DefaultPath.
func NewStore(path string, log logx.Logger) *Store {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	return &Store{path: expandHome(path), log: log}
}

// DefaultPath is $XDG_CONFIG_HOME/tame/config.toml, falling back to
// ~/.config/tame/config.toml.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		base = "~/.config"
	}
	return filepath.Join(expandHome(base), "tame", "config.toml")
}

func (s *Store) Path() string { return s.path }

// SetLogger replaces the bootstrap logger. Call it before Watch.
func (s *Store) SetLogger(log logx.Logger) {
	s.mu.Lock()
	s.log = log
	s.mu.Unlock()
}

// Load reads the file and returns the effective document.
//
// A missing file is created with the defaults. A file that cannot be read or
// parsed yields the defaults untouched, never a partial merge. Otherwise the
// file is merged onto the defaults and repaired (see Repair).
func (s *Store) Load() Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		doc = Defaults()
		if err := s.write(doc); err != nil {
			s.log.Warn("failed writing default config", logx.String("path", s.path), logx.Err(err))
		} else {
			s.log.Info("wrote default config", logx.String("path", s.path))
		}
	case err != nil:
		s.log.Warn("failed to parse config; using defaults", logx.String("path", s.path), logx.Err(err))
		doc = Defaults()
	}

	s.commitLocked(doc)
	return doc
}

// read parses the file and returns the repaired, merged document.
func (s *Store) read() (Document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	user, err := parse(s.path, b)
	if err != nil {
		return nil, err
	}
	doc := Merge(Defaults(), user)
	Repair(doc, s.log)
	return doc, nil
}

// Save writes doc to the file, creating parent directories as needed.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(doc); err != nil {
		return err
	}
	s.commitLocked(doc)
	return nil
}

func (s *Store) write(doc Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := render(s.path, doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (s *Store) commitLocked(doc Document) {
	s.doc = doc
	s.lastHash = hashDocument(doc)
}

// Document returns the current document, loading it on first use.
func (s *Store) Document() Document {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	if doc == nil {
		doc = s.Load()
	}
	return doc
}

// Get navigates a dot path in the current document, returning def when any
// segment is missing.
func (s *Store) Get(path string, def any) any {
	return Lookup(s.Document(), path, def)
}

// Settings decodes the current document. Fields that don't fit the typed
// view keep their defaults and are logged; the rest of the file still applies.
func (s *Store) Settings() Settings {
	st, err := Decode(s.Document())
	if err != nil {
		s.log.Warn("config values of the wrong type replaced by defaults", logx.String("path", s.path), logx.Err(err))
	}
	return st
}

func hashDocument(doc Document) uint64 {
	// json.Marshal sorts map keys, so equal documents hash equally.
	b, err := json.Marshal(doc)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
