package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"tame/internal/notification"
	logx "tame/pkg/logx"
)

// fileStore appends events to a JSON Lines file.
//
// Once the file holds keep+keep/2 lines it is compacted in place to the
// newest keep events (write tmp, rename, reopen).
type fileStore struct {
	log  logx.Logger
	path string
	keep int

	mu    sync.Mutex
	f     *os.File
	lines int
}

const maxLineBytes = 1 << 20

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	lines, err := countLines(cfg.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: cfg.Path, keep: cfg.maxEvents(), f: f, lines: lines}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendEvent(ctx context.Context, ev notification.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("journal file closed")
	}
	if err := json.NewEncoder(s.f).Encode(ev); err != nil {
		return err
	}
	s.lines++
	if s.lines >= s.keep+s.keep/2 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentEvents(ctx context.Context, n int) ([]notification.Event, error) {
	_ = ctx
	if n <= 0 {
		return []notification.Event{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return readTail(s.path, n, s.log)
}

func (s *fileStore) compactLocked() error {
	events, err := readTail(s.path, s.keep, s.log)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	_ = s.f.Close()
	s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.lines = len(events)
	return nil
}

// readTail returns the last n decodable events in path, oldest first.
// Malformed lines are skipped.
func readTail(path string, n int, log logx.Logger) ([]notification.Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []notification.Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]notification.Event, 0, n)
	start := 0
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		var ev notification.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			skipped++
			continue
		}
		if len(ring) < n {
			ring = append(ring, ev)
			continue
		}
		ring[start] = ev
		start = (start + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Debug("journal lines skipped", logx.String("path", path), logx.Int("count", skipped))
	}

	out := make([]notification.Event, 0, len(ring))
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
