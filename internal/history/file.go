package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tickrun/internal/job"
	logx "tickrun/pkg/logx"
)

// fileStore is a dependency-free persistence backend: one JSON-encoded
// outcome per line, append-only. Recent() re-reads the file; this backend is
// meant for small deployments where the log stays short or gets rotated.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Append(_ context.Context, o job.Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	_, err = s.f.Write(b)
	return err
}

func (s *fileStore) Recent(_ context.Context, n int) ([]job.Outcome, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	rf, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rf.Close()

	// Ring over the last n lines; the file is read once, oldest first.
	ring := make([]job.Outcome, 0, n)
	sc := bufio.NewScanner(rf)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var o job.Outcome
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			// Skip torn/corrupt lines rather than failing the whole read.
			s.log.Debug("history: skipping bad line", logx.Err(err))
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, o)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Newest first, matching the sqlite backend.
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
	return ring, nil
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
