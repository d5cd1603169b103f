package tokens

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// ErrSourceUnavailable is returned by Load when the token file cannot be read.
// The store is left holding an empty set.
var ErrSourceUnavailable = errors.New("token source unavailable")

// Set is an immutable set of tokens. The zero value is an empty set.
type Set struct {
	m map[string]struct{}
}

// NewSet builds a Set from the given tokens. Duplicates collapse.
func NewSet(tokens ...string) *Set {
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return &Set{m: m}
}

// Contains reports whether token is in the set. The match is exact and
// case-sensitive.
func (s *Set) Contains(token string) bool {
	if s == nil {
		return false
	}
	_, ok := s.m[token]
	return ok
}

// Len returns the number of distinct tokens.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.m)
}

// Parse reads tokens from data. Each line is trimmed; empty lines and lines
// starting with "#" are skipped.
func Parse(data []byte) *Set {
	var toks []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		toks = append(toks, line)
	}
	return NewSet(toks...)
}

// Store is the credential store. Readers never block on a reload.
type Store struct {
	path string
	cur  atomic.Pointer[Set]
}

// NewStore creates a Store backed by the file at path. It starts empty;
// call Load to populate it.
func NewStore(path string) *Store {
	s := &Store{path: path}
	s.cur.Store(NewSet())
	return s
}

// Path returns the token file path.
func (s *Store) Path() string { return s.path }

// Load reads the token file and replaces the current set wholesale.
// It returns the number of tokens now held.
//
// If the file cannot be read, the set is replaced by an empty one and the
// returned error wraps ErrSourceUnavailable.
func (s *Store) Load() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.cur.Store(NewSet())
		return 0, fmt.Errorf("tokens: read %q: %w: %w", s.path, ErrSourceUnavailable, err)
	}

	set := Parse(data)
	s.cur.Store(set)

	if set.Len() == 0 {
		slog.Warn("tokens: file read but no tokens found", "path", s.path)
	}
	return set.Len(), nil
}

// Reload is Load under another name. It is safe to call from request
// handlers while other requests are validating tokens.
func (s *Store) Reload() (int, error) {
	return s.Load()
}

// Contains reports whether token is in the current set.
func (s *Store) Contains(token string) bool {
	return s.cur.Load().Contains(token)
}

// Len returns the size of the current set.
func (s *Store) Len() int {
	return s.cur.Load().Len()
}

// Snapshot returns the current immutable set.
func (s *Store) Snapshot() *Set {
	return s.cur.Load()
}
