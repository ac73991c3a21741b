// Package memory keeps exported rows in process. Used by tests and local
// runs without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	ports "lufashion/internal/export"
)

type Store struct {
	mu   sync.Mutex
	rows []ports.Row
}

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic reference.
func (s *Store) Append(_ context.Context, row ports.Row) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []ports.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Row(nil), s.rows...)
}
