package profile

import (
	"fmt"
	"os"
	"sync"
)

// Store keeps one handle open on a profile file and reads single rows at
// indexed offsets.
type Store struct {
	path string
	idx  *Index

	mu sync.Mutex
	f  *os.File
}

// Open indexes path and opens it for row lookups.
func Open(path string) (*Store, error) {
	idx, err := IndexFile(path)
	if err != nil {
		return nil, err
	}
	return OpenWithIndex(path, idx)
}

// OpenWithIndex opens path with an index built earlier. The file must still
// have the indexed size.
func OpenWithIndex(path string, idx *Index) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() != idx.Size() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, index covers %d", ErrStaleIndex, path, info.Size(), idx.Size())
	}

	return &Store{path: path, idx: idx, f: f}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Index() *Index {
	return s.idx
}

// Len returns the number of rows, parsable or not.
func (s *Store) Len() int {
	return s.idx.Len()
}

// RowAt reads and parses line i. Negative indices read line 0.
func (s *Store) RowAt(i int) (Row, error) {
	if i < 0 {
		i = 0
	}
	if i >= s.idx.Len() {
		return Row{}, fmt.Errorf("%w: row %d of %d", ErrEndOfData, i, s.idx.Len())
	}

	start, end := s.idx.span(i)
	buf := make([]byte, end-start)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return Row{}, ErrClosed
	}
	if _, err := s.f.ReadAt(buf, start); err != nil {
		return Row{}, fmt.Errorf("failed to read row %d: %w", i, err)
	}

	row, err := ParseRow(string(buf))
	if err != nil {
		return Row{}, fmt.Errorf("row %d: %w", i, err)
	}
	return row, nil
}

// Close releases the file handle. Calling it again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
