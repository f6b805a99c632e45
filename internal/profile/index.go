// Package profile gives random access to the rows of a setpoint file
// through a byte-offset index built once per file.
package profile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrEndOfData    = errors.New("end of profile data")
	ErrMalformedRow = errors.New("malformed profile row")
	ErrStaleIndex   = errors.New("profile index does not match file")
	ErrClosed       = errors.New("profile store closed")
)

// Index holds the byte offset of every line start. It is immutable once
// built.
type Index struct {
	offsets []int64
	size    int64
}

// BuildIndex scans r once. offsets[0] is 0 and offsets are strictly
// increasing; no offset is recorded for the end of the data.
func BuildIndex(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	idx := &Index{}

	var pos int64
	atLineStart := true
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if atLineStart {
				idx.offsets = append(idx.offsets, pos)
			}
			pos += int64(len(chunk))
			atLineStart = chunk[len(chunk)-1] == '\n'
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to index profile: %w", err)
		}
	}

	idx.size = pos
	return idx, nil
}

// IndexFile builds the index of the file at path.
func IndexFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return BuildIndex(f)
}

// Len returns the number of lines.
func (x *Index) Len() int {
	return len(x.offsets)
}

// Size returns the number of bytes indexed.
func (x *Index) Size() int64 {
	return x.size
}

// Offset returns the start of line i.
func (x *Index) Offset(i int) int64 {
	return x.offsets[i]
}

// span returns the byte range of line i, newline included.
func (x *Index) span(i int) (start, end int64) {
	start = x.offsets[i]
	if i+1 < len(x.offsets) {
		return start, x.offsets[i+1]
	}
	return start, x.size
}
