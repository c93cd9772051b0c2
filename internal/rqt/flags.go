package rqt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadPatchSize is returned when a stored flag grid has an invalid size.
var ErrBadPatchSize = errors.New("invalid flag grid patch size")

// maxStoredPatchSize bounds the patch size accepted from files.
const maxStoredPatchSize = 1 << 14

// VertexFlags is the (patchSize+1)² grid of vertex enable flags of one
// patch. Index i = x + y*(patchSize+1).
type VertexFlags struct {
	patchSize int
	flags     []bool
}

// NewVertexFlags returns a grid with every flag set to initial.
func NewVertexFlags(patchSize int, initial bool) *VertexFlags {
	n := (patchSize + 1) * (patchSize + 1)
	f := &VertexFlags{patchSize: patchSize, flags: make([]bool, n)}
	if initial {
		for i := range f.flags {
			f.flags[i] = true
		}
	}
	return f
}

// PatchSize returns the number of cells along the patch side.
func (f *VertexFlags) PatchSize() int { return f.patchSize }

// Len returns the number of flags.
func (f *VertexFlags) Len() int { return len(f.flags) }

// Enabled reports whether vertex (x, y) is enabled.
func (f *VertexFlags) Enabled(x, y int) bool {
	return f.flags[x+y*(f.patchSize+1)]
}

// SetEnabled sets the flag of vertex (x, y).
func (f *VertexFlags) SetEnabled(x, y int, v bool) {
	f.flags[x+y*(f.patchSize+1)] = v
}

// CountEnabled returns the number of enabled vertices.
func (f *VertexFlags) CountEnabled() int {
	n := 0
	for _, v := range f.flags {
		if v {
			n++
		}
	}
	return n
}

// Equal reports whether both grids have the same size and flags.
func (f *VertexFlags) Equal(o *VertexFlags) bool {
	if f.patchSize != o.patchSize || len(f.flags) != len(o.flags) {
		return false
	}
	for i := range f.flags {
		if f.flags[i] != o.flags[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (f *VertexFlags) Clone() *VertexFlags {
	c := &VertexFlags{patchSize: f.patchSize, flags: make([]bool, len(f.flags))}
	copy(c.flags, f.flags)
	return c
}

// words packs the flags 32 per little-endian word, flag i at bit i%32.
func (f *VertexFlags) words() []uint32 {
	w := make([]uint32, (len(f.flags)+31)/32)
	for i, v := range f.flags {
		if v {
			w[i/32] |= 1 << (i % 32)
		}
	}
	return w
}

// WriteTo writes the patch size followed by the packed flag words.
func (f *VertexFlags) WriteTo(w io.Writer) (int64, error) {
	words := f.words()
	if err := binary.Write(w, binary.LittleEndian, int32(f.patchSize)); err != nil {
		return 0, fmt.Errorf("writing patch size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, words); err != nil {
		return 4, fmt.Errorf("writing flags: %w", err)
	}
	return int64(4 + 4*len(words)), nil
}

// ReadVertexFlags reads a grid written by WriteTo. Memory is claimed as
// the words arrive, so a truncated grid fails before the flags are
// allocated.
func ReadVertexFlags(r io.Reader) (*VertexFlags, error) {
	var ps int32
	if err := binary.Read(r, binary.LittleEndian, &ps); err != nil {
		return nil, fmt.Errorf("reading patch size: %w", err)
	}
	if ps < 0 || ps > maxStoredPatchSize {
		return nil, fmt.Errorf("%w: %d", ErrBadPatchSize, ps)
	}

	n := (int(ps) + 1) * (int(ps) + 1)
	words, err := readWords(r, (n+31)/32)
	if err != nil {
		return nil, fmt.Errorf("reading flags: %w", err)
	}
	f := NewVertexFlags(int(ps), false)
	for i := range f.flags {
		f.flags[i] = words[i/32]&(1<<(i%32)) != 0
	}
	return f, nil
}

// FlagWords returns the number of packed words WriteTo stores for a grid
// of the given patch size.
func FlagWords(patchSize int) int {
	return ((patchSize+1)*(patchSize+1) + 31) / 32
}

const readChunkWords = 1 << 14

func readWords(r io.Reader, n int) ([]uint32, error) {
	words := make([]uint32, 0, min(n, readChunkWords))
	for len(words) < n {
		chunk := make([]uint32, min(n-len(words), readChunkWords))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, err
		}
		words = append(words, chunk...)
	}
	return words, nil
}
