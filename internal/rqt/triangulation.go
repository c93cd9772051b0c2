// Package rqt implements restricted quadtree (RQT) triangulations of
// terrain patches: index generation from a vertex enable grid, and the
// compact bit stream encoding of that grid.
package rqt

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-terrain/pkg/bitstream"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// ErrTruncatedStream is returned when a stream runs out of flags while
// decoding.
var ErrTruncatedStream = errors.New("triangulation stream is truncated")

// Orientation names the triangle shapes of the recursion. Axis shapes
// point their right angle along an axis, diagonal shapes have their legs
// on the axes.
type Orientation int

const (
	L Orientation = iota
	R
	B
	T
	LB
	RB
	LT
	RT
)

func (o Orientation) String() string {
	switch o {
	case L:
		return "L"
	case R:
		return "R"
	case B:
		return "B"
	case T:
		return "T"
	case LB:
		return "LB"
	case RB:
		return "RB"
	case LT:
		return "LT"
	case RT:
		return "RT"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

// Triangulation generates the index buffer of one patch.
//
// In encoding mode flags come from the grid and may be appended to a bit
// stream. In decoding mode the first generation reads them from the stream
// into the grid; later generations use the grid.
type Triangulation struct {
	loc                  quadtree.Location
	numLevelsInHierarchy int
	numLocalLevels       int
	patchSize            int
	flags                *VertexFlags

	encoding bool
	stream   *bitstream.Stream
	writer   *bitstream.Writer
	reader   *bitstream.Reader

	ext int
	dst []uint32
}

// NewEncoder wraps an existing flag grid.
func NewEncoder(loc quadtree.Location, flags *VertexFlags, numLevelsInHierarchy int) *Triangulation {
	return &Triangulation{
		loc:                  loc,
		numLevelsInHierarchy: numLevelsInHierarchy,
		numLocalLevels:       NumLocalLevels(flags.PatchSize()),
		patchSize:            flags.PatchSize(),
		flags:                flags,
		encoding:             true,
	}
}

// NewDecoder prepares to rebuild a flag grid from stream. The stream is
// read through its own reader and never modified.
func NewDecoder(loc quadtree.Location, numLevelsInHierarchy int, stream *bitstream.Stream, patchSize int) *Triangulation {
	return &Triangulation{
		loc:                  loc,
		numLevelsInHierarchy: numLevelsInHierarchy,
		numLocalLevels:       NumLocalLevels(patchSize),
		patchSize:            patchSize,
		flags:                NewVertexFlags(patchSize, false),
		stream:               stream,
	}
}

// SetEncodingStream makes the next generation append every visited flag
// to s. It has no effect in decoding mode.
func (t *Triangulation) SetEncodingStream(s *bitstream.Stream) {
	if t.encoding {
		t.stream = s
	}
}

// Location returns the patch location.
func (t *Triangulation) Location() quadtree.Location { return t.loc }

// NumLevelsInHierarchy returns the depth of the hierarchy the patch
// belongs to.
func (t *Triangulation) NumLevelsInHierarchy() int { return t.numLevelsInHierarchy }

// PatchSize returns the number of cells along the patch side.
func (t *Triangulation) PatchSize() int { return t.patchSize }

// Flags returns the vertex enable grid. For a decoder it is complete only
// after the first generation.
func (t *Triangulation) Flags() *VertexFlags { return t.flags }

// Encode runs a pure encoding pass and returns the resulting stream.
func (t *Triangulation) Encode() (*bitstream.Stream, error) {
	s := &bitstream.Stream{}
	t.SetEncodingStream(s)
	if _, err := t.GenerateIndices(0, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateIndices appends the packed triangle indices of the patch to dst
// and returns the extended slice. ext is the boundary extension of the
// elevation window the indices address. A nil dst traverses the flags
// without emitting anything.
func (t *Triangulation) GenerateIndices(ext int, dst []uint32) ([]uint32, error) {
	t.ext = ext
	t.dst = dst
	emit := dst != nil

	if t.stream != nil {
		if t.encoding {
			t.writer = t.stream.StartWriting()
		} else {
			t.reader = t.stream.StartReading()
		}
	}

	ps := t.patchSize
	t.recurse(0, ps, 0, LT, emit)
	t.recurse(ps, 0, 0, RB, emit)

	var err error
	switch {
	case t.writer != nil:
		t.writer.Finish()
	case t.reader != nil:
		if rerr := t.reader.Err(); rerr != nil {
			err = fmt.Errorf("%w at %v: %v", ErrTruncatedStream, t.loc, rerr)
		}
	}
	t.stream, t.writer, t.reader = nil, nil, nil

	out := t.dst
	t.dst = nil
	return out, err
}

func (t *Triangulation) flag(x, y int) bool {
	if t.encoding {
		v := t.flags.Enabled(x, y)
		if t.writer != nil {
			t.writer.WriteBit(v)
		}
		return v
	}
	if t.reader != nil {
		v := t.reader.ReadBit()
		t.flags.SetEnabled(x, y, v)
		return v
	}
	return t.flags.Enabled(x, y)
}

func (t *Triangulation) tri(x1, y1, x2, y2, x3, y3 int) {
	nl := t.numLocalLevels
	t.dst = append(t.dst,
		PackIndex(x1, y1, nl-1, nl, t.ext),
		PackIndex(x2, y2, nl-1, nl, t.ext),
		PackIndex(x3, y3, nl-1, nl, t.ext))
}

// recurse visits the triangle with its right angle at (x, y).
func (t *Triangulation) recurse(x, y, level int, o Orientation, emit bool) {
	nl := t.numLocalLevels
	ps := t.patchSize
	s := 1 << (nl - 1 - level)
	f := 0
	if level < nl-1 {
		f = s >> 1
	}

	switch o {
	case LB:
		if f > 0 && t.flag(x+f, y+f) {
			t.recurse(x+f, y+f, level+1, T, emit)
			t.recurse(x+f, y+f, level+1, R, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x+s, y, x, y+s)
		if x == 0 {
			t.tri(-1, y, 0, y, 0, y+s)
			t.tri(-1, y, 0, y+s, -1, y+s)
		}
		if y == 0 {
			t.tri(x, 0, x, -1, x+s, -1)
			t.tri(x, 0, x+s, -1, x+s, 0)
		}

	case RB:
		if f > 0 && t.flag(x-f, y+f) {
			t.recurse(x-f, y+f, level+1, T, emit)
			t.recurse(x-f, y+f, level+1, L, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x, y+s, x-s, y)
		if x == ps {
			t.tri(ps, y, ps+1, y, ps+1, y+s)
			t.tri(ps, y, ps+1, y+s, ps, y+s)
		}
		if y == 0 {
			t.tri(x, 0, x-s, 0, x-s, -1)
			t.tri(x, 0, x-s, -1, x, -1)
		}

	case LT:
		if f > 0 && t.flag(x+f, y-f) {
			t.recurse(x+f, y-f, level+1, R, emit)
			t.recurse(x+f, y-f, level+1, B, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x, y-s, x+s, y)
		if x == 0 {
			t.tri(0, y, -1, y, -1, y-s)
			t.tri(0, y, -1, y-s, 0, y-s)
		}
		if y == ps {
			t.tri(x, ps, x+s, ps, x+s, ps+1)
			t.tri(x, ps, x+s, ps+1, x, ps+1)
		}

	case RT:
		if f > 0 && t.flag(x-f, y-f) {
			t.recurse(x-f, y-f, level+1, B, emit)
			t.recurse(x-f, y-f, level+1, L, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x-s, y, x, y-s)
		if x == ps {
			t.tri(ps, y, ps, y-s, ps+1, y-s)
			t.tri(ps, y, ps+1, y-s, ps+1, y)
		}
		if y == ps {
			t.tri(x, ps, x, ps+1, x-s, ps)
			t.tri(x-s, ps, x, ps+1, x-s, ps+1)
		}

	case L:
		if t.flag(x+s, y) {
			t.recurse(x+s, y, level, RB, emit)
			t.recurse(x+s, y, level, RT, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x+s, y-s, x+s, y+s)
		if x+s == ps {
			t.tri(ps, y-s, ps+1, y-s, ps+1, y+s)
			t.tri(ps, y-s, ps+1, y+s, ps, y+s)
		}

	case R:
		if t.flag(x-s, y) {
			t.recurse(x-s, y, level, LB, emit)
			t.recurse(x-s, y, level, LT, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x-s, y+s, x-s, y-s)
		if x-s == 0 {
			t.tri(-1, y-s, 0, y-s, 0, y+s)
			t.tri(-1, y-s, 0, y+s, -1, y+s)
		}

	case B:
		if t.flag(x, y+s) {
			t.recurse(x, y+s, level, LT, emit)
			t.recurse(x, y+s, level, RT, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x+s, y+s, x-s, y+s)
		if y+s == ps {
			t.tri(x-s, ps, x+s, ps, x+s, ps+1)
			t.tri(x-s, ps, x+s, ps+1, x-s, ps+1)
		}

	case T:
		if t.flag(x, y-s) {
			t.recurse(x, y-s, level, LB, emit)
			t.recurse(x, y-s, level, RB, emit)
			return
		}
		if !emit {
			return
		}
		t.tri(x, y, x-s, y-s, x+s, y-s)
		if y-s == 0 {
			t.tri(x-s, -1, x+s, -1, x+s, 0)
			t.tri(x-s, -1, x+s, 0, x-s, 0)
		}
	}
}
