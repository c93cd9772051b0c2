package triang

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Faultbox/midgard-terrain/internal/rqt"
	"github.com/Faultbox/midgard-terrain/pkg/bitstream"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// ErrCorruptFile is returned for triangulation files with inconsistent
// contents.
var ErrCorruptFile = errors.New("corrupt triangulation file")

type fileHeader struct {
	NumLevels       int32
	NumLocalLevels  int32
	FinestThreshold float32
}

// WriteTo writes the hierarchy in level-major order. Every non-root node
// stores its decoded flag grid.
func (s *Source) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	hdr := fileHeader{
		NumLevels:       int32(s.numLevels),
		NumLocalLevels:  int32(s.numLocalLevels),
		FinestThreshold: s.finestThreshold,
	}
	if err := binary.Write(cw, binary.LittleEndian, &hdr); err != nil {
		return cw.n, fmt.Errorf("writing header: %w", err)
	}

	for it := quadtree.NewIterator(s.numLevels); it.Valid(); it.Next() {
		loc := it.Location()
		if err := binary.Write(cw, binary.LittleEndian, s.nodes.At(loc).errorBound); err != nil {
			return cw.n, fmt.Errorf("writing error bound of %v: %w", loc, err)
		}
		if loc.Level == 0 {
			continue
		}
		flags := rqt.NewVertexFlags(s.patchSize, false)
		if !s.nodes.At(loc).flags.IsEmpty() {
			dec := s.DecodeTriangulation(loc)
			if _, err := dec.GenerateIndices(0, nil); err != nil {
				return cw.n, fmt.Errorf("decoding %v: %w", loc, err)
			}
			flags = dec.Flags()
		}
		if _, err := flags.WriteTo(cw); err != nil {
			return cw.n, fmt.Errorf("writing flags of %v: %w", loc, err)
		}
	}
	return cw.n, nil
}

// fileSize returns the length of a file written by WriteTo for the given
// shape.
func fileSize(numLevels, patchSize int) int64 {
	nodes := (int64(1)<<(2*numLevels) - 1) / 3
	grid := int64(4 + 4*rqt.FlagWords(patchSize))
	return int64(binary.Size(fileHeader{})) + 4*nodes + (nodes-1)*grid
}

func (s *Source) checkHeader(hdr fileHeader) (patchSize int, err error) {
	if hdr.NumLocalLevels < 1 || hdr.NumLocalLevels > 15 {
		return 0, fmt.Errorf("%w: %d local levels", ErrCorruptFile, hdr.NumLocalLevels)
	}
	if hdr.NumLevels < 1 || hdr.NumLevels > 16 {
		return 0, fmt.Errorf("%w: %d levels", ErrCorruptFile, hdr.NumLevels)
	}
	patchSize = 1 << (hdr.NumLocalLevels - 1)
	if s.wantLevels > 0 && (int(hdr.NumLevels) != s.wantLevels || patchSize != s.wantPatchSize) {
		return 0, fmt.Errorf("%w: file has %d levels of %d, want %d levels of %d",
			ErrHierarchyMismatch, hdr.NumLevels, patchSize, s.wantLevels, s.wantPatchSize)
	}
	return patchSize, nil
}

// ReadFrom replaces the hierarchy with one written by WriteTo. Flag grids
// are re-encoded into streams as they are read. The hierarchy is allocated
// only once every node has been read.
func (s *Source) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	var hdr fileHeader
	if err := binary.Read(cr, binary.LittleEndian, &hdr); err != nil {
		return cr.n, fmt.Errorf("reading header: %w", err)
	}
	patchSize, err := s.checkHeader(hdr)
	if err != nil {
		return cr.n, err
	}
	numLevels := int(hdr.NumLevels)

	var nodes []nodeInfo
	for it := quadtree.NewIterator(numLevels); it.Valid(); it.Next() {
		loc := it.Location()
		info := nodeInfo{flags: &bitstream.Stream{}}
		if err := binary.Read(cr, binary.LittleEndian, &info.errorBound); err != nil {
			return cr.n, fmt.Errorf("reading error bound of %v: %w", loc, err)
		}
		if loc.Level > 0 {
			flags, err := rqt.ReadVertexFlags(cr)
			if err != nil {
				return cr.n, fmt.Errorf("reading flags of %v: %w", loc, err)
			}
			if flags.PatchSize() != patchSize {
				return cr.n, fmt.Errorf("%w: patch %v has size %d, want %d", ErrCorruptFile, loc, flags.PatchSize(), patchSize)
			}
			if info.flags, err = rqt.NewEncoder(loc, flags, numLevels).Encode(); err != nil {
				return cr.n, fmt.Errorf("encoding %v: %w", loc, err)
			}
		}
		nodes = append(nodes, info)
	}

	loaded, err := New(numLevels, patchSize, hdr.FinestThreshold)
	if err != nil {
		return cr.n, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	i := 0
	for it := quadtree.NewIterator(numLevels); it.Valid(); it.Next() {
		*loaded.nodes.At(it.Location()) = nodes[i]
		i++
	}
	if s.log != nil {
		loaded.log = s.log
	}
	loaded.wantLevels, loaded.wantPatchSize = s.wantLevels, s.wantPatchSize
	*s = *loaded
	return cr.n, nil
}

// SaveToFile writes the hierarchy to path.
func (s *Source) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating triangulation file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if _, err := s.WriteTo(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing triangulation file: %w", err)
	}
	return f.Close()
}

// LoadFromFile reads a hierarchy saved by SaveToFile. A file whose length
// disagrees with its header is rejected before its nodes are read.
func LoadFromFile(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening triangulation file: %w", err)
	}
	defer f.Close()

	s := &Source{}
	for _, opt := range opts {
		opt(s)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("opening triangulation file: %w", err)
	}
	var hdr fileHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("loading %s: reading header: %w", path, err)
	}
	patchSize, err := s.checkHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if want := fileSize(int(hdr.NumLevels), patchSize); info.Size() != want {
		return nil, fmt.Errorf("loading %s: %w: %d bytes, header describes %d",
			path, ErrCorruptFile, info.Size(), want)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if _, err := s.ReadFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return s, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
