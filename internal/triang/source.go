// Package triang owns the hierarchy of encoded adaptive triangulations:
// it builds them from an elevation source, decodes them on demand and
// persists them to disk.
package triang

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/rqt"
	"github.com/Faultbox/midgard-terrain/pkg/bitstream"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// Triangulation source errors.
var (
	ErrHierarchyMismatch = errors.New("triangulation hierarchy does not match elevation data")
	ErrInvalidLevels     = errors.New("invalid number of hierarchy levels")
)

type nodeInfo struct {
	errorBound float32
	flags      *bitstream.Stream
}

// Source holds one encoded triangulation per hierarchy node. Encoded
// streams are read-only once built or loaded, so decoding is safe from
// several goroutines.
type Source struct {
	numLevels       int
	patchSize       int
	numLocalLevels  int
	finestThreshold float32

	nodes *quadtree.HierarchyArray[nodeInfo]
	log   *zap.Logger

	// Shape a loaded file must have; zero accepts any.
	wantLevels, wantPatchSize int
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Source) { s.log = l }
}

// WithExpectedShape makes ReadFrom reject files whose header does not
// describe numLevels levels of patchSize patches, before anything is
// allocated for them.
func WithExpectedShape(numLevels, patchSize int) Option {
	return func(s *Source) { s.wantLevels, s.wantPatchSize = numLevels, patchSize }
}

// New returns an empty hierarchy. Every node starts with a zero error
// bound and an empty stream.
func New(numLevels, patchSize int, finestThreshold float32, opts ...Option) (*Source, error) {
	if !elevation.IsPowerOfTwo(patchSize) {
		return nil, fmt.Errorf("%w: %d", elevation.ErrPatchSizeNotPowerOfTwo, patchSize)
	}
	if numLevels < 1 || numLevels > 16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevels, numLevels)
	}
	s := &Source{
		numLevels:       numLevels,
		patchSize:       patchSize,
		numLocalLevels:  rqt.NumLocalLevels(patchSize),
		finestThreshold: finestThreshold,
		nodes:           quadtree.NewHierarchyArray[nodeInfo](numLevels),
		log:             logger.For("triang"),
	}
	for _, opt := range opts {
		opt(s)
	}
	for it := quadtree.NewIterator(numLevels); it.Valid(); it.Next() {
		s.nodes.At(it.Location()).flags = &bitstream.Stream{}
	}
	return s, nil
}

// NumLevels returns the depth of the hierarchy.
func (s *Source) NumLevels() int { return s.numLevels }

// PatchSize returns the number of cells along a patch side.
func (s *Source) PatchSize() int { return s.patchSize }

// NumLocalLevels returns the depth of the quadtree inside one patch.
func (s *Source) NumLocalLevels() int { return s.numLocalLevels }

// FinestThreshold returns the error threshold of the finest level.
func (s *Source) FinestThreshold() float32 { return s.finestThreshold }

// TriangulationErrorBound returns the achieved error of the triangulation
// at loc, in elevation units.
func (s *Source) TriangulationErrorBound(loc quadtree.Location) float32 {
	return s.nodes.At(loc).errorBound
}

// EncodedSize returns the compressed size of the triangulation at loc in
// bytes.
func (s *Source) EncodedSize(loc quadtree.Location) int {
	return s.nodes.At(loc).flags.Size()
}

// DecodeTriangulation returns a decoder over the stream stored for loc.
// Flags are materialized by its first GenerateIndices call.
func (s *Source) DecodeTriangulation(loc quadtree.Location) *rqt.Triangulation {
	return rqt.NewDecoder(loc, s.numLevels, s.nodes.At(loc).flags, s.patchSize)
}

// EncodeTriangulation stores tri and its error bound for loc.
func (s *Source) EncodeTriangulation(loc quadtree.Location, tri *rqt.Triangulation, errorBound float32) error {
	stream, err := tri.Encode()
	if err != nil {
		return fmt.Errorf("encoding %v: %w", loc, err)
	}
	info := s.nodes.At(loc)
	info.flags = stream
	info.errorBound = errorBound
	return nil
}

// Validate checks that the hierarchy was built for elev.
func (s *Source) Validate(elev *elevation.Source) error {
	if s.numLevels != elev.NumLevels() || s.patchSize != elev.PatchSize() {
		return fmt.Errorf("%w: triangulation has %d levels of %d, elevation has %d levels of %d",
			ErrHierarchyMismatch, s.numLevels, s.patchSize, elev.NumLevels(), elev.PatchSize())
	}
	return nil
}
