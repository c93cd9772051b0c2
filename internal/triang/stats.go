package triang

import (
	"fmt"
	"io"
	"time"

	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// LevelStats summarizes the triangulations of one hierarchy level.
type LevelStats struct {
	Level            int
	Patches          int
	Triangles        int64
	Bytes            int64
	FullResTriangles int64
}

// TriangleFraction returns the share of triangles kept relative to full
// resolution patches with flanges.
func (l LevelStats) TriangleFraction() float64 {
	if l.FullResTriangles == 0 {
		return 0
	}
	return float64(l.Triangles) / float64(l.FullResTriangles)
}

// BitsPerTriangle returns the compressed size per kept triangle.
func (l LevelStats) BitsPerTriangle() float64 {
	if l.Triangles == 0 {
		return 0
	}
	return float64(l.Bytes) * 8 / float64(l.Triangles)
}

// Stats summarizes a triangulation hierarchy. The root level carries no
// triangulation and is not listed.
type Stats struct {
	Levels       []LevelStats
	TotalSamples int64
	Duration     time.Duration
}

func newStats(numLevels, patchSize int) *Stats {
	st := &Stats{}
	perPatch := int64((patchSize+2)*(patchSize+2)) * 2
	for level := 1; level < numLevels; level++ {
		n := int64(1) << (2 * level)
		st.Levels = append(st.Levels, LevelStats{Level: level, FullResTriangles: perPatch * n})
	}
	side := int64(patchSize) << (numLevels - 1)
	st.TotalSamples = side * side
	return st
}

func (st *Stats) add(loc quadtree.Location, triangles, bytes int) {
	if loc.Level == 0 {
		return
	}
	l := &st.Levels[loc.Level-1]
	l.Patches++
	l.Triangles += int64(triangles)
	l.Bytes += int64(bytes)
}

// TotalBytes returns the compressed size of all levels.
func (st *Stats) TotalBytes() int64 {
	var n int64
	for _, l := range st.Levels {
		n += l.Bytes
	}
	return n
}

// TotalTriangles returns the number of triangles of all levels.
func (st *Stats) TotalTriangles() int64 {
	var n int64
	for _, l := range st.Levels {
		n += l.Triangles
	}
	return n
}

// AverageTriangleFraction is TriangleFraction over all levels.
func (st *Stats) AverageTriangleFraction() float64 {
	var full int64
	for _, l := range st.Levels {
		full += l.FullResTriangles
	}
	if full == 0 {
		return 0
	}
	return float64(st.TotalTriangles()) / float64(full)
}

// AverageBitsPerTriangle is BitsPerTriangle over all levels.
func (st *Stats) AverageBitsPerTriangle() float64 {
	t := st.TotalTriangles()
	if t == 0 {
		return 0
	}
	return float64(st.TotalBytes()) * 8 / float64(t)
}

// CompressedBitsPerSample returns the compressed size per finest level
// height sample.
func (st *Stats) CompressedBitsPerSample() float64 {
	if st.TotalSamples == 0 {
		return 0
	}
	return float64(st.TotalBytes()) * 8 / float64(st.TotalSamples)
}

// Print writes a human readable report.
func (st *Stats) Print(w io.Writer) {
	for _, l := range st.Levels {
		fmt.Fprintf(w, "Level %d: %d patches, %.1f%% of full res triangles, %.3f bits/tri\n",
			l.Level, l.Patches, l.TriangleFraction()*100, l.BitsPerTriangle())
	}
	fmt.Fprintf(w, "\nAverage: %.1f%% of full res triangles, %.3f bits/tri\n",
		st.AverageTriangleFraction()*100, st.AverageBitsPerTriangle())
	fmt.Fprintf(w, "Total compressed size: %d bytes\n", st.TotalBytes())
	fmt.Fprintf(w, "Compressed bits per sample: %.3f\n", st.CompressedBitsPerSample())
	if st.Duration > 0 {
		fmt.Fprintf(w, "Build time: %v\n", st.Duration.Round(time.Millisecond))
	}
}

// Stats recomputes the statistics of a loaded hierarchy by decoding every
// triangulation.
func (s *Source) Stats() (*Stats, error) {
	st := newStats(s.numLevels, s.patchSize)
	for it := quadtree.NewIterator(s.numLevels); it.Valid(); it.Next() {
		loc := it.Location()
		if loc.Level == 0 {
			continue
		}
		n, err := s.countTriangles(loc)
		if err != nil {
			return nil, err
		}
		st.add(loc, n, s.EncodedSize(loc))
	}
	return st, nil
}

func (s *Source) countTriangles(loc quadtree.Location) (int, error) {
	idx, err := s.DecodeTriangulation(loc).GenerateIndices(0, make([]uint32, 0, 64))
	if err != nil {
		return 0, err
	}
	return len(idx) / 3, nil
}
