package triang

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-terrain/internal/elevation"
	"github.com/Faultbox/midgard-terrain/internal/rqt"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

func flatElevation(t *testing.T, size int, v uint16, ps int) *elevation.Source {
	t.Helper()
	hf := elevation.NewHeightField(size, size)
	for i := range hf.Samples {
		hf.Samples[i] = v
	}
	elev, err := elevation.New(hf, ps)
	require.NoError(t, err)
	return elev
}

func noiseElevation(t *testing.T, size, ps int) *elevation.Source {
	t.Helper()
	hf := elevation.NewHeightField(size, size)
	seed := uint32(99)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			seed = seed*1664525 + 1013904223
			// A smooth slope with some roughness on top.
			hf.Set(col, row, uint16(2000+col*3+row+int(seed>>24)%40))
		}
	}
	elev, err := elevation.New(hf, ps)
	require.NoError(t, err)
	return elev
}

func buildHierarchy(t *testing.T, elev *elevation.Source, finest float32, workers int) (*Source, *Stats) {
	t.Helper()
	src, err := New(elev.NumLevels(), elev.PatchSize(), finest)
	require.NoError(t, err)
	stats, err := src.Build(context.Background(), elev, Options{ElevationScale: 1, Workers: workers})
	require.NoError(t, err)
	return src, stats
}

func decodeIndices(t *testing.T, src *Source, loc quadtree.Location) []uint32 {
	t.Helper()
	idx, err := src.DecodeTriangulation(loc).GenerateIndices(1, make([]uint32, 0, rqt.MaxIndices(src.PatchSize())))
	require.NoError(t, err)
	return idx
}

func requireSameHierarchy(t *testing.T, want, got *Source) {
	t.Helper()
	require.Equal(t, want.NumLevels(), got.NumLevels())
	require.Equal(t, want.PatchSize(), got.PatchSize())
	require.Equal(t, want.FinestThreshold(), got.FinestThreshold())
	for it := quadtree.NewIterator(want.NumLevels()); it.Valid(); it.Next() {
		loc := it.Location()
		require.Equal(t, want.TriangulationErrorBound(loc), got.TriangulationErrorBound(loc), "%v", loc)
		w, g := want.nodes.At(loc).flags, got.nodes.At(loc).flags
		require.Equal(t, w.Bits(), g.Bits(), "%v", loc)
		require.Equal(t, w.Bytes(), g.Bytes(), "%v", loc)
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(3, 48, 1)
	require.ErrorIs(t, err, elevation.ErrPatchSizeNotPowerOfTwo)

	_, err = New(0, 64, 1)
	require.ErrorIs(t, err, ErrInvalidLevels)

	src, err := New(3, 64, 2.5)
	require.NoError(t, err)
	require.Equal(t, 3, src.NumLevels())
	require.Equal(t, 64, src.PatchSize())
	require.Equal(t, 7, src.NumLocalLevels())
	require.Equal(t, float32(2.5), src.FinestThreshold())
	require.Zero(t, src.EncodedSize(quadtree.Root))
}

func TestFlatTerrainNeedsOnlyMandatoryTriangles(t *testing.T) {
	elev := flatElevation(t, 129, 1000, 64)
	require.Equal(t, 2, elev.NumLevels())

	src, stats := buildHierarchy(t, elev, 40, 1)
	for it := quadtree.NewIterator(2); it.Valid(); it.Next() {
		loc := it.Location()
		require.Zero(t, src.TriangulationErrorBound(loc), "%v", loc)
		if loc.Level == 0 {
			continue
		}
		require.Len(t, decodeIndices(t, src, loc), 10*3, "%v", loc)

		dec := src.DecodeTriangulation(loc)
		_, err := dec.GenerateIndices(0, nil)
		require.NoError(t, err)
		require.Zero(t, dec.Flags().CountEnabled())
	}

	require.Len(t, stats.Levels, 1)
	require.Equal(t, 4, stats.Levels[0].Patches)
	require.Equal(t, int64(40), stats.Levels[0].Triangles)
	require.Equal(t, int64(4), stats.Levels[0].Bytes)
	require.Equal(t, int64(128*128), stats.TotalSamples)
}

func TestStepIsRefinedAlongTheDiscontinuity(t *testing.T) {
	const ps = 16
	tests := []struct {
		name    string
		stepCol int // first column raised to 1000
	}{
		{"off center", 9},
		{"centered", ps / 2},
		{"near left edge", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hf := elevation.NewHeightField(ps+1, ps+1)
			for row := 0; row <= ps; row++ {
				for col := tt.stepCol; col <= ps; col++ {
					hf.Set(col, row, 1000)
				}
			}
			elev, err := elevation.New(hf, ps)
			require.NoError(t, err)
			src, err := New(elev.NumLevels(), ps, 1)
			require.NoError(t, err)

			tri, achieved, triangles, err := src.CreateAdaptiveTriangulation(elev.ElevData(quadtree.Root), 1)
			require.NoError(t, err)
			require.LessOrEqual(t, achieved, float32(1))
			require.Greater(t, triangles, 10)

			// The finest vertex whose horizontal edge straddles the step.
			edge := tt.stepCol
			if edge%2 == 0 {
				edge--
			}
			flags := tri.Flags()
			for y := 0; y <= ps; y += 2 {
				require.True(t, flags.Enabled(edge, y), "(%d, %d)", edge, y)
			}
			for y := 0; y <= ps; y++ {
				for x := 0; x <= ps; x++ {
					if x%2 == 0 && y%2 == 0 {
						continue
					}
					if x <= edge-3 || x >= edge+3 {
						require.False(t, flags.Enabled(x, y), "(%d, %d)", x, y)
					}
				}
			}
		})
	}
}

func TestAchievedErrorStaysBelowThreshold(t *testing.T) {
	elev := noiseElevation(t, 65, 32)
	src, err := New(elev.NumLevels(), 32, 1)
	require.NoError(t, err)

	for _, threshold := range []float32{2, 10, 30, 100} {
		for it := quadtree.NewIterator(elev.NumLevels()); it.Valid(); it.Next() {
			window := elev.ElevData(it.Location())
			_, achieved, triangles, err := src.CreateAdaptiveTriangulation(window, threshold)
			require.NoError(t, err)
			require.LessOrEqual(t, achieved, threshold, "%v threshold %v", it.Location(), threshold)
			require.GreaterOrEqual(t, triangles, 10)
		}
	}
}

func TestCoarserThresholdKeepsFewerTriangles(t *testing.T) {
	elev := noiseElevation(t, 65, 64)
	src, err := New(elev.NumLevels(), 64, 1)
	require.NoError(t, err)
	window := elev.ElevData(quadtree.Root)

	_, _, fine, err := src.CreateAdaptiveTriangulation(window, 2)
	require.NoError(t, err)
	_, _, coarse, err := src.CreateAdaptiveTriangulation(window, 60)
	require.NoError(t, err)
	require.Less(t, coarse, fine)
	require.LessOrEqual(t, fine, 2*64*64+8*64)
}

func TestTriangleError(t *testing.T) {
	const pitch = 5
	data := make([]uint16, pitch*pitch)
	data[2+2*pitch] = 100 // peak in the middle

	pack := func(x, y int) uint32 { return rqt.PackIndex(x, y, 0, 1, 0) }
	tri := [3]uint32{pack(0, 0), pack(4, 0), pack(0, 4)}
	require.Equal(t, float32(100), triangleError(tri, data, pitch, 0, 1000))

	// Early exit reports the first sample at or above the threshold.
	require.GreaterOrEqual(t, triangleError(tri, data, pitch, 0, 50), float32(50))

	away := [3]uint32{pack(4, 4), pack(3, 4), pack(4, 3)}
	require.Zero(t, triangleError(away, data, pitch, 0, 1000))

	degenerate := [3]uint32{pack(0, 0), pack(0, 0), pack(4, 4)}
	require.Zero(t, triangleError(degenerate, data, pitch, 0, 1000))
	collinear := [3]uint32{pack(0, 0), pack(1, 1), pack(2, 2)}
	require.Zero(t, triangleError(collinear, data, pitch, 0, 1000))
}

func TestParallelBuildMatchesSequential(t *testing.T) {
	elev := noiseElevation(t, 257, 32)
	seq, seqStats := buildHierarchy(t, elev, 4, 1)
	par, parStats := buildHierarchy(t, elev, 4, 4)
	requireSameHierarchy(t, seq, par)
	require.Equal(t, seqStats.Levels, parStats.Levels)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	elev := noiseElevation(t, 513, 32)
	require.Equal(t, 5, elev.NumLevels())
	src, stats := buildHierarchy(t, elev, 4, 4)

	path := filepath.Join(t.TempDir(), "terrain.tri")
	require.NoError(t, src.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate(elev))
	requireSameHierarchy(t, src, loaded)

	for _, loc := range []quadtree.Location{{Level: 1}, {Level: 3, Horz: 5, Vert: 2}, {Level: 4, Horz: 15, Vert: 15}} {
		require.Equal(t, decodeIndices(t, src, loc), decodeIndices(t, loaded, loc), "%v", loc)
	}

	recomputed, err := loaded.Stats()
	require.NoError(t, err)
	require.Equal(t, stats.Levels, recomputed.Levels)

	// Saving the loaded hierarchy reproduces the file.
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	var buf bytes.Buffer
	n, err := loaded.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(len(first)), n)
	require.Equal(t, first, buf.Bytes())
}

func TestFileLayout(t *testing.T) {
	src, err := New(2, 4, 1.5)
	require.NoError(t, err)
	var buf bytes.Buffer
	n, err := src.WriteTo(&buf)
	require.NoError(t, err)

	// Header, then root bound, then four patches with bound, size and
	// one word of 25 flags each.
	require.Equal(t, int64(12+4+4*(4+4+4)), n)
	b := buf.Bytes()
	require.Equal(t, []byte{2, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0xc0, 0x3f}, b[:12])
}

func TestReadFromRejectsBadFiles(t *testing.T) {
	elev := flatElevation(t, 129, 10, 64)
	src, _ := buildHierarchy(t, elev, 40, 1)
	var buf bytes.Buffer
	_, err := src.WriteTo(&buf)
	require.NoError(t, err)
	good := buf.Bytes()

	var dst Source
	_, err = dst.ReadFrom(bytes.NewReader(good[:len(good)-3]))
	require.Error(t, err)

	bad := append([]byte(nil), good...)
	bad[4] = 40
	_, err = dst.ReadFrom(bytes.NewReader(bad))
	require.ErrorIs(t, err, ErrCorruptFile)

	_, err = dst.ReadFrom(bytes.NewReader(good))
	require.NoError(t, err)
	requireSameHierarchy(t, src, &dst)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.tri"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// allocated returns the bytes allocated while f runs.
func allocated(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestReadFromBoundsAllocationByInput(t *testing.T) {
	// Twelve levels of 32² patches and no nodes.
	header := []byte{12, 0, 0, 0, 6, 0, 0, 0, 0, 0, 0x80, 0x3f}

	var err error
	n := allocated(func() {
		var dst Source
		_, err = dst.ReadFrom(bytes.NewReader(header))
	})
	require.ErrorIs(t, err, io.EOF)
	require.Less(t, n, uint64(1<<20))

	n = allocated(func() {
		dst := Source{}
		WithExpectedShape(3, 64)(&dst)
		_, err = dst.ReadFrom(bytes.NewReader(header))
	})
	require.ErrorIs(t, err, ErrHierarchyMismatch)
	require.Less(t, n, uint64(1<<20))

	path := filepath.Join(t.TempDir(), "short.tri")
	require.NoError(t, os.WriteFile(path, header, 0o644))
	n = allocated(func() { _, err = LoadFromFile(path) })
	require.ErrorIs(t, err, ErrCorruptFile)
	require.Less(t, n, uint64(1<<20))

	_, err = LoadFromFile(path, WithExpectedShape(12, 32))
	require.ErrorIs(t, err, ErrCorruptFile)
	_, err = LoadFromFile(path, WithExpectedShape(2, 32))
	require.ErrorIs(t, err, ErrHierarchyMismatch)
}

func TestFileSizeMatchesWriteTo(t *testing.T) {
	for _, shape := range []struct{ levels, ps int }{{1, 4}, {2, 4}, {3, 16}, {4, 64}} {
		src, err := New(shape.levels, shape.ps, 1)
		require.NoError(t, err)
		n, err := src.WriteTo(io.Discard)
		require.NoError(t, err)
		require.Equal(t, fileSize(shape.levels, shape.ps), n, "%+v", shape)
	}
}

func TestValidateMismatch(t *testing.T) {
	elev := flatElevation(t, 129, 10, 64)
	src, err := New(3, 64, 1)
	require.NoError(t, err)
	require.ErrorIs(t, src.Validate(elev), ErrHierarchyMismatch)

	_, err = src.Build(context.Background(), elev, Options{})
	require.ErrorIs(t, err, ErrHierarchyMismatch)

	other, err := New(2, 32, 1)
	require.NoError(t, err)
	require.ErrorIs(t, other.Validate(elev), ErrHierarchyMismatch)
}

func TestBuildHonorsCancellation(t *testing.T) {
	elev := noiseElevation(t, 129, 32)
	src, err := New(elev.NumLevels(), 32, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, workers := range []int{1, 4} {
		_, err = src.Build(ctx, elev, Options{Workers: workers})
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestLoadOrBuild(t *testing.T) {
	ctx := context.Background()
	elev := noiseElevation(t, 129, 32)
	path := filepath.Join(t.TempDir(), "terrain.tri")
	opts := BootstrapOptions{FinestThreshold: 4, Build: Options{ElevationScale: 1}}

	built, stats, err := LoadOrBuild(ctx, path, elev, opts)
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.FileExists(t, path)

	loaded, stats, err := LoadOrBuild(ctx, path, elev, opts)
	require.NoError(t, err)
	require.Nil(t, stats)
	requireSameHierarchy(t, built, loaded)

	opts.ForceRecreate = true
	_, stats, err = LoadOrBuild(ctx, path, elev, opts)
	require.NoError(t, err)
	require.NotNil(t, stats)

	// A file built for other data is replaced.
	other := flatElevation(t, 129, 5, 64)
	opts.ForceRecreate = false
	rebuilt, stats, err := LoadOrBuild(ctx, path, other, opts)
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.NoError(t, rebuilt.Validate(other))

	again, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, again.Validate(other))

	// So is a file cut short after its header.
	require.NoError(t, os.WriteFile(path, []byte{12, 0, 0, 0, 6, 0, 0, 0, 0, 0, 0x80, 0x3f}, 0o644))
	rebuilt, stats, err = LoadOrBuild(ctx, path, other, opts)
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.NoError(t, rebuilt.Validate(other))
}

func TestStatsReport(t *testing.T) {
	elev := flatElevation(t, 129, 1000, 64)
	_, stats := buildHierarchy(t, elev, 40, 1)

	l := stats.Levels[0]
	require.Equal(t, int64(66*66*2*4), l.FullResTriangles)
	require.InDelta(t, 40.0/float64(66*66*2*4), l.TriangleFraction(), 1e-9)
	require.InDelta(t, 4*8/40.0, l.BitsPerTriangle(), 1e-9)
	require.InDelta(t, 32/float64(128*128), stats.CompressedBitsPerSample(), 1e-9)

	var buf bytes.Buffer
	stats.Print(&buf)
	require.Contains(t, buf.String(), "Level 1: 4 patches")
	require.Contains(t, buf.String(), "Total compressed size: 4 bytes")
}
