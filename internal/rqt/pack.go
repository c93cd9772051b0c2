package rqt

// PackIndex converts a vertex at the given local level into a patch index.
// Coordinates are scaled to the finest level, offset by the window's
// boundary extension and clamped at 0.
func PackIndex(x, y, level, numLevels, ext int) uint32 {
	shift := numLevels - 1 - level
	x = max((x<<shift)+ext, 0)
	y = max((y<<shift)+ext, 0)
	return uint32(x&0xFFFF) | uint32(y&0xFFFF)<<16
}

// UnpackIndex reverses PackIndex for a vertex at the finest level.
func UnpackIndex(p uint32, ext int) (x, y int) {
	return int(p&0xFFFF) - ext, int(p>>16) - ext
}

// MaxIndices bounds the number of indices a patch of the given size can
// produce, flanges included.
func MaxIndices(patchSize int) int {
	return (patchSize + 3) * (patchSize + 3) * 6
}

// NumLocalLevels returns the depth of the quadtree inside one patch.
func NumLocalLevels(patchSize int) int {
	n := 0
	for 1<<n <= patchSize {
		n++
	}
	return n
}
