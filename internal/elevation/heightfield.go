package elevation

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Height field loading errors.
var (
	ErrEmptyHeightField     = errors.New("empty height field")
	ErrUnsupportedFormat    = errors.New("unsupported height field format")
	ErrRawDimensionsMissing = errors.New("raw height field needs columns and rows")
	ErrTruncatedRaw         = errors.New("truncated raw height field")
)

// HeightField is a row-major raster of 16-bit elevation samples.
type HeightField struct {
	Width   int
	Height  int
	Samples []uint16
}

// NewHeightField allocates a zeroed raster.
func NewHeightField(width, height int) *HeightField {
	return &HeightField{Width: width, Height: height, Samples: make([]uint16, width*height)}
}

// At returns the sample at (col, row).
func (hf *HeightField) At(col, row int) uint16 {
	return hf.Samples[col+row*hf.Width]
}

// Set stores the sample at (col, row).
func (hf *HeightField) Set(col, row int, v uint16) {
	hf.Samples[col+row*hf.Width] = v
}

func (hf *HeightField) validate() error {
	if hf == nil || hf.Width <= 0 || hf.Height <= 0 {
		return ErrEmptyHeightField
	}
	if len(hf.Samples) < hf.Width*hf.Height {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrEmptyHeightField, len(hf.Samples), hf.Width, hf.Height)
	}
	return nil
}

// Format selects the decoder used by DecodeHeightField.
type Format int

const (
	FormatPNG Format = iota
	FormatTIFF
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatTIFF:
		return "tiff"
	case FormatRaw:
		return "raw"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	case ".raw", ".r16":
		return FormatRaw, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// LoadHeightField reads a DEM from disk. rawCols and rawRows are only used
// for raw files.
func LoadHeightField(path string, rawCols, rawRows int) (*HeightField, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening height field: %w", err)
	}
	defer f.Close()

	hf, err := DecodeHeightField(bufio.NewReader(f), format, rawCols, rawRows)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return hf, nil
}

// DecodeHeightField reads a DEM in the given format.
func DecodeHeightField(r io.Reader, format Format, rawCols, rawRows int) (*HeightField, error) {
	switch format {
	case FormatPNG:
		img, err := png.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("png: %w", err)
		}
		return fromImage(img)
	case FormatTIFF:
		img, err := tiff.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("tiff: %w", err)
		}
		return fromImage(img)
	case FormatRaw:
		return decodeRaw(r, rawCols, rawRows)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

func fromImage(img image.Image) (*HeightField, error) {
	b := img.Bounds()
	hf := NewHeightField(b.Dx(), b.Dy())
	if err := hf.validate(); err != nil {
		return nil, err
	}

	if g, ok := img.(*image.Gray16); ok {
		for row := 0; row < hf.Height; row++ {
			for col := 0; col < hf.Width; col++ {
				hf.Set(col, row, g.Gray16At(b.Min.X+col, b.Min.Y+row).Y)
			}
		}
		return hf, nil
	}

	for row := 0; row < hf.Height; row++ {
		for col := 0; col < hf.Width; col++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.Gray16)
			hf.Set(col, row, c.Y)
		}
	}
	return hf, nil
}

func decodeRaw(r io.Reader, cols, rows int) (*HeightField, error) {
	if cols <= 0 || rows <= 0 {
		return nil, ErrRawDimensionsMissing
	}
	hf := NewHeightField(cols, rows)
	if err := binary.Read(r, binary.LittleEndian, hf.Samples); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: want %d samples", ErrTruncatedRaw, cols*rows)
		}
		return nil, fmt.Errorf("raw: %w", err)
	}
	return hf, nil
}

// WriteRaw writes the samples as little-endian uint16 values.
func (hf *HeightField) WriteRaw(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, hf.Samples)
}
