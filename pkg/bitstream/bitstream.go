// Package bitstream implements a minimal bit-level stream used to store
// encoded triangulation flags.
//
// Bits are packed into bytes starting from the least significant bit: the
// first bit written to a byte ends up in bit 0. A Stream is written once and
// then read any number of times; readers do not mutate the stream, so a
// finished Stream may be shared between goroutines.
package bitstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEndOfStream is reported when reading past the last written bit.
	ErrEndOfStream = errors.New("bitstream: read past end of stream")
	// ErrCorrupt is reported when persisted stream data is inconsistent.
	ErrCorrupt = errors.New("bitstream: corrupt stream data")
)

// Stream holds a sequence of bits.
type Stream struct {
	data    []byte
	numBits int
}

// Bits returns the number of bits stored in the stream.
func (s *Stream) Bits() int {
	return s.numBits
}

// Size returns the size of the packed bit data in bytes.
func (s *Stream) Size() int {
	return len(s.data)
}

// IsEmpty reports whether the stream has no bits.
func (s *Stream) IsEmpty() bool {
	return s.numBits == 0
}

// Bytes returns the packed bit data. The slice must not be modified.
func (s *Stream) Bytes() []byte {
	return s.data
}

// Clone returns a deep copy of the stream.
func (s *Stream) Clone() *Stream {
	c := &Stream{numBits: s.numBits}
	c.data = append([]byte(nil), s.data...)
	return c
}

// StartWriting discards the stream contents and returns a writer that
// fills it. The stream is not updated until Finish is called.
func (s *Stream) StartWriting() *Writer {
	return &Writer{s: s, left: 8}
}

// StartReading returns a reader positioned at the first bit.
func (s *Stream) StartReading() *Reader {
	return &Reader{data: s.data, remaining: s.numBits}
}

// Writer appends bits to a Stream.
type Writer struct {
	s     *Stream
	buf   []byte
	cur   byte
	left  int
	total int
	done  bool
}

// WriteBit appends one bit.
func (w *Writer) WriteBit(bit bool) {
	w.cur >>= 1
	if bit {
		w.cur |= 0x80
	}
	w.left--
	if w.left == 0 {
		w.buf = append(w.buf, w.cur)
		w.left = 8
	}
	w.total++
}

// Finish flushes a partially filled byte and publishes the bits to the
// stream. Calling Finish more than once has no effect.
func (w *Writer) Finish() {
	if w.done {
		return
	}
	w.done = true
	if w.left < 8 {
		w.buf = append(w.buf, w.cur>>w.left)
	}
	w.s.data = w.buf
	w.s.numBits = w.total
}

// Reader consumes bits from a Stream.
type Reader struct {
	data      []byte
	pos       int
	cur       byte
	left      int
	remaining int
	err       error
}

// ReadBit returns the next bit. Once the stream is exhausted it returns
// false and Err reports ErrEndOfStream.
func (r *Reader) ReadBit() bool {
	if r.remaining <= 0 || (r.left == 0 && r.pos >= len(r.data)) {
		r.err = ErrEndOfStream
		return false
	}
	if r.left == 0 {
		r.cur = r.data[r.pos]
		r.pos++
		r.left = 8
	}
	bit := r.cur&1 != 0
	r.cur >>= 1
	r.left--
	r.remaining--
	return bit
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return r.remaining
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	return r.err
}

// WriteTo persists the stream as an int32 bit count followed by the packed
// bytes.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, int32(s.numBits)); err != nil {
		return 0, fmt.Errorf("writing bit count: %w", err)
	}
	n, err := w.Write(s.data[:(s.numBits+7)/8])
	if err != nil {
		return int64(4 + n), fmt.Errorf("writing bit data: %w", err)
	}
	return int64(4 + n), nil
}

// ReadFrom loads a stream previously written by WriteTo, replacing the
// current contents.
func (s *Stream) ReadFrom(r io.Reader) (int64, error) {
	var numBits int32
	if err := binary.Read(r, binary.LittleEndian, &numBits); err != nil {
		return 0, fmt.Errorf("reading bit count: %w", err)
	}
	if numBits < 0 {
		return 4, fmt.Errorf("%w: negative bit count %d", ErrCorrupt, numBits)
	}
	data := make([]byte, (int(numBits)+7)/8)
	n, err := io.ReadFull(r, data)
	if err != nil {
		return int64(4 + n), fmt.Errorf("reading bit data: %w", err)
	}
	s.data = data
	s.numBits = int(numBits)
	return int64(4 + n), nil
}
