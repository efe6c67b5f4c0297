// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fragments

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxBoxSize bounds a single box accepted from a live stream.
const MaxBoxSize = 64 << 20

var (
	// ErrUnboundedBox is returned for a box declaring size 0 (extends to end
	// of file), which a live stream can never terminate.
	ErrUnboundedBox = errors.New("box extends to end of stream")
	ErrInvalidBox   = errors.New("invalid box size")
	ErrBoxTooLarge  = errors.New("box exceeds size limit")
)

// Box is one ISO-BMFF box as read from the wire.
type Box struct {
	// Header holds the raw size and type bytes, including a 64-bit largesize.
	Header []byte
	Type   string
	Data   []byte
}

// Len returns the encoded size of the box.
func (b Box) Len() int { return len(b.Header) + len(b.Data) }

// Reader parses consecutive boxes from a byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next reads one box. It returns io.EOF only at a box boundary; a stream
// ending inside a box yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Box, error) {
	hdr := make([]byte, 8, 16)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return Box{}, err
	}

	size := uint64(binary.BigEndian.Uint32(hdr[:4]))
	typ := string(hdr[4:8])
	switch size {
	case 0:
		return Box{}, fmt.Errorf("%s: %w", typ, ErrUnboundedBox)
	case 1:
		hdr = hdr[:16]
		if _, err := io.ReadFull(r.r, hdr[8:]); err != nil {
			return Box{}, noEOF(err)
		}
		size = binary.BigEndian.Uint64(hdr[8:])
	}
	if size < uint64(len(hdr)) {
		return Box{}, fmt.Errorf("%s: %w: %d", typ, ErrInvalidBox, size)
	}
	if size > MaxBoxSize {
		return Box{}, fmt.Errorf("%s: %w: %d", typ, ErrBoxTooLarge, size)
	}

	data := make([]byte, size-uint64(len(hdr)))
	if _, err := io.ReadFull(r.r, data); err != nil {
		return Box{}, noEOF(err)
	}
	return Box{Header: hdr, Type: typ, Data: data}, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Fragment is a batch of boxes ending with a moov or mdat box.
type Fragment struct {
	Boxes []Box
}

// Len returns the encoded size of the fragment.
func (f Fragment) Len() int {
	n := 0
	for _, b := range f.Boxes {
		n += b.Len()
	}
	return n
}

// Bytes concatenates the boxes in order.
func (f Fragment) Bytes() []byte {
	out := make([]byte, 0, f.Len())
	for _, b := range f.Boxes {
		out = append(out, b.Header...)
		out = append(out, b.Data...)
	}
	return out
}

// WriteTo writes the boxes to w.
func (f Fragment) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, b := range f.Boxes {
		for _, p := range [][]byte{b.Header, b.Data} {
			n, err := w.Write(p)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func closesFragment(typ string) bool {
	return typ == "moov" || typ == "mdat"
}

// Batcher groups boxes into fragments.
type Batcher struct {
	r       *Reader
	pending []Box
}

// NewBatcher returns a Batcher reading boxes from r.
func NewBatcher(r *Reader) *Batcher {
	return &Batcher{r: r}
}

// Next returns the next complete fragment. Boxes still pending when the
// stream ends are discarded.
func (b *Batcher) Next() (Fragment, error) {
	for {
		box, err := b.r.Next()
		if err != nil {
			b.pending = nil
			return Fragment{}, err
		}
		b.pending = append(b.pending, box)
		if closesFragment(box.Type) {
			f := Fragment{Boxes: b.pending}
			b.pending = nil
			return f, nil
		}
	}
}
