// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package exif embeds descriptive Windows XP tags (title, comment, author)
// into JPEG files.
package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// IFD0 tag ids of the Windows XP text fields.
const (
	TagXPTitle   uint16 = 0x9C9B
	TagXPComment uint16 = 0x9C9C
	TagXPAuthor  uint16 = 0x9C9D
)

const (
	markerSOI  = 0xD8
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
	markerSOS  = 0xDA
	typeByte   = 1
)

var (
	// ErrNotJPEG is returned for input without a JPEG start-of-image marker.
	ErrNotJPEG = errors.New("not a JPEG image")

	exifHeader = []byte("Exif\x00\x00")
	utf16le    = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Fields are the text values written to IFD0.
type Fields struct {
	Title   string
	Comment string
	Author  string
}

// Encode returns jpeg with an Exif APP1 segment carrying f. Any existing Exif
// segment is replaced; other segments are kept in order.
func Encode(jpeg []byte, f Fields) ([]byte, error) {
	if len(jpeg) < 4 || jpeg[0] != 0xFF || jpeg[1] != markerSOI {
		return nil, ErrNotJPEG
	}
	app1, err := buildAPP1(f)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(jpeg) + len(app1))
	out.Write(jpeg[:2])

	inserted := false
	pos := 2
	for pos < len(jpeg) {
		if jpeg[pos] != 0xFF || pos+1 >= len(jpeg) {
			return nil, fmt.Errorf("malformed segment at offset %d", pos)
		}
		marker := jpeg[pos+1]
		if marker == 0xFF {
			pos++ // fill byte
			continue
		}
		if marker == markerSOS || !hasLength(marker) {
			break
		}
		if pos+4 > len(jpeg) {
			return nil, fmt.Errorf("truncated segment at offset %d", pos)
		}
		end := pos + 2 + int(binary.BigEndian.Uint16(jpeg[pos+2:]))
		if end > len(jpeg) {
			return nil, fmt.Errorf("segment at offset %d overruns image", pos)
		}
		seg := jpeg[pos:end]
		pos = end

		if marker == markerAPP1 && bytes.HasPrefix(seg[4:], exifHeader) {
			continue
		}
		if !inserted && marker != markerAPP0 {
			out.Write(app1)
			inserted = true
		}
		out.Write(seg)
	}
	if !inserted {
		out.Write(app1)
	}
	out.Write(jpeg[pos:])
	return out.Bytes(), nil
}

func hasLength(marker byte) bool {
	switch {
	case marker >= 0xD0 && marker <= 0xD7, marker == 0x01, marker == markerSOI, marker == 0xD9:
		return false
	}
	return true
}

// buildAPP1 renders a little-endian TIFF structure with one IFD holding the
// three XP tags as BYTE arrays of NUL-terminated UTF-16LE text.
func buildAPP1(f Fields) ([]byte, error) {
	type entry struct {
		tag   uint16
		value []byte
	}
	entries := make([]entry, 0, 3)
	for _, e := range []struct {
		tag  uint16
		text string
	}{
		{TagXPTitle, f.Title},
		{TagXPComment, f.Comment},
		{TagXPAuthor, f.Author},
	} {
		v, err := ucs2(e.text)
		if err != nil {
			return nil, fmt.Errorf("encode tag %#x: %w", e.tag, err)
		}
		entries = append(entries, entry{e.tag, v})
	}

	le := binary.LittleEndian
	const ifdOffset = 8
	ifdSize := 2 + 12*len(entries) + 4
	dataOffset := ifdOffset + ifdSize

	var tiff bytes.Buffer
	tiff.Write([]byte{'I', 'I'})
	tiff.Write(le.AppendUint16(nil, 42))
	tiff.Write(le.AppendUint32(nil, ifdOffset))
	tiff.Write(le.AppendUint16(nil, uint16(len(entries))))

	var data bytes.Buffer
	for _, e := range entries {
		tiff.Write(le.AppendUint16(nil, e.tag))
		tiff.Write(le.AppendUint16(nil, typeByte))
		tiff.Write(le.AppendUint32(nil, uint32(len(e.value))))
		if len(e.value) <= 4 {
			var inline [4]byte
			copy(inline[:], e.value)
			tiff.Write(inline[:])
			continue
		}
		tiff.Write(le.AppendUint32(nil, uint32(dataOffset+data.Len())))
		data.Write(e.value)
		if data.Len()%2 == 1 {
			data.WriteByte(0) // word alignment
		}
	}
	tiff.Write(le.AppendUint32(nil, 0)) // no IFD1
	tiff.Write(data.Bytes())

	payload := len(exifHeader) + tiff.Len()
	if payload+2 > 0xFFFF {
		return nil, errors.New("exif payload exceeds segment size")
	}
	seg := make([]byte, 0, payload+4)
	seg = append(seg, 0xFF, markerAPP1)
	seg = binary.BigEndian.AppendUint16(seg, uint16(payload+2))
	seg = append(seg, exifHeader...)
	return append(seg, tiff.Bytes()...), nil
}

func ucs2(s string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(b, 0, 0), nil
}

// DecodeXP reads the XP tags back from an Exif-bearing JPEG. Missing tags
// yield empty strings.
func DecodeXP(jpeg []byte) (Fields, error) {
	tiff, err := findTIFF(jpeg)
	if err != nil {
		return Fields{}, err
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return Fields{}, errors.New("invalid TIFF byte order")
	}
	ifd := int(order.Uint32(tiff[4:]))
	if ifd+2 > len(tiff) {
		return Fields{}, errors.New("IFD0 out of range")
	}
	n := int(order.Uint16(tiff[ifd:]))
	var f Fields
	for i := 0; i < n; i++ {
		off := ifd + 2 + 12*i
		if off+12 > len(tiff) {
			return Fields{}, errors.New("IFD entry out of range")
		}
		tag := order.Uint16(tiff[off:])
		count := int(order.Uint32(tiff[off+4:]))
		var raw []byte
		if count <= 4 {
			raw = tiff[off+8 : off+8+count]
		} else {
			start := int(order.Uint32(tiff[off+8:]))
			if start+count > len(tiff) {
				return Fields{}, errors.New("tag value out of range")
			}
			raw = tiff[start : start+count]
		}
		text, err := utf16le.NewDecoder().Bytes(raw)
		if err != nil {
			return Fields{}, err
		}
		value := string(bytes.TrimRight(text, "\x00"))
		switch tag {
		case TagXPTitle:
			f.Title = value
		case TagXPComment:
			f.Comment = value
		case TagXPAuthor:
			f.Author = value
		}
	}
	return f, nil
}

func findTIFF(jpeg []byte) ([]byte, error) {
	if len(jpeg) < 4 || jpeg[0] != 0xFF || jpeg[1] != markerSOI {
		return nil, ErrNotJPEG
	}
	pos := 2
	for pos+4 <= len(jpeg) && jpeg[pos] == 0xFF {
		marker := jpeg[pos+1]
		if marker == markerSOS || !hasLength(marker) {
			break
		}
		end := pos + 2 + int(binary.BigEndian.Uint16(jpeg[pos+2:]))
		if end > len(jpeg) {
			break
		}
		if marker == markerAPP1 && bytes.HasPrefix(jpeg[pos+4:end], exifHeader) {
			tiff := jpeg[pos+4+len(exifHeader) : end]
			if len(tiff) < 8 {
				return nil, errors.New("short TIFF header")
			}
			return tiff, nil
		}
		pos = end
	}
	return nil, errors.New("no Exif segment")
}
