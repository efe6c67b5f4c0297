// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingKeepsNewestInOrder(t *testing.T) {
	r := NewLineRing(5)
	for i := 1; i <= 7; i++ {
		_, _ = fmt.Fprintf(r, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5", "line 6", "line 7"}, r.Lines())
	assert.Equal(t, []string{"line 6", "line 7"}, r.LastN(2))
}

func TestLineRingPartialWrites(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("Connection ref"))
	assert.Empty(t, r.Lines())

	_, _ = r.Write([]byte("used\nnext"))
	assert.Equal(t, []string{"Connection refused"}, r.Lines())

	r.Flush()
	assert.Equal(t, []string{"Connection refused", "next"}, r.Lines())
}

func TestLineRingFlattensCarriageReturnsAndSkipsBlank(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("frame=1\rframe=2\r\n\n   \n"))
	assert.Equal(t, []string{"frame=1 frame=2"}, r.Lines())
}

func TestLineRingOnLine(t *testing.T) {
	r := NewLineRing(2)
	var seen []string
	r.OnLine = func(s string) { seen = append(seen, s) }
	_, _ = r.Write([]byte("a\nb\nc\n"))
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, []string{"b", "c"}, r.Lines())
}

func TestLineRingDefaultCapacity(t *testing.T) {
	r := NewLineRing(0)
	for i := 0; i < 10; i++ {
		_, _ = fmt.Fprintf(r, "%d\n", i)
	}
	assert.Len(t, r.Lines(), DiagnosticLines)
	assert.Nil(t, NewLineRing(3).LastN(2))
}
