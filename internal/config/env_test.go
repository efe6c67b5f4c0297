// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"YES", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"garbage", true}, // falls back to default
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("CAMCORE_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, ParseBool("CAMCORE_TEST_BOOL", true))
		})
	}
}

func TestParseDurationInvalidFallsBack(t *testing.T) {
	t.Setenv("CAMCORE_TEST_DUR", "ten seconds")
	assert.Equal(t, 3*time.Second, ParseDuration("CAMCORE_TEST_DUR", 3*time.Second))

	t.Setenv("CAMCORE_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, ParseDuration("CAMCORE_TEST_DUR", 3*time.Second))
}

func TestParseIntAndString(t *testing.T) {
	t.Setenv("CAMCORE_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("CAMCORE_TEST_INT", 1))

	t.Setenv("CAMCORE_TEST_INT", "x")
	assert.Equal(t, 1, ParseInt("CAMCORE_TEST_INT", 1))

	assert.Equal(t, "fallback", ParseString("CAMCORE_TEST_UNSET", "fallback"))
	t.Setenv("CAMCORE_TEST_STR", "value")
	assert.Equal(t, "value", ParseString("CAMCORE_TEST_STR", "fallback"))
}
