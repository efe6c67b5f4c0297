// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("CAMCORE_DATA_DIR", t.TempDir())

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "valid", body: "logLevel: debug\nsnapshot:\n  ttl: 5s\n", wantCode: 0},
		{name: "unknown field", body: "bogus: 1\n", wantCode: 1, wantErr: "Configuration error"},
		{name: "bad backend", body: "snapshot:\n  backend: disk\n", wantCode: 1, wantErr: "snapshot.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := runConfig([]string{"validate", "-f", writeConfig(t, tt.body)}, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr.String())
			}
			if tt.wantErr != "" && !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantErr)
			}
			if tt.wantCode == 0 && !strings.Contains(stdout.String(), "is valid") {
				t.Errorf("stdout = %q", stdout.String())
			}
		})
	}
}

func TestConfigValidateRequiresFile(t *testing.T) {
	t.Setenv("CAMCORE_DATA_DIR", t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := runConfig([]string{"validate"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	t.Setenv("CAMCORE_DATA_DIR", t.TempDir())
	path := writeConfig(t, "snapshot:\n  backend: redis\n  redis:\n    addr: redis:6379\n    password: hunter2\n")

	var stdout, stderr bytes.Buffer
	if code := runConfig([]string{"dump", "-f", path, "--format=json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d (stderr: %s)", code, stderr.String())
	}
	if strings.Contains(stdout.String(), "hunter2") {
		t.Fatalf("dump leaked the redis password: %s", stdout.String())
	}

	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("dump is not JSON: %v", err)
	}
	snap := got["Snapshot"].(map[string]any)
	redis := snap["Redis"].(map[string]any)
	if redis["Password"] != redacted {
		t.Errorf("password = %v, want %q", redis["Password"], redacted)
	}
}

func TestConfigDumpYAML(t *testing.T) {
	t.Setenv("CAMCORE_DATA_DIR", t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := runConfig([]string{"dump"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "ttl: 10s") {
		t.Errorf("yaml dump = %s", stdout.String())
	}
}

func TestConfigUnknownSubcommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runConfig([]string{"frobnicate"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
