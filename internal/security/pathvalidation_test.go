package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain id", "session-42", "session-42"},
		{"mixed case with dots", "MySession_01.final", "MySession_01.final"},
		{"uuid", "3f1c9a2e-8b4d-4e6f-9a0b-1c2d3e4f5a6b", "3f1c9a2e-8b4d-4e6f-9a0b-1c2d3e4f5a6b"},
		{"spaces collapse", "reading session 3", "reading_session_3"},
		{"run of junk collapses once", "a  !!b", "a_b"},
		{"path traversal stripped", "../../etc/passwd", "etc_passwd"},
		{"non-ascii replaced", "über session!", "ber_session"},
		{"empty", "", "unknown"},
		{"only separators", "///", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := SanitizeFilename(long)
	if len(got) != 128 {
		t.Errorf("len = %d, want 128", len(got))
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()

	t.Run("new file inside", func(t *testing.T) {
		path := filepath.Join(dir, "session_abc_1700000000.json")
		if err := ValidatePathWithinDirectory(path, dir); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("existing file inside", func(t *testing.T) {
		path := filepath.Join(dir, "existing.json")
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := ValidatePathWithinDirectory(path, dir); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("nested file inside", func(t *testing.T) {
		path := filepath.Join(dir, "sub", "deeper", "doc.json")
		if err := ValidatePathWithinDirectory(path, dir); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("dotdot escape rejected", func(t *testing.T) {
		path := filepath.Join(dir, "..", "evil.json")
		if err := ValidatePathWithinDirectory(path, dir); err == nil {
			t.Error("expected traversal to be rejected")
		}
	})

	t.Run("absolute path elsewhere rejected", func(t *testing.T) {
		if err := ValidatePathWithinDirectory("/etc/passwd", dir); err == nil {
			t.Error("expected outside path to be rejected")
		}
	})

	t.Run("missing directory rejected", func(t *testing.T) {
		path := filepath.Join(dir, "doc.json")
		if err := ValidatePathWithinDirectory(path, filepath.Join(dir, "nope")); err == nil {
			t.Error("expected error for nonexistent directory")
		}
	})
}

func TestValidatePathSymlinkedParent(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(dir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// The path looks like it lives under dir, but the symlink redirects the
	// write outside it.
	path := filepath.Join(link, "doc.json")
	if err := ValidatePathWithinDirectory(path, dir); err == nil {
		t.Error("expected symlinked escape to be rejected")
	}
}
