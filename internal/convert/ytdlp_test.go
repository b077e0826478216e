package convert

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadLineParsing(t *testing.T) {
	cases := []struct {
		line    string
		percent string
		phase   string
	}{
		{"[download]  42.7% of 10.00MiB at 1.20MiB/s ETA 00:05", "42.7", "ETA 00:05"},
		{"[download] 100% of 10.00MiB in 00:08", "100", ""},
		{"[download]   0.0% of ~3.50MiB at Unknown B/s ETA Unknown", "0.0", ""},
	}
	for _, tc := range cases {
		m := downloadLine.FindStringSubmatch(tc.line)
		if m == nil {
			t.Fatalf("line not matched: %q", tc.line)
		}
		if m[1] != tc.percent {
			t.Errorf("line %q: percent %q, want %q", tc.line, m[1], tc.percent)
		}
		if m[2] != tc.phase {
			t.Errorf("line %q: phase %q, want %q", tc.line, m[2], tc.phase)
		}
	}

	for _, line := range []string{
		"[ExtractAudio] Destination: song.mp3",
		"Deleting original file song.webm",
	} {
		if downloadLine.MatchString(line) {
			t.Errorf("non-progress line matched: %q", line)
		}
	}
}

func TestFindByExt(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cover.jpg", "Song Title.MP3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	got, err := findByExt(dir, ".mp3")
	if err != nil {
		t.Fatalf("findByExt: %v", err)
	}
	if filepath.Base(got) != "Song Title.MP3" {
		t.Fatalf("wrong artifact: %s", got)
	}

	if _, err := findByExt(dir, ".mp4"); err == nil || !strings.Contains(err.Error(), "no .mp4 artifact") {
		t.Fatalf("expected a missing-artifact error, got %v", err)
	}
}
