package convert

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// YtdlpEngine shells out to the local yt-dlp binary (which in turn drives
// ffmpeg for extraction and merging). Requests carry a free-text title; the
// engine resolves it with a single-result search.
type YtdlpEngine struct {
	binaryPath string
	timeout    time.Duration
}

// NewYtdlpEngine builds an engine. An empty binaryPath falls back to "yt-dlp"
// on PATH. A zero timeout means the call runs until it finishes or the
// caller's context is cancelled.
func NewYtdlpEngine(binaryPath string, timeout time.Duration) *YtdlpEngine {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtdlpEngine{binaryPath: binaryPath, timeout: timeout}
}

// downloadLine matches yt-dlp's --newline progress output, e.g.
// "[download]  42.7% of 10.00MiB at 1.20MiB/s ETA 00:05".
var downloadLine = regexp.MustCompile(`^\[download\]\s+([0-9.]+)%(?:.*?(ETA [0-9:]+))?`)

// Produce runs yt-dlp end to end and scans the work dir for the artifact.
func (e *YtdlpEngine) Produce(ctx context.Context, req Request, onProgress ProgressFunc) (Outcome, error) {
	if req.WorkDir == "" {
		return Outcome{}, fmt.Errorf("work dir is required")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"-o", filepath.Join(req.WorkDir, "%(title)s.%(ext)s"),
	}
	wantExt := ".mp4"
	if req.Kind == "audio" {
		wantExt = ".mp3"
		args = append(args,
			"-f", "bestaudio/best",
			"-x",
			"--audio-format", "mp3",
			"--audio-quality", fmt.Sprintf("%dK", req.Quality),
		)
	} else {
		args = append(args,
			"-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best", req.Quality),
			"--merge-output-format", "mp4",
		)
	}
	args = append(args, "ytsearch1:"+req.Title)

	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("start yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onProgress == nil {
			continue
		}
		if m := downloadLine.FindStringSubmatch(line); m != nil {
			pct, _ := strconv.ParseFloat(m[1], 64)
			phase := m[2]
			if phase == "" {
				phase = "downloading"
			}
			onProgress(pct, phase)
			continue
		}
		// Post-processing stages (ExtractAudio, Merger, ThumbnailsConvertor)
		// report no percentage; mirror the download hook's 90% convention.
		if strings.HasPrefix(line, "[ExtractAudio]") || strings.HasPrefix(line, "[Merger]") {
			onProgress(90, "post-processing")
		}
	}

	if err := cmd.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("yt-dlp: %w | %s", err, strings.TrimSpace(stderr.String()))
	}

	artifact, err := findByExt(req.WorkDir, wantExt)
	if err != nil {
		return Outcome{}, err
	}
	thumb, _ := findByExt(req.WorkDir, ".jpg")

	duration := e.probeDuration(ctx, artifact)
	return Outcome{FilePath: artifact, ThumbnailPath: thumb, DurationSeconds: duration}, nil
}

// probeDuration asks ffprobe for the artifact length. Failure is tolerated;
// duration is cosmetic in status text.
func (e *YtdlpEngine) probeDuration(ctx context.Context, path string) int {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return int(secs)
}

func findByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read work dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no %s artifact produced in %s", ext, dir)
}
