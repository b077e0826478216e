package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Workspace hands out per-job scratch directories under one base dir and
// tears them down when the job is finished, whatever the outcome.
type Workspace struct {
	baseDir string
}

func NewWorkspace(baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work base dir: %w", err)
	}
	return &Workspace{baseDir: baseDir}, nil
}

// Allocate creates a fresh scratch directory for one conversion.
func (w *Workspace) Allocate() (string, error) {
	dir := filepath.Join(w.baseDir, "conv-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// Release removes a scratch directory and everything in it.
func (w *Workspace) Release(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// Preview renders a delivery-sized copy of the captured cover art next to the
// source image and returns its path.
func Preview(srcPath string, width int) (string, error) {
	if width <= 0 {
		width = 320
	}
	img, err := imaging.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open thumbnail: %w", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	out := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + "_preview.jpg"
	if err := imaging.Save(img, out, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save preview: %w", err)
	}
	return out, nil
}
