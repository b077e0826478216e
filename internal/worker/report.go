package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"media-conversion-bot/internal/progress"
	"media-conversion-bot/internal/queue"
)

// report polls the bridge and edits the status message whenever the rendered
// text changed. The transport is rate-limited, so identical text is never
// re-sent. The loop does one final push when the bridge reports completion.
func (r *Runner) report(ctx context.Context, t queue.Task, bridge *progress.Bridge, done chan<- struct{}) {
	defer close(done)
	if t.StatusMsg.Zero() {
		<-bridge.Done()
		return
	}

	interval := r.cfg.ProgressEditGap
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	push := func(snap progress.Snapshot) {
		text := renderStatus(t.Conversion.Title, snap)
		if text == last {
			return
		}
		if err := r.notifier.EditMessage(ctx, t.StatusMsg, text); err == nil {
			last = text
		}
	}

	push(bridge.Snapshot())
	for {
		select {
		case <-bridge.Done():
			push(bridge.Snapshot())
			return
		case <-ticker.C:
			push(bridge.Snapshot())
		case <-ctx.Done():
			return
		}
	}
}

// progressBar renders five segments, one per 20%.
func progressBar(percent float64) string {
	filled := int(percent) / 20
	if filled > 5 {
		filled = 5
	}
	segments := make([]string, 5)
	for i := range segments {
		if i < filled {
			segments[i] = "■"
		} else {
			segments[i] = "□"
		}
	}
	return strings.Join(segments, " ")
}

func renderStatus(title string, snap progress.Snapshot) string {
	phase := snap.Phase
	if phase == "" {
		phase = "starting"
	}
	return fmt.Sprintf("Media Converter\nTitle: %s\nStatus: %s\n(%.1f%%, %s)",
		title, progressBar(snap.Percent), snap.Percent, phase)
}

func renderFinished(title string, durationSeconds int) string {
	m, s := durationSeconds/60, durationSeconds%60
	return fmt.Sprintf("Media Converter\nTitle: %s\nDuration: %d:%02d\nStatus: %s\n(finished)",
		title, m, s, progressBar(100))
}
