package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"media-conversion-bot/internal/artifact"
	"media-conversion-bot/internal/config"
	"media-conversion-bot/internal/convert"
	"media-conversion-bot/internal/models"
	"media-conversion-bot/internal/notify"
	"media-conversion-bot/internal/progress"
	"media-conversion-bot/internal/queue"
	"media-conversion-bot/internal/telemetry"
)

// Ledger is the slice of the store the runner needs to settle outcomes.
type Ledger interface {
	UpdateStatus(ctx context.Context, id int64, status string, lastError *string) error
	Refund(ctx context.Context, convID, userID int64, kind string, cost int, status string, lastError *string) error
}

// Archiver keeps a copy of delivered artifacts; nil disables archival.
type Archiver interface {
	Archive(ctx context.Context, key, path string) error
}

// Runner executes one admitted conversion at a time: gate slot, engine call,
// progress reporting, delivery, and the refund protocol on failure.
type Runner struct {
	cfg      config.Config
	ledger   Ledger
	gate     *queue.Gate
	engine   convert.Engine
	notifier notify.Notifier
	work     *artifact.Workspace
	archive  Archiver
}

func NewRunner(cfg config.Config, ledger Ledger, gate *queue.Gate, engine convert.Engine, notifier notify.Notifier, work *artifact.Workspace, archive Archiver) *Runner {
	return &Runner{
		cfg:      cfg,
		ledger:   ledger,
		gate:     gate,
		engine:   engine,
		notifier: notifier,
		work:     work,
		archive:  archive,
	}
}

// Run drives one task to a terminal state. It is called from the owner's
// queue worker, so at most one Run per owner is in flight at any time.
func (r *Runner) Run(ctx context.Context, t queue.Task) {
	conv := t.Conversion

	// A slot is held before the job is marked running, so the number of
	// running conversions never exceeds the gate capacity.
	if err := r.gate.Acquire(ctx); err != nil {
		log.Printf("worker: conversion %d abandoned before start: %v", conv.ID, err)
		return
	}
	defer r.gate.Release()

	telemetry.RunningGauge.Inc()
	defer telemetry.RunningGauge.Dec()

	if err := r.ledger.UpdateStatus(ctx, conv.ID, models.StatusRunning, nil); err != nil {
		log.Printf("worker: mark running %d: %v", conv.ID, err)
	}

	defer r.cleanupStatusMessage(ctx, t)

	dir, err := r.work.Allocate()
	if err != nil {
		r.settleProductionFailure(ctx, t, fmt.Errorf("allocate work dir: %w", err))
		return
	}
	defer func() {
		if err := r.work.Release(dir); err != nil {
			log.Printf("worker: release work dir %s: %v", dir, err)
		}
	}()

	bridge := progress.NewBridge()
	reporterDone := make(chan struct{})
	go r.report(ctx, t, bridge, reporterDone)

	outcome, prodErr := r.engine.Produce(ctx, convert.Request{
		Title:   conv.Title,
		Kind:    conv.Kind,
		Quality: conv.Quality,
		WorkDir: dir,
	}, bridge.Publish)

	if prodErr != nil {
		bridge.Finish(0, "error")
		<-reporterDone
		r.settleProductionFailure(ctx, t, prodErr)
		return
	}

	bridge.Finish(100, "finished")
	<-reporterDone

	if outcome.DurationSeconds > 0 {
		text := renderFinished(conv.Title, outcome.DurationSeconds)
		_ = r.notifier.EditMessage(ctx, t.StatusMsg, text)
	}

	if err := r.deliver(ctx, t, outcome); err != nil {
		r.settleDeliveryFailure(ctx, t, err)
		return
	}

	if err := r.ledger.UpdateStatus(ctx, conv.ID, models.StatusDelivered, nil); err != nil {
		log.Printf("worker: mark delivered %d: %v", conv.ID, err)
	}
	telemetry.Delivered.Inc()

	if r.archive != nil {
		key := fmt.Sprintf("conversions/%d/%s", conv.ID, filepath.Base(outcome.FilePath))
		if err := r.archive.Archive(ctx, key, outcome.FilePath); err != nil {
			log.Printf("worker: archive %d: %v", conv.ID, err)
		}
	}
}

// deliver hands the artifact (and, best-effort, a cover preview) to the owner.
func (r *Runner) deliver(ctx context.Context, t queue.Task, outcome convert.Outcome) error {
	if r.cfg.MaxSendBytes > 0 {
		if info, err := os.Stat(outcome.FilePath); err == nil && info.Size() > r.cfg.MaxSendBytes {
			return fmt.Errorf("artifact is %d bytes, over the %d byte send limit", info.Size(), r.cfg.MaxSendBytes)
		}
	}

	if outcome.ThumbnailPath != "" {
		if preview, err := artifact.Preview(outcome.ThumbnailPath, r.cfg.PreviewWidth); err == nil {
			if f, err := os.Open(preview); err == nil {
				_ = r.notifier.SendFile(ctx, t.Recipient, f, t.Conversion.Title+".jpg")
				f.Close()
			}
		}
	}

	f, err := os.Open(outcome.FilePath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	name := t.Conversion.Title + filepath.Ext(outcome.FilePath)
	if err := r.notifier.SendFile(ctx, t.Recipient, f, name); err != nil {
		return fmt.Errorf("send artifact: %w", err)
	}
	return nil
}

// settleProductionFailure applies the refund protocol after the engine could
// not produce an artifact. The conversion ends FAILED; the refunded flag
// records whether the compensation actually went through.
func (r *Runner) settleProductionFailure(ctx context.Context, t queue.Task, prodErr error) {
	conv := t.Conversion
	errText := prodErr.Error()

	if err := r.ledger.Refund(ctx, conv.ID, conv.UserID, conv.Kind, conv.Cost, models.StatusFailed, &errText); err != nil {
		r.settleDoubleFault(ctx, t, err)
		return
	}
	telemetry.Failed.Inc()
	r.say(ctx, t.Recipient, fmt.Sprintf(
		"Conversion of %q failed: %s\nYour %d coins have been refunded.",
		conv.Title, errText, conv.Cost))
}

// settleDeliveryFailure applies the refund protocol after the artifact was
// produced but could not be handed off.
func (r *Runner) settleDeliveryFailure(ctx context.Context, t queue.Task, delErr error) {
	conv := t.Conversion
	errText := delErr.Error()

	if err := r.ledger.Refund(ctx, conv.ID, conv.UserID, conv.Kind, conv.Cost, models.StatusRefunded, &errText); err != nil {
		r.settleDoubleFault(ctx, t, err)
		return
	}
	telemetry.Refunded.Inc()
	r.say(ctx, t.Recipient, fmt.Sprintf(
		"Could not send the file (likely too large). Your %d coins have been refunded. Try a lower quality.",
		conv.Cost))
}

// settleDoubleFault is the one path that must not pretend things are fine:
// money was taken and neither an artifact nor a refund reached the owner.
// The conversion is left flagged un-refunded for operator attention.
func (r *Runner) settleDoubleFault(ctx context.Context, t queue.Task, refundErr error) {
	conv := t.Conversion
	errText := fmt.Sprintf("refund failed: %v", refundErr)
	if err := r.ledger.UpdateStatus(ctx, conv.ID, models.StatusFailed, &errText); err != nil {
		log.Printf("worker: flag double fault %d: %v", conv.ID, err)
	}
	telemetry.DoubleFaults.Inc()
	log.Printf("worker: conversion %d needs operator attention: %s", conv.ID, errText)
	r.say(ctx, t.Recipient, "The conversion failed and the refund could not be completed. Please contact the admin.")
}

// cleanupStatusMessage clears the transient status message. Best-effort; the
// transport losing a delete never changes a conversion's outcome.
func (r *Runner) cleanupStatusMessage(ctx context.Context, t queue.Task) {
	if t.StatusMsg.Zero() {
		return
	}
	if err := r.notifier.DeleteMessage(ctx, t.StatusMsg); err != nil {
		log.Printf("worker: delete status message for %d: %v", t.Conversion.ID, err)
	}
}

func (r *Runner) say(ctx context.Context, recipient int64, text string) {
	if _, err := r.notifier.SendMessage(ctx, recipient, text); err != nil {
		log.Printf("worker: notify %d: %v", recipient, err)
	}
}
