package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"media-conversion-bot/internal/artifact"
	"media-conversion-bot/internal/config"
	"media-conversion-bot/internal/convert"
	"media-conversion-bot/internal/models"
	"media-conversion-bot/internal/notify"
	"media-conversion-bot/internal/queue"
)

type statusChange struct {
	id        int64
	status    string
	lastError string
}

type refundCall struct {
	convID int64
	userID int64
	kind   string
	cost   int
	status string
}

type fakeLedger struct {
	mu        sync.Mutex
	statuses  []statusChange
	refunds   []refundCall
	refundErr error
}

func (l *fakeLedger) UpdateStatus(_ context.Context, id int64, status string, lastError *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := statusChange{id: id, status: status}
	if lastError != nil {
		sc.lastError = *lastError
	}
	l.statuses = append(l.statuses, sc)
	return nil
}

func (l *fakeLedger) Refund(_ context.Context, convID, userID int64, kind string, cost int, status string, _ *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundErr != nil {
		return l.refundErr
	}
	l.refunds = append(l.refunds, refundCall{convID: convID, userID: userID, kind: kind, cost: cost, status: status})
	return nil
}

func (l *fakeLedger) statusList() []statusChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]statusChange(nil), l.statuses...)
}

func (l *fakeLedger) refundList() []refundCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]refundCall(nil), l.refunds...)
}

type fakeEngine struct {
	produce func(ctx context.Context, req convert.Request, onProgress convert.ProgressFunc) (convert.Outcome, error)
}

func (e *fakeEngine) Produce(ctx context.Context, req convert.Request, onProgress convert.ProgressFunc) (convert.Outcome, error) {
	return e.produce(ctx, req, onProgress)
}

type recordingNotifier struct {
	mu          sync.Mutex
	sent        []string
	edits       []string
	deletes     int
	files       []string
	sendFileErr error
}

func (n *recordingNotifier) SendMessage(_ context.Context, _ int64, text string, _ ...notify.Choice) (notify.MessageHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return notify.MessageHandle{ChatID: 1, MessageID: int64(len(n.sent))}, nil
}

func (n *recordingNotifier) EditMessage(_ context.Context, _ notify.MessageHandle, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits = append(n.edits, text)
	return nil
}

func (n *recordingNotifier) DeleteMessage(_ context.Context, _ notify.MessageHandle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deletes++
	return nil
}

func (n *recordingNotifier) SendFile(_ context.Context, _ int64, r io.Reader, filename string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendFileErr != nil {
		return n.sendFileErr
	}
	n.files = append(n.files, filename)
	return nil
}

func (n *recordingNotifier) sentList() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func (n *recordingNotifier) editList() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.edits...)
}

func testRunner(t *testing.T, base string, ledger *fakeLedger, engine convert.Engine, notifier notify.Notifier) *Runner {
	t.Helper()
	work, err := artifact.NewWorkspace(base)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	cfg := config.Config{ProgressEditGap: 5 * time.Millisecond}
	return NewRunner(cfg, ledger, queue.NewGate(1), engine, notifier, work, nil)
}

func testTask() queue.Task {
	return queue.Task{
		Conversion: models.Conversion{
			ID: 11, UserID: 7, Title: "My Song", Kind: models.KindAudio,
			Quality: 128, Cost: 20, Status: models.StatusQueued,
		},
		Recipient: 7,
		StatusMsg: notify.MessageHandle{ChatID: 7, MessageID: 99},
	}
}

// writeArtifact is a fake producer that drops an mp3 into the work dir.
func writeArtifact(t *testing.T) func(ctx context.Context, req convert.Request, onProgress convert.ProgressFunc) (convert.Outcome, error) {
	return func(_ context.Context, req convert.Request, onProgress convert.ProgressFunc) (convert.Outcome, error) {
		path := filepath.Join(req.WorkDir, "out.mp3")
		if err := os.WriteFile(path, []byte("mp3 bytes"), 0o644); err != nil {
			t.Errorf("write artifact: %v", err)
		}
		if onProgress != nil {
			onProgress(50, "ETA 00:05")
		}
		return convert.Outcome{FilePath: path, DurationSeconds: 95}, nil
	}
}

func TestRunDeliversAndCleansUp(t *testing.T) {
	ledger := &fakeLedger{}
	notifier := &recordingNotifier{}
	base := t.TempDir()
	runner := testRunner(t, base, ledger, &fakeEngine{produce: writeArtifact(t)}, notifier)
	runner.Run(context.Background(), testTask())

	statuses := ledger.statusList()
	if len(statuses) != 2 || statuses[0].status != models.StatusRunning || statuses[1].status != models.StatusDelivered {
		t.Fatalf("expected running then delivered, got %+v", statuses)
	}
	if len(ledger.refundList()) != 0 {
		t.Fatalf("delivered job must not refund: %+v", ledger.refundList())
	}

	notifier.mu.Lock()
	files, deletes := notifier.files, notifier.deletes
	notifier.mu.Unlock()
	if len(files) != 1 || files[0] != "My Song.mp3" {
		t.Fatalf("expected artifact delivery, got %v", files)
	}
	if deletes != 1 {
		t.Fatalf("expected status message cleanup, got %d deletes", deletes)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read work base: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dir released, found %d entries", len(entries))
	}
}

func TestRunProductionFailureRefundsAndFails(t *testing.T) {
	ledger := &fakeLedger{}
	notifier := &recordingNotifier{}
	engine := &fakeEngine{produce: func(ctx context.Context, req convert.Request, _ convert.ProgressFunc) (convert.Outcome, error) {
		return convert.Outcome{}, errors.New("no stream found")
	}}
	runner := testRunner(t, t.TempDir(), ledger, engine, notifier)

	runner.Run(context.Background(), testTask())

	refunds := ledger.refundList()
	if len(refunds) != 1 {
		t.Fatalf("expected one refund, got %+v", refunds)
	}
	r := refunds[0]
	if r.status != models.StatusFailed || r.cost != 20 || r.userID != 7 || r.kind != models.KindAudio {
		t.Fatalf("unexpected refund %+v", r)
	}

	var sawRefundNotice bool
	for _, msg := range notifier.sentList() {
		if strings.Contains(msg, "refunded") {
			sawRefundNotice = true
		}
	}
	if !sawRefundNotice {
		t.Fatalf("owner was not told about the refund: %v", notifier.sentList())
	}
}

func TestRunDeliveryFailureRefunds(t *testing.T) {
	ledger := &fakeLedger{}
	notifier := &recordingNotifier{sendFileErr: errors.New("payload too large")}
	runner := testRunner(t, t.TempDir(), ledger, &fakeEngine{produce: writeArtifact(t)}, notifier)

	runner.Run(context.Background(), testTask())

	refunds := ledger.refundList()
	if len(refunds) != 1 || refunds[0].status != models.StatusRefunded {
		t.Fatalf("expected refunded status, got %+v", refunds)
	}
	var sawRefundNotice bool
	for _, msg := range notifier.sentList() {
		if strings.Contains(msg, "refunded") {
			sawRefundNotice = true
		}
	}
	if !sawRefundNotice {
		t.Fatalf("owner was not told about the refund: %v", notifier.sentList())
	}
}

func TestRunDoubleFaultFlagsForOperator(t *testing.T) {
	ledger := &fakeLedger{refundErr: errors.New("ledger unavailable")}
	notifier := &recordingNotifier{sendFileErr: errors.New("payload too large")}
	runner := testRunner(t, t.TempDir(), ledger, &fakeEngine{produce: writeArtifact(t)}, notifier)

	runner.Run(context.Background(), testTask())

	statuses := ledger.statusList()
	last := statuses[len(statuses)-1]
	if last.status != models.StatusFailed || !strings.Contains(last.lastError, "refund failed") {
		t.Fatalf("double fault not flagged: %+v", last)
	}
	var sawEscalation bool
	for _, msg := range notifier.sentList() {
		if strings.Contains(msg, "contact the admin") {
			sawEscalation = true
		}
	}
	if !sawEscalation {
		t.Fatalf("double fault not escalated to owner: %v", notifier.sentList())
	}
}

func TestReporterDeduplicatesEdits(t *testing.T) {
	ledger := &fakeLedger{}
	notifier := &recordingNotifier{}
	engine := &fakeEngine{produce: func(_ context.Context, req convert.Request, onProgress convert.ProgressFunc) (convert.Outcome, error) {
		path := filepath.Join(req.WorkDir, "out.mp3")
		_ = os.WriteFile(path, []byte("x"), 0o644)
		// Hold the same progress across many poll intervals.
		onProgress(50, "halfway")
		time.Sleep(60 * time.Millisecond)
		return convert.Outcome{FilePath: path}, nil
	}}
	runner := testRunner(t, t.TempDir(), ledger, engine, notifier)

	runner.Run(context.Background(), testTask())

	halfway := 0
	for _, text := range notifier.editList() {
		if strings.Contains(text, "50.0%") {
			halfway++
		}
	}
	if halfway != 1 {
		t.Fatalf("expected exactly one edit for unchanged progress, got %d", halfway)
	}
}

func TestPipelineHonorsGateAndOwnerOrder(t *testing.T) {
	ledger := &fakeLedger{}
	notifier := &recordingNotifier{}

	var current, max int64
	engine := &fakeEngine{produce: func(_ context.Context, req convert.Request, _ convert.ProgressFunc) (convert.Outcome, error) {
		c := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&max)
			if c <= m || atomic.CompareAndSwapInt64(&max, m, c) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		path := filepath.Join(req.WorkDir, "out.mp3")
		_ = os.WriteFile(path, []byte("x"), 0o644)
		return convert.Outcome{FilePath: path}, nil
	}}

	work, err := artifact.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	cfg := config.Config{ProgressEditGap: 5 * time.Millisecond}
	runner := NewRunner(cfg, ledger, queue.NewGate(2), engine, notifier, work, nil)
	reg := queue.NewRegistry(runner.Run)

	id := int64(0)
	for owner := int64(1); owner <= 3; owner++ {
		for j := 0; j < 2; j++ {
			id++
			reg.Enqueue(context.Background(), queue.Task{
				Conversion: models.Conversion{
					ID: id, UserID: owner, Title: fmt.Sprintf("t%d", id),
					Kind: models.KindAudio, Quality: 128, Cost: 20,
				},
				Recipient: owner,
			})
		}
	}
	reg.Wait()

	if m := atomic.LoadInt64(&max); m > 2 {
		t.Fatalf("gate capacity exceeded: %d concurrent productions", m)
	}

	delivered := 0
	perOwnerOrder := map[int64][]int64{}
	for _, sc := range ledger.statusList() {
		if sc.status == models.StatusDelivered {
			delivered++
		}
		if sc.status == models.StatusRunning {
			owner := (sc.id + 1) / 2 // ids 1,2 -> owner 1; 3,4 -> owner 2; 5,6 -> owner 3
			perOwnerOrder[owner] = append(perOwnerOrder[owner], sc.id)
		}
	}
	if delivered != 6 {
		t.Fatalf("expected 6 deliveries, got %d", delivered)
	}
	for owner, ids := range perOwnerOrder {
		if len(ids) != 2 || ids[0] >= ids[1] {
			t.Fatalf("owner %d ran out of order: %v", owner, ids)
		}
	}
}
