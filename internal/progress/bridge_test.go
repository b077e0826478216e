package progress

import "testing"

func TestBridgePublishAndSnapshot(t *testing.T) {
	b := NewBridge()
	b.Publish(42.5, "ETA 00:10")

	snap := b.Snapshot()
	if snap.Percent != 42.5 || snap.Phase != "ETA 00:10" || snap.Done {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBridgeClampsPercent(t *testing.T) {
	b := NewBridge()
	b.Publish(-5, "x")
	if b.Snapshot().Percent != 0 {
		t.Fatalf("expected clamp to 0, got %v", b.Snapshot().Percent)
	}
	b.Publish(150, "x")
	if b.Snapshot().Percent != 100 {
		t.Fatalf("expected clamp to 100, got %v", b.Snapshot().Percent)
	}
}

func TestBridgeFinish(t *testing.T) {
	b := NewBridge()
	select {
	case <-b.Done():
		t.Fatal("done closed before finish")
	default:
	}

	b.Finish(100, "finished")
	select {
	case <-b.Done():
	default:
		t.Fatal("done not closed after finish")
	}

	snap := b.Snapshot()
	if !snap.Done || snap.Percent != 100 || snap.Phase != "finished" {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}

	// Late callbacks from the engine must not revive a finished job.
	b.Publish(10, "late")
	if got := b.Snapshot(); got.Percent != 100 || got.Phase != "finished" {
		t.Fatalf("publish after finish mutated snapshot: %+v", got)
	}

	// A second finish must not panic on the closed channel.
	b.Finish(100, "finished")
}
