package epoch

import "testing"

func TestAppendAndCheckSector(t *testing.T) {
	tl := NewTransferLog()

	tl.Append(100, 8, 1)
	if !tl.CheckSector(100, 8) {
		t.Fatal("expected overlap with in-flight request")
	}
	if tl.CheckSector(200, 8) {
		t.Fatal("expected no overlap with unrelated sector")
	}
}

func TestDependenceRemovesRequest(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(100, 8, 1)

	tl.Dependence(100, 1)
	if tl.CheckSector(100, 8) {
		t.Fatal("expected request removed after Dependence")
	}
	if tl.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0", tl.PendingCount())
	}
}

func TestNeedsBarrierAfterNonEmptyOpenEpoch(t *testing.T) {
	tl := NewTransferLog()
	if tl.NeedsBarrier() {
		t.Fatal("empty epoch should not need a barrier")
	}

	tl.Append(0, 8, 1)
	if !tl.NeedsBarrier() {
		t.Fatal("non-empty open epoch should need a barrier")
	}
}

func TestNeedsBarrierFalseWhilePreviousBarrierUnacked(t *testing.T) {
	tl := NewTransferLog()

	tl.Append(0, 8, 1)
	if !tl.NeedsBarrier() {
		t.Fatal("first non-empty epoch should need a barrier")
	}
	barrierNr := tl.OpenBarrier()
	tl.Append(100, 8, 2)

	// The barrier for the first epoch is still unacked: further writes
	// should coalesce into the new epoch rather than forcing it closed.
	if tl.NeedsBarrier() {
		t.Fatal("should not need a barrier while the previous one is unacked")
	}
	tl.Append(200, 8, 3)
	if tl.NeedsBarrier() {
		t.Fatal("writes should keep coalescing while the previous barrier is unacked")
	}

	if err := tl.Release(barrierNr, 1); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Now that the previous barrier is acked, the accumulated epoch (both
	// sector 100 and sector 200 requests) is eligible to close as one.
	if !tl.NeedsBarrier() {
		t.Fatal("expected a barrier to be needed once the previous one is acked")
	}
}

func TestOpenBarrierAssignsIncrementingNumbers(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(0, 8, 1)

	nr1 := tl.OpenBarrier()
	tl.Append(100, 8, 2)
	nr2 := tl.OpenBarrier()

	if nr2 <= nr1 {
		t.Fatalf("nr2 = %d should be greater than nr1 = %d", nr2, nr1)
	}
}

func TestReleaseOldestEpoch(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(0, 8, 1)
	barrierNr := tl.OpenBarrier()

	if err := tl.Release(barrierNr, 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !tl.CheckInvariant() {
		t.Fatal("invariant violated after Release")
	}
}

func TestReleaseWrongSetSizeIsFatal(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(0, 8, 1)
	barrierNr := tl.OpenBarrier()

	if err := tl.Release(barrierNr, 2); err != ErrEpochMismatch {
		t.Fatalf("err = %v, want ErrEpochMismatch", err)
	}
}

func TestReleaseNotOldest(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(0, 8, 1)
	tl.OpenBarrier()
	tl.Append(100, 8, 2)
	secondBarrier := tl.OpenBarrier()

	if err := tl.Release(secondBarrier, 1); err != ErrNotOldestEpoch {
		t.Fatalf("err = %v, want ErrNotOldestEpoch", err)
	}
}

func TestClearDropsAllRequests(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(0, 8, 1)
	tl.OpenBarrier()
	tl.Append(100, 8, 2)

	tl.Clear()
	if tl.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d, want 0 after Clear", tl.PendingCount())
	}
	if !tl.CheckInvariant() {
		t.Fatal("invariant violated after Clear")
	}
}

func TestDependenceUnlinksClosedEmptyEpoch(t *testing.T) {
	tl := NewTransferLog()
	tl.Append(0, 8, 1)
	tl.OpenBarrier()
	tl.Append(100, 8, 2)
	tl.OpenBarrier()
	tl.Append(200, 8, 3)

	// The middle epoch (sector 100) is closed but not yet released. Once
	// its one request completes, it should unlink itself rather than wait
	// for Release, since it is not the oldest.
	tl.Dependence(100, 2)

	if !tl.CheckInvariant() {
		t.Fatal("invariant violated after unlinking a closed middle epoch")
	}
	if tl.PendingCount() != 2 {
		t.Fatalf("PendingCount() = %d, want 2 (sector 0 and sector 200 remain)", tl.PendingCount())
	}
	if !tl.CheckSector(0, 8) || !tl.CheckSector(200, 8) {
		t.Fatal("expected remaining requests still tracked")
	}
}
