package export

import "testing"

func TestMarkAllocatorGrowsAndShrinks(t *testing.T) {
	a := newMarkAllocator()
	if m := a.allocateCommit(); m != 1 {
		t.Fatalf("first commit mark = %d, want 1", m)
	}
	if m := a.allocateCommit(); m != 2 {
		t.Fatalf("second commit mark = %d, want 2", m)
	}
	if m := a.allocateBlob(); m != MaxMark {
		t.Fatalf("first blob mark = %d, want %d", m, MaxMark)
	}
	if m := a.allocateBlob(); m != MaxMark-1 {
		t.Fatalf("second blob mark = %d, want %d", m, MaxMark-1)
	}
}

func TestMarkAllocatorResumeFrom(t *testing.T) {
	a := newMarkAllocator()
	a.resumeFrom(500)
	if m := a.allocateCommit(); m != 501 {
		t.Fatalf("mark after resume = %d, want 501", m)
	}
	// resuming backward never regresses the counter
	a.resumeFrom(10)
	if m := a.allocateCommit(); m != 502 {
		t.Fatalf("mark after backward resume = %d, want 502", m)
	}
}

func TestMarkAllocatorExhaustionPanics(t *testing.T) {
	a := &markAllocator{lastCommitMark: MaxMark - 1, nextFileMark: MaxMark}
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on mark space exhaustion")
		}
		e, ok := r.(*exception)
		if !ok || e.class != classMarkSpaceExhausted {
			t.Fatalf("expected classMarkSpaceExhausted, got %v", r)
		}
	}()
	a.allocateCommit()
}

func TestReleaseBlobsResetsCounter(t *testing.T) {
	a := newMarkAllocator()
	a.allocateBlob()
	a.allocateBlob()
	a.releaseBlobs()
	if a.nextFileMark != MaxMark {
		t.Fatalf("nextFileMark after release = %d, want %d", a.nextFileMark, MaxMark)
	}
}
