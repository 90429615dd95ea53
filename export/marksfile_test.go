package export

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "marks")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLastValidMarkMissingFile(t *testing.T) {
	mark, err := lastValidMark(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mark != 0 {
		t.Fatalf("mark = %d, want 0", mark)
	}
}

func TestLastValidMarkContiguous(t *testing.T) {
	path := writeTempFile(t, ":1 aaaa\n:2 bbbb\n:3 cccc\n")
	mark, err := lastValidMark(path)
	if err != nil {
		t.Fatal(err)
	}
	if mark != 3 {
		t.Fatalf("mark = %d, want 3", mark)
	}
}

func TestLastValidMarkStopsAtGap(t *testing.T) {
	path := writeTempFile(t, ":1 aaaa\n:2 bbbb\n:5 cccc\n")
	mark, err := lastValidMark(path)
	if err != nil {
		t.Fatal(err)
	}
	if mark != 2 {
		t.Fatalf("mark = %d, want 2", mark)
	}
}

func TestLastValidMarkMalformedIsCorrupt(t *testing.T) {
	path := writeTempFile(t, ":1 aaaa\nnot a mark line\n")
	_, err := lastValidMark(path)
	if err == nil {
		t.Fatal("expected corruption error")
	}
	e, ok := err.(*exception)
	if !ok || e.class != classMarksFileCorrupt {
		t.Fatalf("expected classMarksFileCorrupt, got %v", err)
	}
}

func TestLastValidMarkDuplicateIsCorrupt(t *testing.T) {
	path := writeTempFile(t, ":1 aaaa\n:1 bbbb\n")
	_, err := lastValidMark(path)
	if err == nil {
		t.Fatal("expected corruption error")
	}
}

func TestMarksFileName(t *testing.T) {
	if got, want := marksFileName("trunk/sub"), "marks-trunk_sub"; got != want {
		t.Fatalf("marksFileName = %q, want %q", got, want)
	}
}
