package export

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// newTestChannel builds a fastImportChannel already "running" against
// an in-memory buffer, so Transaction/Repository tests can inspect the
// exact bytes that would have gone to a real fast-import child without
// spawning one.
func newTestChannel() (*fastImportChannel, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	ch := &fastImportChannel{
		vcsBinary: "git",
		repoLabel: "test",
		stdin:     nopCloser{buf},
		started:   true,
		running:   true,
	}
	return ch, buf
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func newTestRepository(t *testing.T) (*Repository, *bytes.Buffer) {
	t.Helper()
	ch, buf := newTestChannel()
	r := &Repository{
		name:            "test",
		workDir:         t.TempDir(),
		cfg:             Config{DefaultBranch: "refs/heads/master"},
		marks:           newMarkAllocator(),
		branches:        map[string]*branch{"refs/heads/master": {created: 1}},
		pendingFrom:     make(map[string]int),
		deletedBranches: make(map[string]branchOp),
		resetBranches:   make(map[string]branchOp),
		channel:         ch,
	}
	return r, buf
}

func TestTransactionCommitProducesExpectedBlock(t *testing.T) {
	r, buf := newTestRepository(t)
	txn, err := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	if err != nil {
		t.Fatal(err)
	}
	txn.SetAuthor("jrandom")
	txn.SetDateTime(time.Unix(1000000, 0).UTC())
	txn.SetLog("initial import")
	txn.AddFile("README", 100644, []byte("hello"))
	mark := txn.Commit()

	if mark != 1 {
		t.Fatalf("first commit mark = %d, want 1", mark)
	}
	out := buf.String()
	for _, want := range []string{
		"commit refs/heads/master\n",
		"mark :1\n",
		"committer jrandom <jrandom@svn> 1000000 +0000\n",
		"data 14\ninitial import\n",
		"M 100644 :" ,
		"progress SVN r1 branch refs/heads/master = :1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("commit block missing %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "from :") {
		t.Error("root commit should not have a from line")
	}
}

func TestTransactionSecondCommitHasFromLine(t *testing.T) {
	r, buf := newTestRepository(t)
	first, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	first.SetAuthor("a")
	first.SetDateTime(time.Unix(1, 0))
	first.SetLog("one")
	first.Commit()

	second, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 2)
	second.SetAuthor("a")
	second.SetDateTime(time.Unix(2, 0))
	second.SetLog("two")
	second.Commit()

	if !strings.Contains(buf.String(), "from :1\n") {
		t.Errorf("second commit should reference parent mark 1, got:\n%s", buf.String())
	}
}

func TestTransactionAddMetadataTrailer(t *testing.T) {
	r, buf := newTestRepository(t)
	r.cfg.AddMetadata = true
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 7)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("msg")
	txn.Commit()

	if !strings.Contains(buf.String(), "svn path=trunk; revision=7\n") {
		t.Errorf("expected metadata trailer, got:\n%s", buf.String())
	}
}

func TestTransactionMergeCapTruncates(t *testing.T) {
	r, buf := newTestRepository(t)
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("many merges")

	for i := 0; i < 20; i++ {
		ref := "refs/heads/b" + string(rune('a'+i))
		r.branches[ref] = &branch{created: 1}
		r.branches[ref].append(1, 1000+i)
		txn.NoteCopyFromBranch(ref, 1)
	}
	txn.Commit()

	if got := strings.Count(buf.String(), "merge :"); got != maxMergeParents {
		t.Fatalf("merge line count = %d, want %d", got, maxMergeParents)
	}
}

func TestTransactionDoubleCommitPanics(t *testing.T) {
	r, _ := newTestRepository(t)
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("msg")
	txn.Commit()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double commit")
		}
	}()
	txn.Commit()
}

func TestTransactionDeleteAndDeleteAll(t *testing.T) {
	r, buf := newTestRepository(t)
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("msg")
	txn.DeleteAll()
	txn.DeleteFile("old/path")
	txn.Commit()

	out := buf.String()
	if !strings.Contains(out, "deleteall\n") {
		t.Error("expected deleteall line")
	}
	if !strings.Contains(out, "D old/path\n") {
		t.Error("expected D line for deleted path")
	}
}

func TestTransactionDeleteEmptyPathTriggersDeleteAll(t *testing.T) {
	r, buf := newTestRepository(t)
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("msg")
	txn.DeleteFile("")
	txn.Commit()

	if !strings.Contains(buf.String(), "deleteall\n") {
		t.Error("expected DeleteFile(\"\") to trigger deleteall")
	}
}

func TestTransactionDeleteFileStripsTrailingSlash(t *testing.T) {
	r, buf := newTestRepository(t)
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("msg")
	txn.DeleteFile("dir/")
	txn.Commit()

	if !strings.Contains(buf.String(), "D dir\n") {
		t.Errorf("expected trailing slash stripped, got:\n%s", buf.String())
	}
}

func TestTransactionCvs2svnMergeCollapsesToHighestMark(t *testing.T) {
	r, buf := newTestRepository(t)
	txn, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	txn.SetAuthor("a")
	txn.SetDateTime(time.Unix(1, 0))
	txn.SetLog("This commit was manufactured by cvs2svn to create branch 'x'")

	for _, ref := range []string{"refs/heads/b1", "refs/heads/b2", "refs/heads/b3"} {
		r.branches[ref] = &branch{created: 1}
	}
	r.branches["refs/heads/b1"].append(1, 3)
	r.branches["refs/heads/b2"].append(1, 5)
	r.branches["refs/heads/b3"].append(1, 8)
	txn.NoteCopyFromBranch("refs/heads/b1", 1)
	txn.NoteCopyFromBranch("refs/heads/b2", 1)
	txn.NoteCopyFromBranch("refs/heads/b3", 1)
	txn.Commit()

	out := buf.String()
	if got := strings.Count(out, "merge :"); got != 1 {
		t.Fatalf("merge line count = %d, want 1", got)
	}
	if !strings.Contains(out, "merge :8\n") {
		t.Errorf("expected only the highest mark to survive, got:\n%s", out)
	}
}

func TestTransactionMergeCapCountsPrimaryParent(t *testing.T) {
	r, buf := newTestRepository(t)
	first, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 1)
	first.SetAuthor("a")
	first.SetDateTime(time.Unix(1, 0))
	first.SetLog("root")
	first.Commit()

	second, _ := r.NewTransaction(&BranchRule{Ref: "refs/heads/master"}, "trunk", 2)
	second.SetAuthor("a")
	second.SetDateTime(time.Unix(2, 0))
	second.SetLog("many merges, with a real parent too")

	for i := 0; i < 20; i++ {
		ref := "refs/heads/b" + string(rune('a'+i))
		r.branches[ref] = &branch{created: 1}
		r.branches[ref].append(1, 1000+i)
		second.NoteCopyFromBranch(ref, 1)
	}
	second.Commit()

	if got := strings.Count(buf.String(), "merge :"); got != maxMergeParents-1 {
		t.Fatalf("merge line count = %d, want %d (cap minus the primary parent)", got, maxMergeParents-1)
	}
}
