/*
 * Transaction: one commit's worth of fast-import protocol, built up by
 * a caller across setAuthor/setLog/addFile/deleteFile calls and
 * flushed to the owning Repository's channel by commit(). Grounded on
 * original_source/src/repository.cpp's Transaction class. Merge-parent
 * de-duplication uses github.com/emirpasic/gods's linkedhashset, the
 * same ordered-set dependency the teacher module carries, in place of
 * the source's hand-rolled QList-with-contains() scan.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

// maxMergeParents is git-fast-import's limit on the number of parents
// (the primary "from" parent plus every "merge" line) a single commit
// command may carry; a copy-from that would exceed it is truncated
// with a warning rather than rejected outright, matching spec.md §7's
// "warning, not fatal" treatment of an over-merged commit.
const maxMergeParents = 16

// cvs2svnMergeMarker is the literal log message cvs2svn writes on the
// synthetic commits it uses to stitch branch history back together
// after a CVS-to-SVN conversion. Such a commit, if it has more than
// one merge parent, is collapsed to its single highest-numbered
// parent -- original_source/src/repository.cpp's cvs2svn workaround.
const cvs2svnMergeMarker = "This commit was manufactured by cvs2svn"

// Transaction accumulates one commit against one branch. It is not
// safe for concurrent use; callers serialize through the owning
// Repository the same way original_source serializes through its
// single-threaded revision walker.
type Transaction struct {
	repo      *Repository
	ref       string
	svnprefix string
	revnum    int
	mark      int

	author   string
	datetime time.Time
	log      string

	parentMark int // 0 means "no parent" (root commit on this branch)
	merges     *linkedhashset.Set

	deleteAll bool
	deleted   []string
	modified  []byte // accumulated "M ..." lines, in addFile order

	committed bool
}

// newTransaction is called only by Repository.NewTransaction, which
// has already allocated mark and resolved parentMark.
func newTransaction(repo *Repository, ref, svnprefix string, revnum, mark, parentMark int) *Transaction {
	return &Transaction{
		repo:       repo,
		ref:        ref,
		svnprefix:  svnprefix,
		revnum:     revnum,
		mark:       mark,
		parentMark: parentMark,
		merges:     linkedhashset.New(),
	}
}

// Mark returns the commit mark allocated to this transaction.
func (t *Transaction) Mark() int { return t.mark }

// SetAuthor records the commit's author identity. The engine emits it
// verbatim as both name and email per spec.md §6's committer line
// format; a driver that wants "Real Name <email>" splitting does that
// before calling SetAuthor.
func (t *Transaction) SetAuthor(author string) { t.author = author }

// SetDateTime records the commit timestamp. It is always rendered in
// the +0000 zone, matching spec.md §6, regardless of the Location on
// when.
func (t *Transaction) SetDateTime(when time.Time) { t.datetime = when }

// SetLog records the raw commit message, before any add-metadata
// trailer is appended.
func (t *Transaction) SetLog(msg string) { t.log = msg }

// NoteCopyFromBranch records an extra merge parent: the tip of
// sourceRef as of sourceRevnum. A mark that coincides with the primary
// parent is silently ignored, and a duplicate mark (the same source
// branch copied from twice within one transaction) is dropped by the
// underlying set. A sourceRef that was never created, or that has no
// commit at sourceRevnum, is logged as a warning and ignored.
func (t *Transaction) NoteCopyFromBranch(sourceRef string, sourceRevnum int) {
	src, ok := t.repo.branches[sourceRef]
	if !ok {
		logit(LogWarn, "%s: copy from branch %s which was never created, ignoring", t.repo.name, sourceRef)
		return
	}
	mark := src.markAt(sourceRevnum)
	if mark <= 0 {
		logit(LogWarn, "%s: copy from %s@r%d resolves to no commit, ignoring", t.repo.name, sourceRef, sourceRevnum)
		return
	}
	if mark == t.parentMark {
		return
	}
	t.merges.Add(mark)
}

// DeleteAll queues a "deleteall" ahead of any D/M lines, used when a
// branch's whole tree is being replaced rather than incrementally
// patched (a plain "svn commit" that happens to touch every path, or a
// resetBranch that reuses the branch's own ref rather than a backup).
func (t *Transaction) DeleteAll() { t.deleteAll = true }

// DeleteFile queues removal of path from the tree. A trailing slash is
// stripped first, and a path that is empty after stripping (an SVN
// directory delete on the branch root itself) is redirected to
// DeleteAll rather than emitting a bare "D " line -- original_source's
// pathNoSlash.chop(1) plus its "" special case. A non-empty path is
// prefixed with the owning Repository's Prefix.
func (t *Transaction) DeleteFile(path string) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		t.DeleteAll()
		return
	}
	t.deleted = append(t.deleted, t.repo.Prefix+path)
}

// AddFile writes a blob for data to the channel immediately (in "raw"
// mode, so binary content never hits the diagnostic log) and queues an
// "M <mode> :<mark> <path>" line for commit(). mode is the fast-import
// numeric file mode written as decimal digits (100644, 100755, 120000
// for a symlink; 160000 -- a gitlink -- goes through AddGitlink
// instead, since it has no blob).
func (t *Transaction) AddFile(path string, mode int, data []byte) {
	blobMark := t.repo.marks.allocateBlob()
	header := "blob\nmark :" + strconv.Itoa(blobMark) + "\ndata " + strconv.Itoa(len(data)) + "\n"
	t.repo.channel.writeRaw([]byte(header))
	t.repo.channel.writeRaw(data)
	t.repo.channel.writeRaw([]byte("\n"))

	line := "M " + strconv.Itoa(mode) + " :" + strconv.Itoa(blobMark) + " " + t.repo.Prefix + path + "\n"
	t.modified = append(t.modified, line...)
}

// AddGitlink queues a submodule pointer update: "M 160000 <sha1> <path>".
// Gitlinks reference a commit in another repository by SHA1, not by
// fast-import mark, so no blob is written.
func (t *Transaction) AddGitlink(path string, sha1 string) {
	line := "M 160000 " + sha1 + " " + t.repo.Prefix + path + "\n"
	t.modified = append(t.modified, line...)
}

// commitHeader renders the opening lines of a commit block: "commit",
// "mark", "committer", and the "data <len>\n<log>\n" message block
// (with the metadata trailer under AddMetadata). Commit appends the
// from/merge lines, deleteall, D lines, M lines, and the trailing
// progress line after it.
func (t *Transaction) commitHeader() string {
	author := t.author
	if author == "" {
		author = "unknown"
	}
	body := "commit " + t.ref + "\n" +
		"mark :" + strconv.Itoa(t.mark) + "\n" +
		"committer " + author + " <" + author + "@svn> " + strconv.FormatInt(t.datetime.Unix(), 10) + " +0000\n"

	message := t.log
	if t.repo.cfg.AddMetadata {
		message += "\n\nsvn path=" + t.svnprefix + "; revision=" + strconv.Itoa(t.revnum) + "\n"
	}
	body += "data " + strconv.Itoa(len(message)) + "\n" + message + "\n"
	return body
}

// Commit flushes the accumulated commit to the channel, records it
// against the branch's history, and returns the mark it was given.
// Calling Commit twice on the same Transaction panics: this mirrors
// original_source treating a double commit as a programmer error, not
// a recoverable one.
func (t *Transaction) Commit() int {
	if t.committed {
		panic(throw(classChildProcessDied, "%s: transaction for %s@r%d committed twice", t.repo.name, t.ref, t.revnum))
	}
	t.committed = true

	block := t.commitHeader()

	// A commit whose parent mark is a cvs2svn "empty" placeholder tag
	// (revision 0, mark never allocated) has no real ancestor; treat it
	// as a root commit rather than emitting "from :0".
	if t.parentMark > 0 {
		block += "from :" + strconv.Itoa(t.parentMark) + "\n"
	}

	merges := t.merges.Values()

	// cvs2svn emits synthetic commits solely to stitch a branch back
	// onto the trunk it forked from; when one shows up with more than
	// one merge candidate, only the highest mark is real ancestry, the
	// rest are cvs2svn bookkeeping noise.
	if len(merges) >= 2 && strings.Contains(t.log, cvs2svnMergeMarker) {
		highest := merges[0].(int)
		for _, m := range merges[1:] {
			if v := m.(int); v > highest {
				highest = v
			}
		}
		merges = []interface{}{highest}
	}

	// git-fast-import's own limit is on total parents, the primary
	// "from" plus every "merge"; count parentMark toward it too.
	limit := maxMergeParents
	if t.parentMark > 0 {
		limit--
	}
	if len(merges) > limit {
		logit(LogWarn, "%s: %s@r%d has %d merge parents, keeping first %d",
			t.repo.name, t.ref, t.revnum, len(merges), limit)
		merges = merges[:limit]
	}

	var mergeMarks []string
	for _, m := range merges {
		mark := strconv.Itoa(m.(int))
		block += "merge :" + mark + "\n"
		mergeMarks = append(mergeMarks, ":"+mark)
	}

	if t.deleteAll {
		block += "deleteall\n"
	}
	for _, path := range t.deleted {
		block += "D " + path + "\n"
	}
	block += string(t.modified)
	block += "\n"

	comment := ""
	if len(mergeMarks) > 0 {
		comment = "merge from " + strings.Join(mergeMarks, ", ")
	}
	block += formatProgress(t.revnum, t.ref, t.mark, comment)
	block += "\n"

	t.repo.channel.writeLogged([]byte(block))

	br := t.repo.branches[t.ref]
	if br == nil {
		br = &branch{}
		t.repo.branches[t.ref] = br
	}
	br.append(t.revnum, t.mark)

	if t.repo.cfg.AddMetadataNotes {
		t.commitNote()
	}

	t.repo.transactionCompleted()
	return t.mark
}

// Abandon discards a transaction that was opened but is never going to
// be committed, releasing its slot in the repository's outstanding
// count the same as a real Commit would. original_source's
// forgetTransaction is called from both paths for the same reason: a
// blob mark allocated for a transaction that never lands must still be
// reclaimed once nothing is left referencing it.
func (t *Transaction) Abandon() {
	if t.committed {
		return
	}
	t.committed = true
	t.repo.transactionCompleted()
}

// commitNote attaches a metadata note to refs/notes/commits, recording
// the source revision a commit was generated from. It is written as
// its own tiny commit against the reserved note mark, exactly as
// original_source's commitNote does against its single fixed note
// commit mark (see marks.go's NoteMark).
func (t *Transaction) commitNote() {
	text := "svn path=" + t.svnprefix + "; revision=" + strconv.Itoa(t.revnum) + "\n"
	block := "commit refs/notes/commits\n" +
		"mark :" + strconv.Itoa(NoteMark) + "\n" +
		"committer " + t.author + " <" + t.author + "@svn> " + strconv.FormatInt(t.datetime.Unix(), 10) + " +0000\n" +
		"data " + strconv.Itoa(len("Note added by svn2git")) + "\nNote added by svn2git\n" +
		"N inline :" + strconv.Itoa(t.mark) + "\n" +
		"data " + strconv.Itoa(len(text)) + "\n" + text + "\n"
	t.repo.channel.writeLogged([]byte(block))
}
