/*
 * BranchState: per-branch append-only history of (revision, mark)
 * pairs plus creation revision and optional note text. Grounded on
 * original_source/src/repository.cpp's Branch struct and markFrom.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import "sort"

// branch is one target ref's append-only commit history.
type branch struct {
	created int // 0 = uncreated
	commits []int
	marks   []int
	note    []byte
}

// append records a commit (or reset/delete, mark==0) at revnum. A
// trailing zero mark means "deleted" -- callers that reset a branch to
// nothing still append the pair so later markFrom queries at or after
// that revision correctly report "deleted."
func (b *branch) append(revnum, mark int) {
	if b.created == 0 || mark == 0 || len(b.marks) == 0 || b.marks[len(b.marks)-1] == 0 {
		b.created = revnum
	}
	b.commits = append(b.commits, revnum)
	b.marks = append(b.marks, mark)
}

// lastMark returns the most recent recorded mark, or 0 if the branch
// has no commits yet (including "never created").
func (b *branch) lastMark() int {
	if len(b.marks) == 0 {
		return 0
	}
	return b.marks[len(b.marks)-1]
}

// markAt implements markFrom's search for one branch: -1 if the
// branch was never created or has no commits, marks[i] where i is the
// largest index with commits[i] <= rev, or 0 if no such i exists (the
// branch existed but not yet at that revision).
func (b *branch) markAt(rev int) int {
	if b.created == 0 || len(b.commits) == 0 {
		return -1
	}
	// sort.Search finds the first index for which commits[i] > rev;
	// the entry we want, if any, is one before that.
	i := sort.Search(len(b.commits), func(i int) bool { return b.commits[i] > rev })
	if i == 0 {
		return 0
	}
	return b.marks[i-1]
}
