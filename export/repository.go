/*
 * Repository: the per-target-repository coordinator. Owns branch
 * state, the mark allocator, and the fast-import channel; exposes the
 * operations an SVN revision walker drives one revision at a time.
 * Grounded on original_source/src/repository.cpp's Repository class.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pendingTag is an annotated tag queued by CreateAnnotatedTag until
// FinalizeTags writes it. fast-import requires the tagged commit's
// mark to already be known, which it always is by the time any tag is
// finalized, but batching tags to the end keeps them out of the way of
// the branch commits they reference, matching original_source's
// finalizeTags pass.
type pendingTag struct {
	name      string
	svnprefix string
	revnum    int
	fromMark  int
	tagger    string
	when      time.Time
	message   string
}

// zeroSHA is the 40-character all-zero object id git-fast-import
// accepts as a "from" target meaning "no history"; resetting a ref to
// it deletes the ref, original_source/src/repository.cpp:404-405.
const zeroSHA = "0000000000000000000000000000000000000000"

// deleteSentinel marks a queued branchOp as a ref deletion rather than
// a create/reset; it can never collide with a real mark, which starts
// at 1.
const deleteSentinel = -1

// branchOp is one CreateBranch/DeleteBranch/ResetBranch queued against
// a ref, waiting for Commit to flush it as an actual "reset" block.
// original_source buffers exactly these operations per revision and
// flushes them from Repository::commit (repository.cpp:408-481)
// instead of writing each one as it is registered. backupRef/backupFrom,
// when set, are written as their own "reset" block immediately ahead of
// the main one -- the discarded-tip preservation repository.cpp:427-433
// performs before a delete or a reset actually lands.
type branchOp struct {
	ref      string
	revnum   int
	fromMark int // deleteSentinel for a delete
	comment  string

	backupRef  string
	backupFrom string
}

// Repository coordinates one target repository: its branches, its
// mark space, and the single fast-import child it drives.
type Repository struct {
	name    string
	workDir string
	cfg     Config

	registry *Registry
	channel  *fastImportChannel
	marks    *markAllocator

	mu       sync.Mutex
	branches map[string]*branch
	pendingFrom map[string]int // ref -> parent mark for that ref's next (first) commit

	// deletedBranches and resetBranches are the two command buffers
	// DeleteBranch/CreateBranch/ResetBranch queue into, each keyed by
	// ref so a second call against the same ref before Commit replaces
	// rather than duplicates the pending op. Commit flushes
	// deletedBranches, then resetBranches, matching original_source's
	// two-buffer ordering. The *Order slices preserve first-queued
	// order for a deterministic flush.
	deletedBranches map[string]branchOp
	deletedOrder    []string
	resetBranches   map[string]branchOp
	resetOrder      []string

	tags     []pendingTag

	gitattributesEmitted bool
	transactionsSinceCheckpoint int
	outstandingTransactions     int

	// Prefix is prepended to every path AddFile/DeleteFile touches.
	// original_source declares this field but never populates it
	// (rule.forwardTo is commented out in the constructor); it is kept
	// here for the same reason -- a driver may set it, nothing in this
	// package does.
	Prefix string

	// submoduleParent, if non-empty, names the repository (looked up
	// through registry) this repository is a submodule of. Held as a
	// name rather than a *Repository so two repositories that
	// submodule-reference each other cannot form an ownership cycle.
	submoduleParent string
}

// NewRepository builds a Repository named name, rooted at workDir
// (where its marks file, progress log, and git-fast-import invocation
// all live), sharing registry's process cache. baton is the
// diagnostic sink the channel tees "logged" writes to; nil is fine and
// discards them.
func NewRepository(name, workDir string, cfg Config, registry *Registry, baton *Baton) *Repository {
	r := &Repository{
		name:            name,
		workDir:         workDir,
		cfg:             cfg,
		registry:        registry,
		marks:           newMarkAllocator(),
		branches:        make(map[string]*branch),
		pendingFrom:     make(map[string]int),
		deletedBranches: make(map[string]branchOp),
		resetBranches:   make(map[string]branchOp),
	}
	r.channel = newFastImportChannel(cfg, workDir, r.marksPath(), r.logPath(), baton, name)
	r.branches[cfg.defaultBranch()] = &branch{created: 1}
	if registry != nil {
		registry.put(name, r)
	}
	return r
}

func (r *Repository) marksPath() string { return filepath.Join(r.workDir, marksFileName(r.name)) }
func (r *Repository) logPath() string   { return filepath.Join(r.workDir, logFileName(r.name)) }

// SetupIncremental scans this repository's marks file and progress log
// and replays their agreement into branch state, returning the first
// SVN revision the caller must (re)drive. cutoff is the revision the
// caller intends to resume at, per spec.md §4.3's reconciliation rule
// (a log record beyond the marks file's high-water mark rewinds cutoff
// instead of being trusted).
func (r *Repository) SetupIncremental(cutoff int) (firstReplay int, err error) {
	err = guard(func() {
		highWater, err := lastValidMark(r.marksPath())
		if err != nil {
			panic(err)
		}
		r.marks.resumeFrom(highWater)

		replay, records, err := setupIncremental(r.logPath(), highWater, cutoff)
		if err != nil {
			panic(err)
		}
		for _, rec := range records {
			b, ok := r.branches[rec.ref]
			if !ok {
				b = &branch{}
				r.branches[rec.ref] = b
			}
			b.append(rec.revnum, rec.mark)
		}
		firstReplay = replay
	})
	return firstReplay, err
}

// CreateBranch registers rule.Ref as existing as of revnum, with its
// first future commit parented on fromRule's tip as of fromRevnum (or
// with no parent at all, if fromRule is nil -- an orphan branch).
// Recreating a branch that already has commits is legal: it happens
// whenever SVN deletes and recreates a path at the same location, and
// simply overwrites the pending-from entry, matching
// original_source's createBranch.
func (r *Repository) CreateBranch(rule *BranchRule, revnum int, fromRule *BranchRule, fromRevnum int) error {
	return guard(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		fromMark, comment := r.resolveFromLocked(rule, fromRule, fromRevnum, "create")
		if _, ok := r.branches[rule.Ref]; !ok {
			r.branches[rule.Ref] = &branch{}
		}
		r.branches[rule.Ref].created = revnum
		r.pendingFrom[rule.Ref] = fromMark

		// A delete and a create queued for the same ref at the same
		// revision cancel: only the reset this create queues survives.
		r.cancelDeleteLocked(rule.Ref, revnum)
		r.queueResetLocked(branchOp{ref: rule.Ref, revnum: revnum, fromMark: fromMark, comment: comment})
		logit(LogTopology, "%s: created branch %s at r%d", r.name, rule.Ref, revnum)
	})
}

// resolveFromLocked looks up fromRule's tip as of fromRevnum, and
// builds the "from branch ... at r..." comment CreateBranch/ResetBranch
// attach to the reset block's progress line. Caller must hold r.mu.
func (r *Repository) resolveFromLocked(rule, fromRule *BranchRule, fromRevnum int, verb string) (fromMark int, comment string) {
	if fromRule == nil {
		return 0, ""
	}
	src, ok := r.branches[fromRule.Ref]
	if !ok {
		panic(throw(classUnknownSourceBranch, "%s: %s %s from %s which was never created", r.name, verb, rule.Ref, fromRule.Ref))
	}
	fromMark = src.markAt(fromRevnum)
	if fromMark <= 0 {
		logit(LogWarn, "%s: %s %s from %s@r%d which has no commit there, branch starts empty",
			r.name, verb, rule.Ref, fromRule.Ref, fromRevnum)
		fromMark = 0
	}
	return fromMark, "from branch " + fromRule.Ref + " at r" + strconv.Itoa(fromRevnum)
}

// DeleteBranch marks rule.Ref deleted as of revnum and queues a reset
// to the zero SHA for the next Commit to flush. The default branch is
// never deleted, mirroring original_source/src/repository.cpp:401-402
// refusing to drop refs/heads/master.
func (r *Repository) DeleteBranch(rule *BranchRule, revnum int) error {
	return guard(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if rule.Ref == r.cfg.defaultBranch() {
			logit(LogWarn, "%s: refusing to delete default branch %s", r.name, rule.Ref)
			return
		}
		b, ok := r.branches[rule.Ref]
		if !ok || b.created == 0 {
			logit(LogWarn, "%s: delete of never-created branch %s ignored", r.name, rule.Ref)
			return
		}
		delete(r.pendingFrom, rule.Ref)

		op := branchOp{ref: rule.Ref, revnum: revnum, fromMark: deleteSentinel}
		if b.lastMark() != 0 {
			// The ref still has commits reachable only through it;
			// preserve them under a backup tag before the reset lands.
			op.backupRef = "refs/tags/backups/" + filepath.Base(rule.Ref) + "@" + strconv.Itoa(revnum)
			op.backupFrom = rule.Ref
		}
		r.queueDeleteLocked(op)
		logit(LogTopology, "%s: deleted branch %s at r%d", r.name, rule.Ref, revnum)
	})
}

// ResetBranch replaces rule.Ref's contents wholesale with fromRule's
// tip as of fromRevnum, preserving the discarded history under
// refs/backups/r<revnum>/<ref-tail> the way original_source's
// resetBranch preserves the overwritten tip rather than losing it. A
// reset that lands on the same revision a branch was just created at
// is a no-op create/delete cancellation, matching the source's
// "createRevnum == revnum" special case.
func (r *Repository) ResetBranch(rule *BranchRule, revnum int, fromRule *BranchRule, fromRevnum int) error {
	return guard(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.submoduleChanged(rule)

		b, existed := r.branches[rule.Ref]
		var backupRef, backupFrom string
		if existed && b.created == revnum {
			// Created and reset within the same revision: cancel out,
			// nothing was ever published under the old tip.
			delete(r.branches, rule.Ref)
			delete(r.pendingFrom, rule.Ref)
			r.cancelResetLocked(rule.Ref)
			return
		} else if existed && b.lastMark() != 0 {
			backupRef = "refs/backups/r" + strconv.Itoa(revnum) + strings.TrimPrefix(rule.Ref, "refs")
			backupFrom = ":" + strconv.Itoa(b.lastMark())
			logit(LogTopology, "%s: backed up %s tip to %s before reset at r%d", r.name, rule.Ref, backupRef, revnum)
		}

		fromMark, comment := r.resolveFromLocked(rule, fromRule, fromRevnum, "reset")
		if _, ok := r.branches[rule.Ref]; !ok {
			r.branches[rule.Ref] = &branch{}
		}
		r.branches[rule.Ref].created = revnum
		r.pendingFrom[rule.Ref] = fromMark
		r.queueResetLocked(branchOp{ref: rule.Ref, revnum: revnum, fromMark: fromMark, comment: comment, backupRef: backupRef, backupFrom: backupFrom})
	})
}

// queueDeleteLocked buffers a delete op, replacing any earlier pending
// delete queued for the same ref but keeping its original flush
// position. Caller must hold r.mu.
func (r *Repository) queueDeleteLocked(op branchOp) {
	if _, exists := r.deletedBranches[op.ref]; !exists {
		r.deletedOrder = append(r.deletedOrder, op.ref)
	}
	r.deletedBranches[op.ref] = op
}

// queueResetLocked buffers a create/reset op the same way
// queueDeleteLocked buffers a delete. Caller must hold r.mu.
func (r *Repository) queueResetLocked(op branchOp) {
	if _, exists := r.resetBranches[op.ref]; !exists {
		r.resetOrder = append(r.resetOrder, op.ref)
	}
	r.resetBranches[op.ref] = op
}

// cancelDeleteLocked drops ref's pending delete if it was queued at
// revnum, implementing "create-after-delete in the same revision
// cancels the delete" -- only the reset CreateBranch queues afterward
// survives. Caller must hold r.mu.
func (r *Repository) cancelDeleteLocked(ref string, revnum int) {
	if op, ok := r.deletedBranches[ref]; ok && op.revnum == revnum {
		delete(r.deletedBranches, ref)
	}
}

// cancelResetLocked drops any not-yet-flushed create/reset queued
// against ref, used when a same-revision create+reset cancels a branch
// out before Commit ever writes anything for it. Caller must hold r.mu.
func (r *Repository) cancelResetLocked(ref string) {
	delete(r.resetBranches, ref)
}

// Commit flushes every branch structural change (CreateBranch,
// DeleteBranch, ResetBranch) queued since the last Commit: deletions
// first, then creates/resets, as actual "reset" blocks against the
// fast-import child. A deletion resets its ref to the zero SHA; a
// create/reset resets it to the resolved parent mark (if any) and
// appends the "progress ... # from branch ..." line the branch's
// history is later replayed from, mirroring original_source's
// Repository::commit (repository.cpp:408-481) batching these writes to
// once per revision instead of once per call.
func (r *Repository) Commit() error {
	return guard(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.deletedOrder) == 0 && len(r.resetOrder) == 0 {
			return
		}
		if r.registry != nil {
			r.registry.cache.Touch(r.name, r)
		}
		justSpawned, spawnErr := r.channel.ensureStarted()
		if spawnErr != nil {
			panic(throw(classChildProcessDied, "%s: %s", r.name, spawnErr))
		}
		if justSpawned {
			r.reloadBranchesLocked()
		}

		for _, ref := range r.deletedOrder {
			op, ok := r.deletedBranches[ref]
			if !ok {
				continue
			}
			r.flushBranchOpLocked(op)
		}
		for _, ref := range r.resetOrder {
			op, ok := r.resetBranches[ref]
			if !ok {
				continue
			}
			r.flushBranchOpLocked(op)
		}

		r.deletedBranches = make(map[string]branchOp)
		r.deletedOrder = nil
		r.resetBranches = make(map[string]branchOp)
		r.resetOrder = nil
	})
}

// flushBranchOpLocked writes op's backup reset (if any) followed by its
// main reset/delete block, and records the branch history update.
// Caller must hold r.mu and must already have spawned the channel.
func (r *Repository) flushBranchOpLocked(op branchOp) {
	if op.backupRef != "" {
		r.channel.writeLogged([]byte("reset " + op.backupRef + "\nfrom " + op.backupFrom + "\n\n"))
	}

	var block string
	if op.fromMark == deleteSentinel {
		block = "reset " + op.ref + "\nfrom " + zeroSHA + "\n\n"
	} else {
		block = "reset " + op.ref + "\n"
		if op.fromMark > 0 {
			block += "from :" + strconv.Itoa(op.fromMark) + "\n"
		}
		block += "\n" + formatProgress(op.revnum, op.ref, 0, op.comment) + "\n"
	}
	r.channel.writeLogged([]byte(block))

	b := r.branches[op.ref]
	if b == nil {
		b = &branch{}
		r.branches[op.ref] = b
	}
	b.append(op.revnum, 0)
}

// submoduleChanged is a hook called before a branch reset lands, at
// the same point original_source calls
// Repository::submoduleChanged(this, branchRule) on every repository
// registered as a submodule parent. The original leaves the method
// body empty; this keeps the call site and signature without
// inventing gitlink-update semantics the source never specified.
func (r *Repository) submoduleChanged(rule *BranchRule) {
	if r.submoduleParent == "" || r.registry == nil {
		return
	}
	if _, ok := r.registry.Lookup(r.submoduleParent); !ok {
		logit(LogWarn, "%s: submodule parent %s not found in registry", r.name, r.submoduleParent)
	}
}

// SetSubmoduleParent records that r is used as a submodule of the
// repository named parentName. Nothing is dereferenced eagerly: the
// name is resolved through registry only when submoduleChanged fires.
func (r *Repository) SetSubmoduleParent(parentName string) {
	r.submoduleParent = parentName
}

// NewTransaction opens a transaction for revnum against rule.Ref,
// lazily spawning the fast-import child (and reloading every branch
// tip into it) on first use. The transaction's parent mark is the
// branch's own last mark, or, for a branch's first ever commit, the
// mark CreateBranch/ResetBranch queued for it.
func (r *Repository) NewTransaction(rule *BranchRule, svnprefix string, revnum int) (*Transaction, error) {
	var t *Transaction
	err := guard(func() {
		r.mu.Lock()
		if r.registry != nil {
			r.registry.cache.Touch(r.name, r)
		}
		justSpawned, spawnErr := r.channel.ensureStarted()
		if spawnErr != nil {
			r.mu.Unlock()
			panic(throw(classChildProcessDied, "%s: %s", r.name, spawnErr))
		}
		if justSpawned {
			r.reloadBranchesLocked()
		}

		b, ok := r.branches[rule.Ref]
		if !ok {
			b = &branch{}
			r.branches[rule.Ref] = b
		}
		parentMark := b.lastMark()
		if parentMark == 0 {
			parentMark = r.pendingFrom[rule.Ref]
		}

		mark := r.marks.allocateCommit()
		r.outstandingTransactions++
		r.mu.Unlock()

		t = newTransaction(r, rule.Ref, svnprefix, revnum, mark, parentMark)

		if r.cfg.GitattributesText != "" && !r.gitattributesEmitted && rule.Ref == r.cfg.defaultBranch() {
			t.AddFile(".gitattributes", 100644, []byte(r.cfg.GitattributesText))
			r.gitattributesEmitted = true
		}
	})
	return t, err
}

// reloadBranchesLocked re-establishes every existing branch's tip in
// the freshly (re)spawned child. Caller must hold r.mu.
func (r *Repository) reloadBranchesLocked() {
	var refs []string
	var marks []int
	for ref, b := range r.branches {
		if m := b.lastMark(); m != 0 {
			refs = append(refs, ref)
			marks = append(marks, m)
		}
	}
	r.channel.reloadBranches(refs, marks, r.cfg.AddMetadataNotes)
}

// transactionCompleted is called by Transaction.Commit and
// Transaction.Abandon; it drives the CommitInterval checkpoint policy
// and releases blob marks once nothing is left outstanding, matching
// original_source's forgetTransaction (repository.cpp:521-527), which
// keys the release on the outstanding-transaction count reaching zero
// rather than on whether checkpointing is enabled at all.
func (r *Repository) transactionCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outstandingTransactions > 0 {
		r.outstandingTransactions--
	}

	if r.cfg.CommitInterval > 0 {
		r.transactionsSinceCheckpoint++
		if r.transactionsSinceCheckpoint >= r.cfg.CommitInterval {
			r.channel.checkpoint()
			r.transactionsSinceCheckpoint = 0
		}
	}

	if r.outstandingTransactions == 0 {
		r.marks.releaseBlobs()
	}
}

// CreateAnnotatedTag queues an annotated tag named name against
// rule.Ref's tip as of revnum, to be written by FinalizeTags. tagger
// and when follow the same formatting rules as a commit's committer
// line.
func (r *Repository) CreateAnnotatedTag(rule *BranchRule, svnprefix string, revnum int, name, tagger, message string, when time.Time) error {
	return guard(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		b, ok := r.branches[rule.Ref]
		if !ok {
			panic(throw(classUnknownSourceBranch, "%s: tag %s from %s which was never created", r.name, name, rule.Ref))
		}
		mark := b.markAt(revnum)
		if mark <= 0 {
			logit(LogWarn, "%s: tag %s resolves to no commit, skipping", r.name, name)
			return
		}
		r.tags = append(r.tags, pendingTag{
			name:      name,
			svnprefix: svnprefix,
			revnum:    revnum,
			fromMark:  mark,
			tagger:    tagger,
			when:      when,
			message:   message,
		})
	})
}

// FinalizeTags writes every tag queued by CreateAnnotatedTag, in
// queued order, then clears the queue. Called once the revision walk
// is done, exactly as original_source's finalizeTags is called at the
// end of the conversion run.
func (r *Repository) FinalizeTags() error {
	return guard(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.registry != nil {
			r.registry.cache.Touch(r.name, r)
		}
		justSpawned, spawnErr := r.channel.ensureStarted()
		if spawnErr != nil {
			panic(throw(classChildProcessDied, "%s: %s", r.name, spawnErr))
		}
		if justSpawned {
			r.reloadBranchesLocked()
		}
		for _, tag := range r.tags {
			message := tag.message
			if r.cfg.AddMetadata {
				message += "\n\nsvn path=" + tag.svnprefix + "; revision=" + strconv.Itoa(tag.revnum) + "; tag=" + tag.name + "\n"
			}
			block := "tag " + tag.name + "\n" +
				"from :" + strconv.Itoa(tag.fromMark) + "\n" +
				"tagger " + tag.tagger + " <" + tag.tagger + "@svn> " + strconv.FormatInt(tag.when.Unix(), 10) + " +0000\n" +
				"data " + strconv.Itoa(len(message)) + "\n" + message + "\n"
			r.channel.writeLogged([]byte(block))
			if r.cfg.AddMetadataNotes {
				r.writeTagNoteLocked(tag)
			}
		}
		r.tags = nil
	})
}

// writeTagNoteLocked appends a metadata note to the commit an annotated
// tag points at, the same shape Transaction.commitNote writes for an
// ordinary commit but addressed at tag.fromMark rather than a
// transaction's own mark -- original_source's finalizeTags does this
// for every tag once AddMetadataNotes is set (repository.cpp:581-612).
// Caller must hold r.mu and must already have spawned the channel.
func (r *Repository) writeTagNoteLocked(tag pendingTag) {
	text := "svn path=" + tag.svnprefix + "; revision=" + strconv.Itoa(tag.revnum) + "; tag=" + tag.name + "\n"
	block := "commit refs/notes/commits\n" +
		"mark :" + strconv.Itoa(NoteMark) + "\n" +
		"committer " + tag.tagger + " <" + tag.tagger + "@svn> " + strconv.FormatInt(tag.when.Unix(), 10) + " +0000\n" +
		"data " + strconv.Itoa(len("Note added by svn2git")) + "\nNote added by svn2git\n" +
		"N inline :" + strconv.Itoa(tag.fromMark) + "\n" +
		"data " + strconv.Itoa(len(text)) + "\n" + text + "\n"
	r.channel.writeLogged([]byte(block))
}

// closeFastImport satisfies the cacheable interface ProcessCache
// evicts against, so an LRU eviction closes the whole repository's
// channel rather than reaching into it directly.
func (r *Repository) closeFastImport() {
	r.channel.closeFastImport()
}

// Close checkpoints and shuts down the fast-import child, and removes
// this repository from its registry's process cache (if it was ever
// touched there). Safe to call whether or not the child ever spawned.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel.closeFastImport()
	if r.registry != nil {
		r.registry.cache.Remove(r.name)
		r.registry.remove(r.name)
	}
}
