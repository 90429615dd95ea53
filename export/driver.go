/*
 * The minimal contract this package expects from its external
 * collaborators: the SVN-side revision walker and the ruleset/path
 * matcher. Neither is implemented here -- see spec.md's Non-goals --
 * but the engine needs concrete types to consume.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import "time"

// Revision is what the SVN-side walker hands the engine for a single
// SVN commit: enough to write a fast-import "commit" header. Per-path
// edits are not modeled here; the walker is expected to drive
// Transaction.AddFile/DeleteFile itself once it has opened a
// transaction against the right branch for a given revision.
type Revision struct {
	Number int
	Author string
	Date   time.Time
	Log    string

	// SvnPath is the SVN-side path this revision's changes are rooted
	// at (e.g. "trunk", "branches/release-1.0"), as opposed to the
	// git ref they land on. A driver passes it as the svnprefix
	// argument of Repository.NewTransaction and CreateAnnotatedTag,
	// which write it into the "svn path=" metadata trailer so that
	// trailer records the source path, not the target ref.
	SvnPath string
}

// Unix returns the revision's commit time as fast-import expects it:
// decimal Unix seconds. The engine always emits "+0000" as the zone,
// matching spec.md §6.
func (r Revision) Unix() int64 {
	return r.Date.Unix()
}

// BranchRule identifies a target ref a Repository operation applies
// to. The ruleset parser (out of scope here) is responsible for
// mapping SVN paths to BranchRules; this engine only requires that
// Ref be a fully-qualified ref name.
type BranchRule struct {
	Ref string
}
