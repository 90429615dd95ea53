/*
Package export implements the per-target-repository half of an SVN-to-git
conversion pipeline: it maintains each target repository's branch state,
allocates commit and blob marks out of a shared 20-bit space, serializes
transactions to a long-running "git fast-import" child process, and
resumes across runs from an on-disk marks file and progress log.

The Subversion-side revision walker, the path-to-rule matching trie, and
any CLI or option-parsing layer are external collaborators: this package
only defines the small contract (Revision, BranchRule) those collaborators
must satisfy, and consumes it.

Copyright by Eric S. Raymond
SPDX-License-Identifier: BSD-2-Clause
*/
package export
