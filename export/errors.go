/*
 * Error classification for the export engine.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import "fmt"

// errorClass tags a fatal condition so a recover() boundary can report
// which invariant was violated without losing the underlying message.
// The set of classes is fixed by the spec this engine implements; add
// a class here only when a new fatal (not warning) condition is defined.
type errorClass string

const (
	// classMarksFileCorrupt: a non-conforming line was found in a marks
	// file before any gap -- see lastValidMark.
	classMarksFileCorrupt errorClass = "MarksFileCorrupt"
	// classProgressLogCorrupt: a progress log line could not be parsed
	// where a well-formed one was required.
	classProgressLogCorrupt errorClass = "ProgressLogCorrupt"
	// classUnknownSourceBranch: createBranch's source branch has never
	// been created.
	classUnknownSourceBranch errorClass = "UnknownSourceBranch"
	// classMarkSpaceExhausted: the commit-mark and blob-mark counters
	// have met inside the shared 20-bit mark space.
	classMarkSpaceExhausted errorClass = "MarkSpaceExhausted"
	// classChildProcessDied: a write to the fast-import child failed,
	// or the child exited before being told to.
	classChildProcessDied errorClass = "ChildProcessDied"
	// classChildAlreadyCrashedOnce: an attempt to respawn a channel
	// whose processHasStarted flag is already set.
	classChildAlreadyCrashedOnce errorClass = "ChildAlreadyCrashedOnce"
)

// exception is a class-tagged panic value. Fatal conditions in this
// package are signaled by panic(throw(class, ...)); non-fatal ones go
// through logit(LogWarn, ...) and the run continues.
type exception struct {
	class   errorClass
	message string
}

func (e *exception) Error() string {
	return string(e.class) + ": " + e.message
}

func throw(class errorClass, format string, args ...interface{}) *exception {
	return &exception{class: class, message: fmt.Sprintf(format, args...)}
}

// catch recovers a panic and, if it is an *exception, returns it as an
// error. Any other panic value (including exceptions of an unexpected
// class-independent kind) is re-raised: this package never silently
// swallows a bug.
func catch(r interface{}) error {
	if r == nil {
		return nil
	}
	if e, ok := r.(*exception); ok {
		return e
	}
	panic(r)
}

// guard runs fn and converts any *exception panic it raises into a
// returned error, giving driver-facing entry points ordinary Go error
// semantics without requiring callers to know about panic/recover.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = catch(r)
		}
	}()
	fn()
	return nil
}
