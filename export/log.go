/*
 * Debugging and diagnostic logging.
 *
 * The main point of this design is to make adding and removing log
 * classes simple enough that it can be done ad-hoc for a specific
 * debugging mission: add a constant to the iota block and a matching
 * entry in logtags, then use the constant in logit()/LogEnable().
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	"fmt"
	"sync"
	"time"
)

// Log class bits. Multiple classes may be enabled at once.
const (
	LogWarn     uint = 1 << iota // exceptional condition, not necessarily a bug
	LogTopology                  // branch create/reset/delete bookkeeping
	LogCommands                  // fast-import commands as they are written
	LogBaton                     // progress-meter chatter
)

var logtags = map[string]uint{
	"warn":     LogWarn,
	"topology": LogTopology,
	"commands": LogCommands,
	"baton":    LogBaton,
}

// LogTagNames returns the recognized names for SetLogMask, sorted by
// nothing in particular -- callers that need a stable order should sort.
func LogTagNames() []string {
	names := make([]string, 0, len(logtags))
	for name := range logtags {
		names = append(names, name)
	}
	return names
}

var logMutex sync.Mutex
var logMask = LogWarn

// SetLogMask replaces the enabled log classes wholesale.
func SetLogMask(mask uint) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logMask = mask
}

// LogEnable reports whether any of the given log classes is enabled.
func LogEnable(classes uint) bool {
	logMutex.Lock()
	defer logMutex.Unlock()
	return logMask&classes != 0
}

// logSink receives every logit() line. Nothing in this package sets
// it: a driver installs one with SetLogSink (for instance the same
// Baton it hands to NewRepository, so fast-import progress and package
// diagnostics interleave in one stream). nil means "write nowhere."
var logSink *Baton

// SetLogSink installs the Baton diagnostic messages are teed to.
func SetLogSink(b *Baton) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logSink = b
}

func logit(classes uint, format string, args ...interface{}) {
	if !LogEnable(classes) {
		return
	}
	content := fmt.Sprintf(format, args...)
	logMutex.Lock()
	sink := logSink
	logMutex.Unlock()
	line := rfc3339(time.Now()) + ": " + content + "\n"
	if sink != nil {
		sink.PrintLogString(line)
	}
}

func rfc3339(t time.Time) string {
	return t.Format(time.RFC3339)
}
