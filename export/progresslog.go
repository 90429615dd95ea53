/*
 * ProgressLog: the engine's append-only record of committed
 * (revision, branch, mark) triples, used to reconstruct branch state
 * on resume. Grounded on original_source/src/repository.cpp's
 * setupIncremental/restoreLog, using github.com/termie/go-shutil for
 * the pre-truncation backup copy the way the teacher's reposurgeon.go
 * uses shutil.Copy for its own on-disk backup steps.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	shutil "github.com/termie/go-shutil"
)

// progressLine matches spec.md §6's fixed format:
// progress SVN r(\d+) branch (.*) = :(\d+)(?:\s*#.*)?
var progressLine = regexp.MustCompile(`^progress SVN r(\d+) branch (.*) = :(\d+)`)

// progressRecord is one parsed log line.
type progressRecord struct {
	revnum int
	ref    string
	mark   int
}

// logFileName mirrors original_source's logFileName.
func logFileName(name string) string {
	return "log-" + strings.ReplaceAll(name, "/", "_")
}

// setupIncremental scans logPath for progress lines up to (but not
// including) cutoff, returning them in order plus the first revision
// the driver must replay. It reconciles the log against the marks
// file high-water mark exactly as spec.md §4.3 specifies:
//
//   - a record whose mark exceeds the marks-file high-water mark means
//     the child was killed mid-commit; cutoff rewinds to that record's
//     revision and the log is truncated at the record's file offset;
//   - non-monotonic revision numbers are accepted with a warning;
//   - before truncation the log is backed up to "<log>.old"; when
//     nothing is truncated and the last record is at revision cutoff-1,
//     a stale backup is removed so a later failure doesn't restore the
//     wrong generation (otherwise an existing backup is left in place).
//
// A missing log file means "nothing has ever been exported here";
// setupIncremental returns firstReplay=1 and no records.
func setupIncremental(logPath string, highWaterMark int, cutoff int) (firstReplay int, records []progressRecord, err error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil, nil
		}
		return 0, nil, err
	}
	defer f.Close()

	backup := logPath + ".old"
	lastRevnum := 0
	var truncateAt int64 = -1
	rewoundCutoff := cutoff

	reader := bufio.NewReader(f)
	var pos int64
	for {
		lineStart := pos
		raw, readErr := reader.ReadString('\n')
		pos += int64(len(raw))
		line := raw
		if hash := strings.IndexByte(line, '#'); hash != -1 {
			line = line[:hash]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			m := progressLine.FindStringSubmatch(line)
			if m != nil {
				revnum, _ := strconv.Atoi(m[1])
				ref := m[2]
				mark, _ := strconv.Atoi(m[3])

				if revnum >= cutoff {
					truncateAt = lineStart
					break
				}
				if revnum < lastRevnum {
					logit(LogWarn, "revision numbers are not monotonic: got %d and then %d", lastRevnum, revnum)
				}
				if mark > highWaterMark {
					logit(LogWarn, "unknown commit mark %d found: rewinding -- did you hit Ctrl-C?", mark)
					rewoundCutoff = revnum
					truncateAt = lineStart
					break
				}
				lastRevnum = revnum
				records = append(records, progressRecord{revnum: revnum, ref: ref, mark: mark})
			}
		}
		if readErr != nil {
			break
		}
	}

	if truncateAt < 0 {
		firstReplay = lastRevnum + 1
		if firstReplay == cutoff {
			os.Remove(backup)
		}
		return firstReplay, records, nil
	}

	os.Remove(backup)
	if _, err := shutil.Copy(logPath, backup, true); err != nil {
		return 0, nil, err
	}
	logit(LogTopology, "truncating history to revision %d", rewoundCutoff)
	if err := os.Truncate(logPath, truncateAt); err != nil {
		return 0, nil, err
	}
	return rewoundCutoff, records, nil
}

// restoreLog un-does a truncation: if a backup exists, it replaces the
// (possibly short-lived, since-appended) live log with it. Called by
// a driver that setup succeeded but the run itself failed before
// producing anything worth keeping.
func restoreLog(logPath string) error {
	backup := logPath + ".old"
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		return nil
	}
	os.Remove(logPath)
	return os.Rename(backup, logPath)
}

// formatProgress renders one progress line in the canonical format,
// with an optional trailing comment. Repository and Transaction write
// this into the fast-import command stream; git-fast-import echoes
// "progress" lines to its own stdout, which FastImportChannel merges
// into the log file, which is what setupIncremental later parses back.
func formatProgress(revnum int, ref string, mark int, comment string) string {
	line := "progress SVN r" + strconv.Itoa(revnum) + " branch " + ref + " = :" + strconv.Itoa(mark)
	if comment != "" {
		line += " # " + comment
	}
	return line + "\n"
}
