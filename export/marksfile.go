/*
 * MarksFile: read-only parsing of the fast-import child's own
 * "sorted ASCII, one line `: <mark> <sha>`" marks file, on resume.
 * Grounded on original_source/src/repository.cpp's lastValidMark.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// marksFileName mirrors original_source's marksFileName: the on-disk
// marks file for a repository named name lives alongside it, with any
// path separators flattened.
func marksFileName(name string) string {
	return "marks-" + strings.ReplaceAll(name, "/", "_")
}

// lastValidMark scans path and returns the largest mark M such that
// every integer in [1, M] appears exactly once, in sorted order, at
// the head of the file. It stops at the first gap, duplicate, or
// descending pair without error -- that boundary is the resumable
// high-water mark. A conforming line before any such boundary but that
// fails to parse at all (not just "next expected value") is corruption.
// A missing file is not corruption: a repository that has never been
// exported to has no marks yet.
func lastValidMark(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	prev := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" {
			continue
		}
		mark, ok := parseMarkLine(line)
		if !ok {
			return 0, throw(classMarksFileCorrupt, "%s line %d: marks file corrupt", path, lineno)
		}
		if mark == prev {
			return 0, throw(classMarksFileCorrupt, "%s line %d: marks file has duplicates", path, lineno)
		}
		if mark < prev {
			return 0, throw(classMarksFileCorrupt, "%s line %d: marks file not sorted", path, lineno)
		}
		if mark > prev+1 {
			break
		}
		prev = mark
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return prev, nil
}

// parseMarkLine extracts the mark from a ": <mark> <sha>" line. ok is
// false for anything that isn't at least well-formed enough to carry a
// positive integer mark -- callers distinguish "well-formed but out of
// sequence" (a normal resume boundary) from "not well-formed at all"
// (corruption) by checking ok first.
func parseMarkLine(line string) (mark int, ok bool) {
	if len(line) == 0 || line[0] != ':' {
		return 0, false
	}
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[1:sp])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
