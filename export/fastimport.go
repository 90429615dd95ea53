/*
 * FastImportChannel: owns one fast-import child process, its stdin
 * writer, and its merged stdout/stderr sink. Grounded on
 * original_source/src/repository.cpp's use of QProcess (spawn,
 * checkpoint, close) and on surgeon/hgclient.go's pattern of driving a
 * long-lived child over pipes with exec.Cmd. Command-line construction
 * is logged through github.com/kballard/go-shellquote, the same
 * dependency the teacher module uses to render argv for diagnostics.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	shellquote "github.com/kballard/go-shellquote"
)

// gracefulShutdownWait is how long closeFastImport waits for a
// checkpointed child to exit on its own before killing it.
const gracefulShutdownWait = 2 * time.Second

// terminateWait is how long closeFastImport waits after killing the
// child before giving up and warning that it would not die.
const terminateWait = 200 * time.Millisecond

// fastImportChannel wraps the single child process a Repository
// serializes its fast-import stream to.
type fastImportChannel struct {
	vcsBinary  string
	workDir    string
	marksPath  string
	logPath    string
	dryRun     bool
	baton      *Baton
	repoLabel  string // for diagnostics only

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	logFile *os.File
	started bool // processHasStarted: true once spawn has been attempted
	running bool
}

func newFastImportChannel(cfg Config, workDir, marksPath, logPath string, baton *Baton, repoLabel string) *fastImportChannel {
	return &fastImportChannel{
		vcsBinary: cfg.vcsBinary(),
		workDir:   workDir,
		marksPath: marksPath,
		logPath:   logPath,
		dryRun:    cfg.DryRun,
		baton:     baton,
		repoLabel: repoLabel,
	}
}

// ensureStarted lazily spawns the child on first use, or after a
// previous closeFastImport(). It panics with classChildAlreadyCrashedOnce if
// asked to respawn a channel whose started flag is already set --
// this can only happen if the child exited (or was never actually
// running) without going through close(), which is the "crash loop"
// case spec.md §7 requires to be fatal.
func (ch *fastImportChannel) ensureStarted() (justSpawned bool, err error) {
	if ch.running {
		return false, nil
	}
	if ch.started {
		panic(throw(classChildAlreadyCrashedOnce,
			"%s: git-fast-import has been started once and crashed?", ch.repoLabel))
	}
	ch.started = true

	logFile, err := os.OpenFile(ch.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, err
	}
	ch.logFile = logFile

	if ch.dryRun {
		ch.stdin = discardWriteCloser{}
		ch.running = true
		return true, nil
	}

	args := []string{"fast-import",
		"--import-marks=" + ch.marksPath,
		"--export-marks=" + ch.marksPath,
		"--force"}
	cmd := exec.Command(ch.vcsBinary, args...)
	cmd.Dir = ch.workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	stdin, err := cmd.StdinPipe()
	if err != nil {
		logFile.Close()
		return false, err
	}
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return false, err
	}
	logit(LogCommands, "%s: spawned %s", ch.repoLabel, shellquote.Join(append([]string{ch.vcsBinary}, args...)...))

	ch.cmd = cmd
	ch.stdin = stdin
	ch.running = true
	return true, nil
}

// writeLogged writes p to the child and tees it to the diagnostic
// baton, for anything that isn't blob payload bytes.
func (ch *fastImportChannel) writeLogged(p []byte) error {
	if err := ch.writeRaw(p); err != nil {
		return err
	}
	if ch.baton != nil && LogEnable(LogCommands) {
		ch.baton.Write(p)
	}
	return nil
}

// writeRaw writes p to the child only, bypassing the tee -- used for
// blob payloads so binary data never hits the diagnostic log.
func (ch *fastImportChannel) writeRaw(p []byte) error {
	if _, err := ch.ensureStarted(); err != nil {
		panic(throw(classChildProcessDied, "%s: failed to start fast-import: %s", ch.repoLabel, err))
	}
	if _, err := ch.stdin.Write(p); err != nil {
		panic(throw(classChildProcessDied, "%s: failed to write to fast-import: %s", ch.repoLabel, err))
	}
	return nil
}

// checkpoint asks the child to flush its marks file to disk without
// exiting.
func (ch *fastImportChannel) checkpoint() {
	ch.writeLogged([]byte("checkpoint\n"))
}

// closeFastImport implements the shutdown protocol of spec.md §4.5:
// write checkpoint, close the write side, wait for exit; kill the
// child and wait briefly again if it doesn't exit on its own, warning
// if it's still alive after that. Safe to call more than
// once (ProcessCache eviction and a repository's own shutdown can both
// end up calling it).
func (ch *fastImportChannel) closeFastImport() {
	if !ch.running {
		return
	}
	ch.writeLogged([]byte("checkpoint\n"))
	ch.stdin.Close()

	if ch.cmd != nil {
		done := make(chan error, 1)
		go func() { done <- ch.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(gracefulShutdownWait):
			ch.cmd.Process.Kill()
			select {
			case <-done:
			case <-time.After(terminateWait):
				logit(LogWarn, "%s: fast-import did not die", ch.repoLabel)
			}
		}
	}
	if ch.logFile != nil {
		ch.logFile.Close()
	}
	ch.running = false
	ch.started = false
}

// reloadBranches re-establishes every branch tip after a respawn, by
// writing "reset <ref>\nfrom :<mark>\n" for every branch with recorded
// marks -- exactly original_source's Repository::reloadBranches.
// Called by Repository, which owns branch state; the channel itself
// only knows about bytes.
func (ch *fastImportChannel) reloadBranches(refs []string, marks []int, addMetadataNotes bool) {
	for i, ref := range refs {
		ch.writeLogged([]byte("reset " + ref + "\nfrom :" + strconv.Itoa(marks[i]) + "\n\n" +
			"progress Branch " + ref + " reloaded\n"))
	}
	if len(refs) > 0 && addMetadataNotes {
		ch.writeLogged([]byte("reset refs/notes/commits\nfrom :" + strconv.Itoa(NoteMark) + "\n"))
	}
}

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }
