// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/Masterminds/vcs"
)

// gitInactivity is how long a git command may go without output before it
// is killed.
var gitInactivity = 2 * time.Minute

// monitoredCmd runs a command until it finishes, the context is canceled, or
// it has written nothing for longer than its inactivity timeout.
type monitoredCmd struct {
	cmd        *exec.Cmd
	inactivity time.Duration
	stdout     *activityBuffer
	stderr     *activityBuffer
}

func newMonitoredCmd(cmd *exec.Cmd, inactivity time.Duration) *monitoredCmd {
	c := &monitoredCmd{
		cmd:        cmd,
		inactivity: inactivity,
		stdout:     &activityBuffer{},
		stderr:     &activityBuffer{},
	}
	cmd.Stdout, cmd.Stderr = c.stdout, c.stderr
	// Children that inherited the pipes must not keep Wait from returning
	// after a kill.
	cmd.WaitDelay = time.Second
	return c
}

func (c *monitoredCmd) run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.cmd.Start(); err != nil {
		return err
	}
	started := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	tick := time.NewTicker(c.inactivity / 4)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			c.kill(done)
			return ctx.Err()
		case <-tick.C:
			last := c.stdout.lastActivity()
			if l := c.stderr.lastActivity(); l.After(last) {
				last = l
			}
			if last.IsZero() {
				last = started
			}
			if time.Since(last) > c.inactivity {
				c.kill(done)
				return &noProgressError{c.inactivity}
			}
		}
	}
}

// kill stops the process and waits for Wait to return, so the buffers are
// no longer written to.
func (c *monitoredCmd) kill(done <-chan error) {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	<-done
}

// combinedOutput returns stdout on success, and stderr with the error.
func (c *monitoredCmd) combinedOutput(ctx context.Context) ([]byte, error) {
	if err := c.run(ctx); err != nil {
		return c.stderr.Bytes(), err
	}
	return c.stdout.Bytes(), nil
}

// activityBuffer is a buffer that remembers when it was last written to.
type activityBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	last time.Time
}

func (b *activityBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = time.Now()
	return b.buf.Write(p)
}

func (b *activityBuffer) lastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *activityBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *activityBuffer) String() string {
	return string(b.Bytes())
}

type noProgressError struct {
	inactivity time.Duration
}

func (e *noProgressError) Error() string {
	return fmt.Sprintf("command killed after %s of no activity", e.inactivity)
}

func runFromCwd(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return newMonitoredCmd(exec.Command(cmd, args...), gitInactivity).combinedOutput(ctx)
}

func runFromRepoDir(ctx context.Context, repo vcs.Repo, cmd string, args ...string) ([]byte, error) {
	return newMonitoredCmd(repo.CmdFromDir(cmd, args...), gitInactivity).combinedOutput(ctx)
}
