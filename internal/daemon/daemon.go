// Package daemon implements the supervisor's pre-flight bootstrap:
// pidfile locking, hostname file, log rotation, a profiling session,
// dropping to the configured master.uname/master.gname identity, and a
// process-wide once-guard for the case where the agent is started as a
// library entry point instead of a standalone daemon.
package daemon

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
)

// Options carries the CLI-flag-driven bootstrap knobs.
type Options struct {
	PIDFile       string
	HostnameFile  string
	RotateLog     bool
	ProfileOutput string
	LogPath       string
	SingleShot    bool
	// UName and GName name the unprivileged user/group the process
	// drops to once privileged startup (pidfile, hostname file, log
	// rotation) is done, from the master.uname/master.gname config
	// options. Empty strings skip the drop entirely.
	UName string
	GName string
}

// Bootstrap performs the daemonization pre-flight in the order the
// supervisor's step 0 requires: pidfile lock, hostname file, log
// rotation, stderr capture. It returns a Handle whose Close releases
// the pidfile and stops any running profile; callers must defer it.
func Bootstrap(opts Options) (*Handle, error) {
	h := &Handle{opts: opts}
	if opts.PIDFile != "" {
		if err := h.acquirePIDFile(); err != nil {
			return nil, err
		}
	}
	if opts.HostnameFile != "" {
		if err := writeHostnameFile(opts.HostnameFile); err != nil {
			h.Close()
			return nil, err
		}
	}
	if opts.RotateLog && opts.LogPath != "" {
		if err := rotateLogFile(opts.LogPath); err != nil {
			h.Close()
			return nil, err
		}
	}
	if !opts.SingleShot {
		// Daemon mode: fold stderr into the same structured log stream
		// so third-party libraries writing directly to stderr still
		// land in the operator-visible log.
		if err := h.captureStderr(opts.LogPath); err != nil {
			h.Close()
			return nil, err
		}
	}
	if opts.ProfileOutput != "" {
		if err := h.startProfile(opts.ProfileOutput); err != nil {
			h.Close()
			return nil, err
		}
	}
	if !opts.SingleShot {
		// Drop privileges only for a real daemon run, once every
		// privileged startup step (pidfile, hostname file, log
		// rotation) has finished; single-shot test/profiling runs keep
		// the invoking user's identity.
		if err := dropPrivileges(opts.UName, opts.GName); err != nil {
			h.Close()
			return nil, err
		}
	}
	return h, nil
}

// dropPrivileges resolves uname/gname to numeric ids and calls
// setgid/setuid, in that order: the group must be dropped while the
// process still has the privilege to change it, before giving up the
// user id that grants that privilege. Either name left empty skips its
// half of the drop.
func dropPrivileges(uname, gname string) error {
	if gname != "" {
		g, err := user.LookupGroup(gname)
		if err != nil {
			return fmt.Errorf("daemon: lookup group %s: %w", gname, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("daemon: parse gid for group %s: %w", gname, err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("daemon: setgid %d: %w", gid, err)
		}
	}
	if uname != "" {
		u, err := user.Lookup(uname)
		if err != nil {
			return fmt.Errorf("daemon: lookup user %s: %w", uname, err)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("daemon: parse uid for user %s: %w", uname, err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("daemon: setuid %d: %w", uid, err)
		}
	}
	return nil
}

// Handle tracks the resources Bootstrap acquired so Close can release
// them during shutdown.
type Handle struct {
	opts        Options
	pidFile     *os.File
	profileFile *os.File
	stderrFile  *os.File
	origStderr  *os.File
}

// Close releases the pidfile lock and stops any running CPU profile,
// flushing it to ProfileOutput. Safe to call more than once.
func (h *Handle) Close() {
	if h.profileFile != nil {
		pprof.StopCPUProfile()
		_ = h.profileFile.Close()
		h.profileFile = nil
	}
	if h.pidFile != nil {
		_ = os.Remove(h.opts.PIDFile)
		_ = h.pidFile.Close()
		h.pidFile = nil
	}
	if h.stderrFile != nil {
		os.Stderr = h.origStderr
		_ = h.stderrFile.Close()
		h.stderrFile = nil
	}
}

// acquirePIDFile fails with a contention error if another process's
// pid is already recorded and that pid is alive; otherwise it writes
// this process's pid. Contention is a startup failure and exits
// non-zero.
func (h *Handle) acquirePIDFile() error {
	if data, err := os.ReadFile(h.opts.PIDFile); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("daemon: pidfile %s held by running pid %d", h.opts.PIDFile, pid)
		}
	}
	f, err := os.Create(h.opts.PIDFile)
	if err != nil {
		return fmt.Errorf("daemon: create pidfile: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		return fmt.Errorf("daemon: write pidfile: %w", err)
	}
	h.pidFile = f
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without affecting the target; on POSIX
	// this is the standard liveness check.
	return proc.Signal(syscall.Signal(0)) == nil
}

func writeHostnameFile(path string) error {
	host, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("daemon: resolve hostname: %w", err)
	}
	if err := os.WriteFile(path, []byte(host+"\n"), 0o644); err != nil {
		return fmt.Errorf("daemon: write hostname file: %w", err)
	}
	return nil
}

// rotateLogFile implements --rotate_log: it truncates the log file at
// path in place and points the standard logger at a fresh handle on it.
// Handles opened on the file earlier keep writing to the same, now
// truncated, file. It runs once at startup; no rotation library is
// pulled in.
func rotateLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("daemon: rotate log: %w", err)
	}
	log.SetOutput(f)
	return nil
}

// captureStderr reopens os.Stderr onto the same file the logger writes
// to, so third-party libraries that write straight to stderr still
// land in the structured log stream during daemon mode.
func (h *Handle) captureStderr(logPath string) error {
	if logPath == "" {
		return nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("daemon: capture stderr: %w", err)
	}
	h.origStderr = os.Stderr
	os.Stderr = f
	h.stderrFile = f
	return nil
}

func (h *Handle) startProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("daemon: create profile output: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("daemon: start cpu profile: %w", err)
	}
	h.profileFile = f
	return nil
}
