// Package lockfile keeps two TripPipe processes from sharing one state directory.
//
// The lock is an flock on a file in the state directory, so the kernel drops it when the
// process exits, cleanly or not. The file records the owner so a conflicting start can say
// who holds it.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "trippipe.lock"

// ErrLocked is wrapped by the error returned when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another process")

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
	Addr    string
}

// Running reports whether the owning process still exists.
func (o Owner) Running() bool {
	if o.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(o.PID)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

func (o Owner) String() string {
	if o.PID <= 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if o.Running() {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if !o.Started.IsZero() {
		s += ", started " + o.Started.Format(time.RFC3339)
	}
	if o.Addr != "" {
		s += ", serving " + o.Addr
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on stateDir, creating the directory if needed. addr is
// recorded in the lock file to help identify the owner and may be empty.
func Acquire(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.Acquire: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner, _ := ReadOwner(lockPath)
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", lockPath, "owner", owner.String(), "error", err)
		return nil, &LockError{Path: lockPath, Owner: owner, Cause: err}
	}

	// Truncate only after the lock is held.
	if err := writeOwner(file, Owner{PID: os.Getpid(), Started: time.Now().UTC(), Addr: addr}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	l.file = nil
	if err := errors.Join(errs...); err != nil {
		slog.Error("Lock.Release: failed", "lock_path", l.path, "error", err)
		return err
	}
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError is returned when another process holds the lock.
type LockError struct {
	Path  string
	Owner Owner
	Cause error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another TripPipe instance is using this state directory (lock file %s, held by %s); "+
		"if no other instance is running, remove the lock file and restart", e.Path, e.Owner)
}

// Unwrap exposes ErrLocked and the underlying flock error.
func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\n", o.PID, o.Started.Format(time.RFC3339))
	if o.Addr != "" {
		content += "addr=" + o.Addr + "\n"
	}
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// ReadOwner parses the owner recorded in a lock file. Unknown keys and malformed values are ignored.
func ReadOwner(path string) (Owner, error) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, err
	}
	defer f.Close()
	return parseOwner(bufio.NewScanner(f)), nil
}

func parseOwner(sc *bufio.Scanner) Owner {
	var o Owner
	for sc.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				o.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.Started = t
			}
		case "addr":
			o.Addr = value
		}
	}
	return o
}
