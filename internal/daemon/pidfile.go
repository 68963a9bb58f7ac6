// Package daemon tracks the background "audit serve" process so only one
// scheduler runs against a state directory at a time.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by Acquire when a live process holds the file.
var ErrAlreadyRunning = errors.New("already running")

// PIDFile records the PID of the running daemon.
type PIDFile struct {
	Path string
}

// NewPIDFile returns a PIDFile at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid, creating the parent directory if needed.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Acquire records the current process unless another live process already
// holds the file. The file is created exclusively, so of two processes
// starting together only one wins. A stale file left by a dead process is
// replaced.
func (p *PIDFile) Acquire() error {
	for attempt := 0; attempt < 3; attempt++ {
		err := p.create(os.Getpid())
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}

		pid, running := p.IsRunning()
		if running {
			if pid == os.Getpid() {
				return nil
			}
			return fmt.Errorf("scheduler %w (PID %d)", ErrAlreadyRunning, pid)
		}
		if err := p.removeIfStale(pid); err != nil {
			return err
		}
	}
	return fmt.Errorf("scheduler %w: PID file keeps changing", ErrAlreadyRunning)
}

// create writes pid to a temporary file and links it into place. The link
// fails with fs.ErrExist when the file is already present, and readers never
// see a partly written file.
func (p *PIDFile) create(pid int) error {
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.Path)+".*")
	if err != nil {
		return fmt.Errorf("create PID file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write PID file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	if err := os.Link(tmp.Name(), p.Path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
		return fmt.Errorf("create PID file: %w", err)
	}
	return nil
}

// removeIfStale deletes the file only if it still names the dead pid seen
// by the caller, so a file just written by a competing process survives.
func (p *PIDFile) removeIfStale(stale int) error {
	current, err := p.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && current != stale {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale PID file: %w", err)
	}
	return nil
}

// Release removes the file if it still names the current process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return p.Remove()
}
