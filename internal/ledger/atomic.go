package ledger

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// AtomicFile is a temp file in the target's directory that replaces the
// target on Commit. Readers see either the old or the new content.
type AtomicFile struct {
	*os.File
	target string
	done   bool
}

// CreateAtomic opens a temp file next to target.
func CreateAtomic(target string) (*AtomicFile, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "atomic: create dir %s", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, eris.Wrapf(err, "atomic: create temp for %s", target)
	}
	return &AtomicFile{File: f, target: target}, nil
}

// Commit fsyncs the temp file and renames it over the target.
func (a *AtomicFile) Commit() error {
	if a.done {
		return eris.New("atomic: already finished")
	}
	a.done = true
	if err := a.Sync(); err != nil {
		a.discard()
		return eris.Wrap(err, "atomic: sync")
	}
	if err := a.Close(); err != nil {
		_ = os.Remove(a.Name())
		return eris.Wrap(err, "atomic: close")
	}
	if err := os.Chmod(a.Name(), 0o644); err != nil {
		_ = os.Remove(a.Name())
		return eris.Wrap(err, "atomic: chmod")
	}
	if err := os.Rename(a.Name(), a.target); err != nil {
		_ = os.Remove(a.Name())
		return eris.Wrapf(err, "atomic: rename onto %s", a.target)
	}
	return nil
}

// Abort removes the temp file and leaves the target untouched. It is a no-op
// after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.discard()
}

func (a *AtomicFile) discard() {
	_ = a.Close()
	_ = os.Remove(a.Name())
}
