package storage

import (
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes a segment file's data (and only the metadata needed to
// retrieve it) to stable storage after a page write, cheaper than
// f.Sync() because it skips flushing modtime/size metadata the WAL does
// not depend on for recovery.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// flockExclusive takes a non-blocking exclusive advisory lock on f, used to
// keep a second process from opening the same segment file concurrently.
func flockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		slog.Debug("storage.flockExclusive", "path", f.Name(), "err", err)
		return err
	}
	return nil
}
