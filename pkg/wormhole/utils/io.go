package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var errFileDone = errors.New("atomic file already committed or aborted")

// AtomicFile collects writes in a temporary file next to the target and
// renames it over the target on Commit. Readers of the target see either the
// old file or the complete new one.
type AtomicFile struct {
	path string
	tmp  *os.File
}

// NewAtomicFile starts a replacement of path, creating its directory if
// needed.
func NewAtomicFile(path string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicFile{path: path, tmp: tmp}, nil
}

func (af *AtomicFile) Write(p []byte) (int, error) {
	if af.tmp == nil {
		return 0, errFileDone
	}
	return af.tmp.Write(p)
}

// Commit syncs the data, renames it over the target and syncs the directory.
func (af *AtomicFile) Commit() error {
	if af.tmp == nil {
		return errFileDone
	}
	tmp := af.tmp
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	af.tmp = nil
	if err := os.Rename(tmp.Name(), af.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename to %s: %w", af.path, err)
	}
	return SyncDir(filepath.Dir(af.path))
}

// Abort discards the temporary file. It is a no-op after Commit.
func (af *AtomicFile) Abort() error {
	if af.tmp == nil {
		return nil
	}
	tmp := af.tmp
	af.tmp = nil
	tmp.Close()
	return os.Remove(tmp.Name())
}

// SyncDir fsyncs a directory so a rename inside it is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}

// PadToAlignment appends zero bytes until len(data) is a multiple of
// alignment.
func PadToAlignment(data []byte, alignment int) []byte {
	if alignment <= 0 {
		return data
	}
	if r := len(data) % alignment; r != 0 {
		data = append(data, make([]byte, alignment-r)...)
	}
	return data
}

// MemoryMap is a read-only shared mapping of a whole file.
type MemoryMap struct {
	data []byte
}

// MapFile maps path for sequential reading. Empty files map to an empty
// slice without a mapping.
func MapFile(path string) (*MemoryMap, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size == 0 {
		return &MemoryMap{data: []byte{}}, nil
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return &MemoryMap{data: data}, nil
}

// Data returns the mapped bytes. They stay valid until Close.
func (m *MemoryMap) Data() []byte {
	return m.data
}

// Close unmaps the file. Calling it again is a no-op.
func (m *MemoryMap) Close() error {
	if len(m.data) == 0 {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
