package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/elispeigel/invoker/internal/container/filesystem"
)

// DeviceSpec is one character device node the default filesystem
// population creates, keyed by major/minor pair per §6.
type DeviceSpec struct {
	Path  string
	Major uint32
	Minor uint32
	Mode  os.FileMode
}

// SymlinkSpec is one symlink the default filesystem population creates.
type SymlinkSpec struct {
	Path   string
	Target string
}

// DefaultFilesystemPopulation returns the device and symlink table §6
// names verbatim: /dev/{null,zero,random,urandom,full} with their
// conventional major/minor pairs, plus /dev/fd and /dev/std{in,out,err}
// pointing into /proc. PopulateFilesystem applies this table; nothing
// checks a process's stream bindings against it.
func DefaultFilesystemPopulation() ([]DeviceSpec, []SymlinkSpec) {
	devices := []DeviceSpec{
		{Path: "/dev/null", Major: 1, Minor: 3, Mode: 0666},
		{Path: "/dev/zero", Major: 1, Minor: 5, Mode: 0666},
		{Path: "/dev/random", Major: 1, Minor: 8, Mode: 0666},
		{Path: "/dev/urandom", Major: 1, Minor: 9, Mode: 0666},
		{Path: "/dev/full", Major: 1, Minor: 7, Mode: 0666},
	}
	symlinks := []SymlinkSpec{
		{Path: "/dev/fd", Target: "/proc/fd"},
		{Path: "/dev/stdin", Target: "/proc/self/fd/0"},
		{Path: "/dev/stdout", Target: "/proc/self/fd/1"},
		{Path: "/dev/stderr", Target: "/proc/self/fd/2"},
	}
	return devices, symlinks
}

// PopulateFilesystem applies DefaultFilesystemPopulation to fs, relative to
// fs.Root, then mounts every entry in mounts (normally
// Settings.Namespace.Mounts) in order. Paths in the device/symlink table
// are absolute container paths (e.g. "/dev/null"); fs.CreateDevice/
// CreateSymlink already resolve relative to Root, so the leading slash is
// stripped first.
func PopulateFilesystem(fs *filesystem.Filesystem, mounts []filesystem.Mount) error {
	devices, symlinks := DefaultFilesystemPopulation()
	if err := fs.CreateDir("dev"); err != nil {
		abs, _ := fs.GetAbsolutePath("dev")
		return fmt.Errorf("populate filesystem at %s: %w", abs, err)
	}
	for _, d := range devices {
		if err := fs.CreateDevice(relPath(d.Path), d.Major, d.Minor, d.Mode); err != nil {
			return fmt.Errorf("populate filesystem: %w", err)
		}
		// Device nodes are always root:root regardless of the uid the
		// population step itself runs as.
		if err := fs.SetFileOwnership(relPath(d.Path), 0, 0); err != nil {
			return fmt.Errorf("populate filesystem: %w", err)
		}
	}
	for _, s := range symlinks {
		if err := fs.CreateSymlink(s.Target, relPath(s.Path)); err != nil {
			return fmt.Errorf("populate filesystem: %w", err)
		}
	}
	for i := range mounts {
		if err := fs.Mount(&mounts[i]); err != nil {
			return fmt.Errorf("populate filesystem: mount %s: %w", mounts[i].Target, err)
		}
	}
	return nil
}

// TeardownFilesystem unmounts every entry in mounts, in reverse of the
// order PopulateFilesystem mounted them, continuing past individual
// failures so one stuck mount cannot block the others from being
// released.
func TeardownFilesystem(fs *filesystem.Filesystem, mounts []filesystem.Mount) error {
	var firstErr error
	for i := len(mounts) - 1; i >= 0; i-- {
		if err := fs.Unmount(mounts[i].Target); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("teardown filesystem: unmount %s: %w", mounts[i].Target, err)
		}
	}
	return firstErr
}

func relPath(p string) string {
	return strings.TrimPrefix(p, "/")
}
