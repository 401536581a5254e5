// Package filesystem provides the small set of filesystem operations the
// Configuration collaborator needs to populate a container's root before a
// group runs: creating directories, device nodes and symlinks under a
// fixed root, and copying files from one path under that root to another.
package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/elispeigel/invoker/pkg/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Mount is a struct representing a mount in the container's filesystem.
type Mount struct {
	Source string
	Target string
	FSType string
	Flags  uintptr
}

// Filesystem is an abstraction over a container's filesystem, rooted at
// Root. Every relative path passed to its methods is resolved against Root.
type Filesystem struct {
	Root   string
	Logger log.Logger
}

// NewFilesystem creates a new filesystem object for the given root
// directory, which must already exist.
func NewFilesystem(root string) (*Filesystem, error) {
	fileInfo, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("root directory does not exist: %s", root)
		}
		return nil, fmt.Errorf("stat root directory %s: %w", root, err)
	}
	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	return &Filesystem{Root: root, Logger: log.Nop()}, nil
}

// Mount mounts the given mount into the filesystem.
func (fs *Filesystem) Mount(mount *Mount) error {
	if err := syscall.Mount(mount.Source, filepath.Join(fs.Root, mount.Target), mount.FSType, mount.Flags, ""); err != nil {
		return fmt.Errorf("mount %s: %w", mount.Target, err)
	}
	return nil
}

// Unmount unmounts the given mount from the filesystem.
func (fs *Filesystem) Unmount(target string) error {
	if err := syscall.Unmount(filepath.Join(fs.Root, target), 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

// CreateDir creates a directory in the filesystem.
func (fs *Filesystem) CreateDir(path string) error {
	if err := os.MkdirAll(filepath.Join(fs.Root, path), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// RemoveDir removes a directory from the filesystem.
func (fs *Filesystem) RemoveDir(path string) error {
	if err := os.RemoveAll(filepath.Join(fs.Root, path)); err != nil {
		return fmt.Errorf("remove directory %s: %w", path, err)
	}
	return nil
}

// CreateFile creates a file in the filesystem.
func (fs *Filesystem) CreateFile(path string) (*os.File, error) {
	file, err := os.Create(filepath.Join(fs.Root, path))
	if err != nil {
		return nil, fmt.Errorf("create file %s: %w", path, err)
	}
	return file, nil
}

// RemoveFile removes a file from the filesystem.
func (fs *Filesystem) RemoveFile(path string) error {
	if err := os.Remove(filepath.Join(fs.Root, path)); err != nil {
		return fmt.Errorf("remove file %s: %w", path, err)
	}
	return nil
}

// CreateDevice creates a character device node at path with the given
// major/minor pair, used to populate /dev/null, /dev/zero, /dev/random and
// /dev/urandom in a fresh container root.
func (fs *Filesystem) CreateDevice(path string, major, minor uint32, mode os.FileMode) error {
	full := filepath.Join(fs.Root, path)
	dev := int(unix.Mkdev(major, minor))
	if err := unix.Mknod(full, uint32(mode)|unix.S_IFCHR, dev); err != nil {
		return fmt.Errorf("mknod %s: %w", path, err)
	}
	if err := os.Chmod(full, mode); err != nil {
		return fmt.Errorf("chmod device %s: %w", path, err)
	}
	return nil
}

// CreateSymlink creates a symlink at path pointing at target, used to
// populate /dev/fd and /dev/std{in,out,err}.
func (fs *Filesystem) CreateSymlink(target, path string) error {
	full := filepath.Join(fs.Root, path)
	if err := os.Symlink(target, full); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", path, target, err)
	}
	return nil
}

// CopyFile copies a file from src to dst in the filesystem.
func (fs *Filesystem) CopyFile(src string, dst string) error {
	srcPath := filepath.Join(fs.Root, src)
	dstPath := filepath.Join(fs.Root, dst)

	srcFile, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source file %s: %w", src, err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			fs.Logger.Error("failed to close source file", zap.String("src", src), zap.Error(err))
		}
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source file %s: %w", src, err)
	}
	if srcInfo.IsDir() {
		return fmt.Errorf("source is a directory: %s", src)
	}

	dstFile, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination file %s: %w", dst, err)
	}
	defer func() {
		if err := dstFile.Close(); err != nil {
			fs.Logger.Error("failed to close destination file", zap.String("dst", dst), zap.Error(err))
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// SetFileOwnership sets the ownership of a file in the filesystem.
func (fs *Filesystem) SetFileOwnership(path string, uid int, gid int) error {
	if err := os.Chown(filepath.Join(fs.Root, path), uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

// SetFilePermissions sets the permissions of a file in the filesystem.
func (fs *Filesystem) SetFilePermissions(path string, mode os.FileMode) error {
	if err := os.Chmod(filepath.Join(fs.Root, path), mode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// GetAbsolutePath returns the absolute path of the given path within the
// filesystem.
func (fs *Filesystem) GetAbsolutePath(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(fs.Root, path))
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %w", path, err)
	}
	return absPath, nil
}
