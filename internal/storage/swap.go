package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

// replaceDir makes staged the new content of target. After it returns without
// error staged no longer exists. Readers of target observe either the old or the
// new directory where the platform supports an atomic exchange.
func replaceDir(staged, target string) error {
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return os.Rename(staged, target)
	}

	exchanged, err := exchangeDirs(staged, target)
	if err != nil {
		return err
	}
	if exchanged {
		// staged now holds the previous content
		removeLeftover(staged)
		return nil
	}
	return replaceDirByRename(staged, target)
}

// replaceDirByRename moves target aside, renames staged into place and removes
// the old content. There is a short window in which target does not exist.
func replaceDirByRename(staged, target string) error {
	trash := filepath.Join(filepath.Dir(staged), "old-"+uuid.NewString())
	if err := os.Rename(target, trash); err != nil {
		return fmt.Errorf("failed to move %s aside: %w", target, err)
	}
	if err := os.Rename(staged, target); err != nil {
		if rerr := os.Rename(trash, target); rerr != nil {
			return fmt.Errorf("failed to swap in %s (%v) and to restore previous content: %w", target, err, rerr)
		}
		return fmt.Errorf("failed to swap in %s: %w", target, err)
	}
	removeLeftover(trash)
	return nil
}

// removeLeftover deletes the previous content of a swapped directory. The new
// content is already live, so a failure only leaks disk space.
func removeLeftover(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("failed to remove replaced directory", "dir", dir, "error", err)
	}
}

// writeFileAtomic writes data to dir/name through a temp file in the same directory and a rename.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
