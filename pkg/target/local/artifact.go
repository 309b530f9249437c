package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sykli/engine/pkg/errors"
)

// CopyArtifact copies src to dest, creating dest's parent directories and
// resolving symlinks in that parent, and recursing into directories while
// preserving file mode bits. It does not check src or dest against a
// workdir: a path that leaves the workdir through a symlink or a ../
// segment is copied as written.
func (t *Target) CopyArtifact(ctx context.Context, src, dest string) error {
	destParent := filepath.Dir(dest)
	if err := os.MkdirAll(destParent, 0o755); err != nil {
		return errors.CopyFailed(src, dest, err)
	}

	realParent, err := filepath.EvalSymlinks(destParent)
	if err != nil {
		return errors.CopyFailed(src, dest, err)
	}
	resolvedDest := filepath.Join(realParent, filepath.Base(dest))
	if !strings.HasPrefix(resolvedDest, realParent+string(os.PathSeparator)) && resolvedDest != realParent {
		return errors.PathTraversal(dest)
	}

	info, err := os.Stat(src)
	if err != nil {
		return errors.CopyFailed(src, dest, err)
	}

	if info.IsDir() {
		if err := copyDir(src, dest); err != nil {
			return errors.CopyFailed(src, dest, err)
		}
		return nil
	}
	if err := copyFile(src, dest, info.Mode()); err != nil {
		return errors.CopyFailed(src, dest, err)
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func copyDir(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}
