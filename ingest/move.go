package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// maxNameAttempts bounds the search for a free destination name.
const maxNameAttempts = 100

// MoveFileToDir moves srcPath into dstDir, creating dstDir if needed, and
// returns the destination path. A file already at the destination is never
// replaced: the moved file becomes "<name>-<tag><ext>" (tag defaults to the
// current time), then "<name>-<tag>-2<ext>" and so on.
func MoveFileToDir(fsys afero.Fs, srcPath, dstDir, tag string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", errors.New("dstDir is empty")
	}
	if err := fsys.MkdirAll(dstDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create destination dir")
	}
	dstPath, err := freeName(fsys, dstDir, filepath.Base(srcPath), tag)
	if err != nil {
		return "", err
	}
	if err := fsys.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}
	// rename fails across devices
	if err := copyFile(fsys, srcPath, dstPath); err != nil {
		return "", err
	}
	if err := fsys.Remove(srcPath); err != nil {
		return "", errors.Wrap(err, "remove source")
	}
	return dstPath, nil
}

// archiveTag is the collision suffix for a moved archive: a short content
// hash, so same-named archives with different bytes stay distinguishable.
func archiveTag(res *ArchiveResult) string {
	if res == nil || len(res.ContentHash) < 12 {
		return ""
	}
	return res.ContentHash[:12]
}

func freeName(fsys afero.Fs, dir, base, tag string) (string, error) {
	candidate := filepath.Join(dir, base)
	exists, err := afero.Exists(fsys, candidate)
	if err != nil {
		return "", err
	}
	if !exists {
		return candidate, nil
	}
	if tag == "" {
		tag = fmt.Sprint(time.Now().UnixNano())
	}
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	for i := 1; i <= maxNameAttempts; i++ {
		suffix := tag
		if i > 1 {
			suffix = fmt.Sprintf("%s-%d", tag, i)
		}
		candidate = filepath.Join(dir, name+"-"+suffix+ext)
		exists, err = afero.Exists(fsys, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.Errorf("no free name for %s in %s", base, dir)
}

// copyFile copies src to dst keeping its permission bits. A partial dst is
// removed on failure.
func copyFile(fsys afero.Fs, src, dst string) (err error) {
	in, err := fsys.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return errors.Wrap(err, "stat source")
	}
	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return errors.Wrap(err, "create destination")
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close destination")
		}
		if err != nil {
			_ = fsys.Remove(dst)
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "copy")
	}
	return nil
}
