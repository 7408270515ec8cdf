package ingest

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNotArchive is returned when a file cannot be read as a zip archive.
var ErrNotArchive = errors.New("not a readable zip archive")

// ArchiveEntry is one entry of an archive as enumerated by the reader.
type ArchiveEntry struct {
	Path  string
	Size  uint64
	IsDir bool

	open func() (io.ReadCloser, error)
}

// NewArchiveEntry builds an entry whose content is served by open.
func NewArchiveEntry(p string, size uint64, isDir bool, open func() (io.ReadCloser, error)) ArchiveEntry {
	return ArchiveEntry{Path: p, Size: size, IsDir: isDir, open: open}
}

// Segments splits the entry path on "/" and drops empty segments.
func (e ArchiveEntry) Segments() []string {
	return splitPath(e.Path)
}

func (e ArchiveEntry) Base() string {
	return path.Base(strings.TrimRight(e.Path, "/"))
}

func (e ArchiveEntry) Open() (io.ReadCloser, error) {
	if e.IsDir {
		return nil, errors.Errorf("%s is a directory", e.Path)
	}
	if e.open == nil {
		return nil, errors.Errorf("%s has no content accessor", e.Path)
	}
	return e.open()
}

// ReadText reads at most maxBytes of the entry and decodes it to a string.
// A UTF-8 or UTF-16 byte order mark selects the encoding; anything else is
// decoded as UTF-8 with invalid sequences replaced. NUL bytes are removed.
func (e ArchiveEntry) ReadText(maxBytes int64) (string, error) {
	rc, err := e.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes)
	}
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	b, err := io.ReadAll(transform.NewReader(r, dec))
	if err != nil {
		return "", errors.Wrapf(err, "read %s", e.Path)
	}
	return strings.ReplaceAll(string(b), "\x00", ""), nil
}

func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Archive is an opened archive file with its entries in enumeration order.
type Archive struct {
	Entries []ArchiveEntry
	closer  io.Closer
}

func (a *Archive) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// OpenZipArchive opens the zip file at p on fsys.
func OpenZipArchive(fsys afero.Fs, p string) (*Archive, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %s", p)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(ErrNotArchive, "%s: %v", p, err)
	}

	entries := make([]ArchiveEntry, 0, len(zr.File))
	for _, zf := range zr.File {
		zf := zf
		entries = append(entries, ArchiveEntry{
			Path:  zf.Name,
			Size:  zf.UncompressedSize64,
			IsDir: zf.FileInfo().IsDir(),
			open:  zf.Open,
		})
	}
	return &Archive{Entries: entries, closer: f}, nil
}

// HashFile streams the file through SHA-256 and returns the hex digest and
// the number of bytes read.
func HashFile(fsys afero.Fs, p string) (string, int64, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", 0, errors.Wrapf(err, "open %s", p)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, errors.Wrapf(err, "hash %s", p)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
