package ingest

import (
	"archive/zip"
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type zipFile struct {
	name string
	body string
}

func buildZip(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		if !strings.HasSuffix(f.name, "/") {
			_, err = io.WriteString(w, f.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeZip(t *testing.T, fsys afero.Fs, p string, files ...zipFile) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(fsys, p, buildZip(t, files...), 0o644))
}

// entriesOf builds content-less entries; paths ending in "/" are directories.
func entriesOf(paths ...string) []ArchiveEntry {
	out := make([]ArchiveEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, NewArchiveEntry(p, 0, strings.HasSuffix(p, "/"), nil))
	}
	return out
}

func textEntry(p, body string) ArchiveEntry {
	return NewArchiveEntry(p, uint64(len(body)), false, func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	})
}

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := OpenDB("sqlite", filepath.Join(t.TempDir(), "ingest.db"), NewNopLogger())
	require.NoError(t, err)
	store := NewGormStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

const vidarSystemTxt = `Build: VidarStealer build 2
- Hostname: DESKTOP-1
- User: alice
- OS Version: Windows 10 Pro
- IP Address: 10.0.0.5
- Country: US
- Language: en-US
- Time: 12/01/2024 10:00:00 (sig:abcd1234)
- Anti Virus: Windows Defender
- HWID: ABC-123
`

const passwordsTxt = `URL: https://accounts.example.com/login
Username: alice@example.com
Password: hunter2
Browser: Chrome

URL: http://192.168.1.10:8080/admin
Username: admin
Password: admin
`

const softwareTxt = `1) Google Chrome - 120.0.6099.129
2) VLC media player 3.0.18
Visit http://example.com for info
Notepad++
`
