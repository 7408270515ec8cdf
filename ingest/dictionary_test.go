package ingest

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStealerDictionary_LongestMatchWins(t *testing.T) {
	d := NewStealerDictionary([]string{"Vidar", "VidarStealer"})

	assert.Equal(t, "VidarStealer", d.Identify("VidarStealer build 2"))
	assert.Equal(t, "Vidar", d.Identify("vidar v1"))
}

func TestStealerDictionary_NormalizedMatch(t *testing.T) {
	d := NewStealerDictionary([]string{"Lumma C2", "Atomic-Stealer"})

	assert.Equal(t, "Lumma C2", d.Identify("LUMMA   C2 (build 4)"))
	assert.Equal(t, "Atomic-Stealer", d.Identify("build: atomic_stealer"))
}

func TestStealerDictionary_KeepsOriginalCasing(t *testing.T) {
	d := NewStealerDictionary([]string{"MetaStealer", "metastealer", "  "})

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, "MetaStealer", d.Identify("METASTEALER"))
}

func TestStealerDictionary_Unknown(t *testing.T) {
	d := NewStealerDictionary([]string{"Raccoon"})

	assert.Equal(t, UnknownStealer, d.Identify("nothing to see"))
	assert.Equal(t, UnknownStealer, d.Identify(""))

	var empty *StealerDictionary
	assert.Equal(t, UnknownStealer, empty.Identify("Raccoon"))
}

func TestLoadStealerDictionary(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/etc/stealers.txt", []byte("# families\nRedLine\n\n  Vidar  \nRedline\n"), 0o644))

	d, err := LoadStealerDictionary(fsys, "/etc/stealers.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "RedLine", d.Identify("redline stealer"))
}

func TestLoadStealerDictionary_Empty(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/empty.txt", []byte("# nothing\n\n"), 0o644))

	d, err := LoadStealerDictionary(fsys, "/empty.txt")
	assert.True(t, errors.Is(err, ErrEmptyDictionary))
	require.NotNil(t, d)
	assert.Equal(t, UnknownStealer, d.Identify("RedLine"))
}

func TestLoadStealerDictionary_Missing(t *testing.T) {
	_, err := LoadStealerDictionary(afero.NewMemMapFs(), "/nope.txt")
	assert.Error(t, err)
}
