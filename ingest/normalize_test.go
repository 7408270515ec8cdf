package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "redline stealer v2", NormalizeText("RedLine Stealer\t v2!"))
	assert.Equal(t, "lumma c2", NormalizeText("LUMMA   C2"))
	assert.Equal(t, "", NormalizeText("***"))
}

func TestDeviceKey(t *testing.T) {
	k1 := DeviceKey("DESKTOP-1[US]")
	k2 := DeviceKey("desktop-1[us]")

	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "dev_"))
	assert.Len(t, k1, len("dev_")+64)
	assert.NotEqual(t, k1, DeviceKey("DESKTOP-2[US]"))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "abc", sanitizeText("a\x00b\x00c", 0))
	assert.Equal(t, "ab", sanitizeText("abc", 2))
	assert.Equal(t, "日本", sanitizeText("日本語", 2))
	assert.Equal(t, "", sanitizeText("", 5))
}
