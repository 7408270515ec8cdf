package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeText lower-cases s, drops everything but ASCII letters, digits and
// whitespace, and collapses whitespace runs to one space.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonAlnumPattern.ReplaceAllString(s, "")
	return whitespacePattern.ReplaceAllString(s, " ")
}

// DeviceKey is the device correlation key shared by every record of a device.
func DeviceKey(deviceName string) string {
	return "dev_" + HashText(strings.ToLower(deviceName))
}

func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// sanitizeText removes NUL bytes and truncates to max runes (0 = no limit).
func sanitizeText(s string, max int) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}
