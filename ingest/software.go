package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SoftwareEntry is one installed program. Name is never empty.
type SoftwareEntry struct {
	Name    string
	Version string
}

const maxSoftwareLineLength = 120

var (
	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)https?://`),
		regexp.MustCompile(`(?i)www\.`),
		regexp.MustCompile(`(?i)\.(com|me|org|net|io|gov|edu)\b`),
	}
	repeatedSpecialPattern = regexp.MustCompile(`___|===|\*\*\*|&&&|###|\$\$\$`)

	leadingSeparators  = regexp.MustCompile(`^[-_\s]+`)
	trailingSeparators = regexp.MustCompile(`[-_\s]+$`)
	numberingPrefix    = regexp.MustCompile(`^\d+\)\s*`)

	dashVersionPattern    = regexp.MustCompile(`^(.+?)\s*-\s*(.+)$`)
	parenVersionPattern   = regexp.MustCompile(`^(.+?)\s*\(([^)]+)\)$`)
	trailingVPattern      = regexp.MustCompile(`(?i)^(.+?)\s+(v?\d+\.\d+(?:\.\d+)?(?:[-\w]+)?)$`)
	trailingWordPattern   = regexp.MustCompile(`(?i)^(.+?)\s+(?:version\s+)?(\d+\.\d+(?:\.\d+)?(?:[-\w]+)?)$`)
	bracketVersionPattern = regexp.MustCompile(`^(.+?)\s*\[([^\]]+)\]$`)

	// highest priority first
	versionSubstrings = []*regexp.Regexp{
		regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`),
		regexp.MustCompile(`\d+\.\d+\.\d+`),
		regexp.MustCompile(`\d+\.\d+`),
		regexp.MustCompile(`v\d+\.\d+\.\d+`),
		regexp.MustCompile(`v\d+\.\d+`),
		regexp.MustCompile(`\d{4}`),
	}
)

// softwareMatcher tries to split a cleaned line into name and version.
type softwareMatcher func(line string) (name, version string, ok bool)

var softwareMatchers = []softwareMatcher{
	matchWithVersionPart(dashVersionPattern),
	matchWithVersionPart(parenVersionPattern),
	matchVerbatimVersion(trailingVPattern),
	matchVerbatimVersion(trailingWordPattern),
	matchWithVersionPart(bracketVersionPattern),
}

// ExtractSoftware parses an installed-software listing in line order.
// Duplicate lines yield duplicate entries.
func ExtractSoftware(content string) []SoftwareEntry {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var out []SoftwareEntry
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNoiseSoftwareLine(line) {
			continue
		}
		if entry, ok := parseSoftwareLine(line); ok {
			out = append(out, entry)
		}
	}
	return out
}

func isNoiseSoftwareLine(line string) bool {
	if strings.Contains(line, "   ") {
		return true
	}
	for _, re := range urlPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	if repeatedSpecialPattern.MatchString(line) {
		return true
	}
	if utf8.RuneCountInString(line) > maxSoftwareLineLength {
		return true
	}
	return hasRepeatedDigit(line, 4)
}

// hasRepeatedDigit reports whether s holds the same digit n or more times in a row.
func hasRepeatedDigit(s string, n int) bool {
	run := 0
	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			run = 0
			continue
		}
		if run > 0 && c == prev {
			run++
		} else {
			run = 1
		}
		prev = c
		if run >= n {
			return true
		}
	}
	return false
}

func cleanSoftwareLine(line string) string {
	s := strings.TrimSpace(line)
	s = leadingSeparators.ReplaceAllString(s, "")
	s = numberingPrefix.ReplaceAllString(s, "")
	// separators may follow the numbering: "3) -- Name"
	s = leadingSeparators.ReplaceAllString(s, "")
	s = trailingSeparators.ReplaceAllString(s, "")
	return s
}

func parseSoftwareLine(line string) (SoftwareEntry, bool) {
	clean := cleanSoftwareLine(line)
	if clean == "" {
		return SoftwareEntry{}, false
	}
	for _, m := range softwareMatchers {
		if name, version, ok := m(clean); ok {
			return SoftwareEntry{Name: name, Version: version}, true
		}
	}
	return SoftwareEntry{Name: clean}, true
}

// matchWithVersionPart accepts a match only when its second group holds a
// recognizable version number.
func matchWithVersionPart(re *regexp.Regexp) softwareMatcher {
	return func(line string) (string, string, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return "", "", false
		}
		name := strings.TrimSpace(m[1])
		version := extractVersion(strings.TrimSpace(m[2]))
		if name == "" || version == "" {
			return "", "", false
		}
		return name, version, true
	}
}

func matchVerbatimVersion(re *regexp.Regexp) softwareMatcher {
	return func(line string) (string, string, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return "", "", false
		}
		name := strings.TrimSpace(m[1])
		if name == "" {
			return "", "", false
		}
		return name, strings.TrimSpace(m[2]), true
	}
}

func extractVersion(s string) string {
	for _, re := range versionSubstrings {
		if v := re.FindString(s); v != "" {
			return v
		}
	}
	return ""
}
