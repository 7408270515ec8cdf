package ingest

import (
	"bufio"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// UnknownStealer is reported when no dictionary name occurs in the content.
const UnknownStealer = "Unknown"

// ErrEmptyDictionary is returned alongside a usable (empty) dictionary when
// the name list holds no names.
var ErrEmptyDictionary = errors.New("stealer dictionary has no names")

type stealerName struct {
	display    string
	lower      string
	normalized string
}

// StealerDictionary is the immutable set of known stealer family names.
// It is safe for concurrent use.
type StealerDictionary struct {
	// longest raw name first
	names []stealerName
}

// NewStealerDictionary builds a dictionary from names. Names are matched
// case-insensitively; the first spelling of a name is the one reported.
func NewStealerDictionary(names []string) *StealerDictionary {
	seen := make(map[string]struct{}, len(names))
	d := &StealerDictionary{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		lower := strings.ToLower(n)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		d.names = append(d.names, stealerName{
			display:    n,
			lower:      lower,
			normalized: strings.TrimSpace(NormalizeText(lower)),
		})
	}
	sort.SliceStable(d.names, func(i, j int) bool {
		return len(d.names[i].lower) > len(d.names[j].lower)
	})
	return d
}

// LoadStealerDictionary reads a newline-delimited name list. Blank lines and
// lines starting with '#' are ignored. A list without names yields an empty
// dictionary and ErrEmptyDictionary; every name then resolves to UnknownStealer.
func LoadStealerDictionary(fsys afero.Fs, p string) (*StealerDictionary, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, errors.Wrap(err, "open stealer dictionary")
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read stealer dictionary")
	}
	d := NewStealerDictionary(names)
	if d.Len() == 0 {
		return d, ErrEmptyDictionary
	}
	return d, nil
}

func (d *StealerDictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Match returns the longest dictionary name found in content, either
// verbatim (case-insensitive) or after normalization, and whether one matched.
func (d *StealerDictionary) Match(content string) (string, bool) {
	if d.Len() == 0 || content == "" {
		return "", false
	}
	lower := strings.ToLower(content)
	normalized := NormalizeText(lower)
	for _, n := range d.names {
		if strings.Contains(lower, n.lower) {
			return n.display, true
		}
		if n.normalized != "" && strings.Contains(normalized, n.normalized) {
			return n.display, true
		}
	}
	return "", false
}

// Identify is Match with the UnknownStealer fallback.
func (d *StealerDictionary) Identify(content string) string {
	if name, ok := d.Match(content); ok {
		return name
	}
	return UnknownStealer
}
