package ingest

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// CredentialEntry is one harvested login.
type CredentialEntry struct {
	URL      string
	Domain   string
	TLD      string
	Username string
	Password string
	Browser  string
}

var (
	credURLKeys      = []string{"url:", "host:", "hostname:"}
	credUserKeys     = []string{"username:", "user:", "login:"}
	credPasswordKeys = []string{"password:", "pass:"}
	credBrowserKeys  = []string{"browser:", "soft:", "application:"}

	schemePattern = regexp.MustCompile(`(?i)^https?://`)
	ipv4Pattern   = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

// ParseCredentialBlocks parses a stealer password dump: blocks of
// "Key: value" lines separated by blank lines. Blocks without url, username
// and password are ignored.
func ParseCredentialBlocks(content string) []CredentialEntry {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var out []CredentialEntry
	var cur CredentialEntry
	flush := func() {
		if cur.URL != "" && cur.Username != "" && cur.Password != "" {
			out = append(out, newCredential(cur.URL, cur.Username, cur.Password, cur.Browser))
		}
		cur = CredentialEntry{}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		lower := strings.ToLower(line)
		switch {
		case containsAny(lower, credURLKeys):
			cur.URL = valueAfterColon(line)
		case containsAny(lower, credUserKeys):
			cur.Username = valueAfterColon(line)
		case containsAny(lower, credPasswordKeys):
			cur.Password = valueAfterColon(line)
		case containsAny(lower, credBrowserKeys):
			cur.Browser = valueAfterColon(line)
		}
	}
	flush()
	return out
}

// PasswordStats are line-level counts over a password dump. Unlike
// ParseCredentialBlocks they include lines of incomplete blocks.
type PasswordStats struct {
	Passwords int
	URLs      int
	// Domains counts url lines whose host is not an IPv4 address.
	Domains int
	// PasswordCounts is how often each password value occurs.
	PasswordCounts map[string]int
}

// CountPasswordStats tallies non-empty password and url lines.
func CountPasswordStats(content string) PasswordStats {
	st := PasswordStats{PasswordCounts: make(map[string]int)}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if containsAny(lower, credPasswordKeys) {
			if v := valueAfterColon(line); v != "" {
				st.Passwords++
				st.PasswordCounts[v]++
			}
		}
		if containsAny(lower, credURLKeys) {
			if v := valueAfterColon(line); v != "" {
				st.URLs++
				if !ipv4Pattern.MatchString(urlHost(v)) {
					st.Domains++
				}
			}
		}
	}
	return st
}

func (s *PasswordStats) add(o PasswordStats) {
	if s.PasswordCounts == nil {
		s.PasswordCounts = make(map[string]int)
	}
	s.Passwords += o.Passwords
	s.URLs += o.URLs
	s.Domains += o.Domains
	for pw, n := range o.PasswordCounts {
		s.PasswordCounts[pw] += n
	}
}

// ParseCredentialJSON passes through pre-parsed credentials: either a JSON
// array of objects or an object with a "credentials" array.
func ParseCredentialJSON(data []byte) []CredentialEntry {
	if !gjson.ValidBytes(data) {
		return nil
	}
	list := gjson.ParseBytes(data)
	if list.IsObject() {
		list = list.Get("credentials")
	}
	if !list.IsArray() {
		return nil
	}
	var out []CredentialEntry
	list.ForEach(func(_, item gjson.Result) bool {
		url := firstJSONString(item, "url", "host")
		user := firstJSONString(item, "username", "login")
		pass := firstJSONString(item, "password")
		if url == "" || user == "" || pass == "" {
			return true
		}
		out = append(out, newCredential(url, user, pass, firstJSONString(item, "browser", "software")))
		return true
	})
	return out
}

func firstJSONString(item gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(item.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

func newCredential(url, user, pass, browser string) CredentialEntry {
	domain, tld := urlDomain(url)
	return CredentialEntry{
		URL:      url,
		Domain:   domain,
		TLD:      tld,
		Username: user,
		Password: pass,
		Browser:  browser,
	}
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func valueAfterColon(line string) string {
	if _, v, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(line)
}

func urlHost(raw string) string {
	s := schemePattern.ReplaceAllString(strings.TrimSpace(raw), "")
	s, _, _ = strings.Cut(s, "/")
	s, _, _ = strings.Cut(s, ":")
	return strings.ToLower(s)
}

// urlDomain derives the registrable-looking domain (last two labels) and TLD.
// IPv4 hosts have no TLD.
func urlDomain(raw string) (string, string) {
	host := strings.TrimPrefix(urlHost(raw), "www.")
	if host == "" {
		return "", ""
	}
	if ipv4Pattern.MatchString(host) {
		return host, ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host, ""
	}
	return strings.Join(labels[len(labels)-2:], "."), labels[len(labels)-1]
}
