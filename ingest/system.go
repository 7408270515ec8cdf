package ingest

import (
	"regexp"
	"strings"
)

// SystemRecord holds the fields extracted from a device's system-description
// file. Empty fields were not found.
type SystemRecord struct {
	StealerName   string
	Hostname      string
	ComputerName  string
	Username      string
	OSVersion     string
	IPAddress     string
	Country       string
	Language      string
	LocalDate     string
	InfectionTime string
	Antivirus     string
	HardwareID    string
}

var emptyFieldValues = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"none": {},
	"null": {},
	"-":    {},
}

var signatureSuffix = regexp.MustCompile(`\s*\(sig:.*\)\s*$`)

// ExtractSystemRecord parses a system-description text and fingerprints the
// stealer family against dict.
func ExtractSystemRecord(content string, dict *StealerDictionary) SystemRecord {
	lines := strings.Split(content, "\n")
	computer := extractField(lines, "Computer")
	rec := SystemRecord{
		StealerName:   dict.Identify(content),
		Hostname:      extractField(lines, "Hostname", "Computer", "NetBIOS"),
		ComputerName:  computer,
		Username:      extractField(lines, "User"),
		OSVersion:     extractField(lines, "OS Version"),
		IPAddress:     extractField(lines, "IP Address"),
		Country:       extractField(lines, "Country"),
		Language:      extractField(lines, "Language"),
		LocalDate:     extractField(lines, "Local Date"),
		InfectionTime: cleanInfectionTime(extractField(lines, "Time")),
		Antivirus:     extractField(lines, "Anti Virus"),
		HardwareID:    extractField(lines, "HWID"),
	}
	if rec.Hostname == "" {
		rec.Hostname = computer
	}
	return rec
}

// extractField returns the value of the first line carrying one of the
// labels as "<label>:". Placeholder values such as "N/A" do not count.
func extractField(lines []string, labels ...string) string {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, label := range labels {
			if !strings.Contains(line, label+":") {
				continue
			}
			_, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			if _, empty := emptyFieldValues[strings.ToLower(value)]; empty {
				continue
			}
			return value
		}
	}
	return ""
}

func cleanInfectionTime(v string) string {
	if v == "" {
		return v
	}
	return strings.TrimSpace(signatureSuffix.ReplaceAllString(v, ""))
}
