package ingest

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type StructureType string

const (
	// StructureDirect: every top-level folder is a device, or the archive is
	// a single device folder.
	StructureDirect StructureType = "direct"
	// StructurePreDirectory: one wrapper folder holding one folder per device.
	StructurePreDirectory StructureType = "pre-directory"
	// StructureNested: no confident layout; devices fall back to top-level names.
	StructureNested StructureType = "nested"
)

// directDeviceThreshold is the number of filtered top-level names above which
// an archive is taken to hold one device per top-level folder.
const directDeviceThreshold = 10

const macOSMetadataDir = "__MACOSX"

var systemNames = map[string]struct{}{
	macOSMetadataDir:            {},
	".DS_Store":                 {},
	"Thumbs.db":                 {},
	".Trashes":                  {},
	".fseventsd":                {},
	".Spotlight-V100":           {},
	".TemporaryItems":           {},
	"System Volume Information": {},
}

// isNoiseName reports whether a path segment is platform metadata or hidden.
func isNoiseName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := systemNames[name]
	return ok
}

// StructureInfo describes how devices are laid out inside one archive.
// It is computed once per archive and not modified afterwards.
type StructureInfo struct {
	Type                  StructureType
	HasPreDirectory       bool
	PreDirectoryName      string
	DeviceLevel           int
	PlatformNoiseDetected bool
	FilteredTopLevelNames []string
	SamplePaths           []string
}

// AnalyzeStructure classifies the device layout of an archive from its
// entries. Only file entries take part in the decision.
func AnalyzeStructure(entries []ArchiveEntry, log logrus.FieldLogger) StructureInfo {
	if log == nil {
		log = NewNopLogger()
	}

	var files [][]string
	var samples []string
	topLevel := make(map[string]struct{})
	hasChildren := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		parts := e.Segments()
		if len(parts) == 0 {
			continue
		}
		if len(samples) < 10 {
			samples = append(samples, e.Path)
		}
		files = append(files, parts)
		topLevel[parts[0]] = struct{}{}
		if len(parts) > 1 {
			hasChildren[parts[0]] = true
		}
	}

	_, macOS := topLevel[macOSMetadataDir]
	filtered := make([]string, 0, len(topLevel))
	for name := range topLevel {
		switch {
		case isNoiseName(name):
			log.WithField("name", name).Debug("filtering system item")
		case !hasChildren[name]:
			log.WithField("name", name).Debug("filtering top-level file")
		default:
			filtered = append(filtered, name)
		}
	}
	sort.Strings(filtered)

	info := StructureInfo{
		Type:                  StructureNested,
		PlatformNoiseDetected: macOS,
		FilteredTopLevelNames: filtered,
		SamplePaths:           samples,
	}

	switch {
	case len(filtered) == 1:
		wrapper := filtered[0]
		children := make(map[string]struct{})
		for _, parts := range files {
			if len(parts) >= 2 && parts[0] == wrapper && !isNoiseName(parts[1]) {
				children[parts[1]] = struct{}{}
			}
		}
		if len(children) > 1 {
			info.Type = StructurePreDirectory
			info.HasPreDirectory = true
			info.PreDirectoryName = wrapper
			info.DeviceLevel = 1
		} else {
			info.Type = StructureDirect
		}
	case len(filtered) > directDeviceThreshold:
		info.Type = StructureDirect
	}

	log.WithFields(logrus.Fields{
		"files":          len(files),
		"structure":      info.Type,
		"top_level":      len(filtered),
		"pre_directory":  info.PreDirectoryName,
		"platform_noise": macOS,
	}).Debug("archive structure analyzed")
	return info
}

// DeviceName returns the device a path belongs to under info, or "" when the
// path belongs to no device.
func (info StructureInfo) DeviceName(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	for _, s := range segments {
		if isNoiseName(s) {
			return ""
		}
	}
	if info.HasPreDirectory && info.PreDirectoryName != "" {
		if len(segments) < 2 || segments[0] != info.PreDirectoryName {
			return ""
		}
		return segments[1]
	}
	return segments[0]
}
