package ingest

import "strings"

var (
	systemFileNames = map[string]struct{}{
		"system.txt":          {},
		"systeminfo.txt":      {},
		"information.txt":     {},
		"userinformation.txt": {},
	}
	softwareFileNames = map[string]struct{}{
		"software.txt":          {},
		"installedsoftware.txt": {},
		"installedprograms.txt": {},
		"programslist.txt":      {},
	}
	passwordFileNames = map[string]struct{}{
		"all passwords.txt":     {},
		"all_passwords.txt":     {},
		"passwords.txt":         {},
		"allpasswords_list.txt": {},
		"_allpasswords_list":    {},
	}
	credentialJSONNames = map[string]struct{}{
		"credentials.json": {},
		"passwords.json":   {},
	}
)

type fileKind int

const (
	kindOther fileKind = iota
	kindSystem
	kindSoftware
	kindPasswords
	kindCredentialJSON
)

func classifyFile(base string) fileKind {
	name := strings.ToLower(base)
	if _, ok := systemFileNames[name]; ok {
		return kindSystem
	}
	if _, ok := softwareFileNames[name]; ok {
		return kindSoftware
	}
	if _, ok := passwordFileNames[name]; ok {
		return kindPasswords
	}
	if _, ok := credentialJSONNames[name]; ok {
		return kindCredentialJSON
	}
	return kindOther
}
