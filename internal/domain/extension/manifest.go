package extension

import "strings"

const (
	versionSeparator    = "."
	identifierSeparator = "_"
)

// Manifest holds the manifest fields the packager uses.
type Manifest struct {
	// Name is the human readable extension name. Optional.
	Name string
	// Version is the dot-delimited extension version, e.g. "1.2.3".
	Version string
}

// VersionIdentifier returns the manifest version made safe for file names.
func (m *Manifest) VersionIdentifier() string {
	return VersionIdentifier(m.Version)
}

// ArchiveName returns prefix + version identifier + extension.
func (m *Manifest) ArchiveName(prefix, extension string) string {
	return prefix + m.VersionIdentifier() + extension
}

// VersionIdentifier replaces every "." in version with "_".
func VersionIdentifier(version string) string {
	return strings.ReplaceAll(version, versionSeparator, identifierSeparator)
}
