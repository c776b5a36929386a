// Package packager builds the distributable archive of the extension.
//
// It reads the version from the manifest, zips the configured source
// directories plus the manifest, and publishes the result atomically as
// <prefix><version with dots replaced by underscores><extension>. Optionally
// it writes a YAML release description with the archive checksum next to it.
package packager
