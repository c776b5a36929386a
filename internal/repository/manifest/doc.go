// Package manifest reads the extension manifest from disk.
//
// FileRepository decodes manifest.json and returns the extension.Manifest the
// packager names its archive after. Read and decode failures are reported as
// ErrManifestRead and ErrManifestParse.
package manifest
