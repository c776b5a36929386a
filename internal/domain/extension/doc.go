// Package extension contains the domain types of a packaged browser extension.
//
// Manifest carries the fields the packager reads from manifest.json and
// derives the version identifier used in the archive file name.
package extension
