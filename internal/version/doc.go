// Package version exposes build metadata of the webreader-packager binary.
//
// Version, Commit and BuildTime are injected through -ldflags -X at build
// time. This is the version of the tool itself, not of the extension it
// packages, which always comes from the extension manifest.
package version
