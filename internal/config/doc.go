// Package config defines what the packager archives and where it puts the
// result, and loads, validates and saves those settings as YAML.
//
// Default returns the layout of the web reader extension: six source
// directories next to manifest.json, published as ../webReader-<v>.xpi.
package config
