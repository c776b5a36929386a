package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes one packaging run.
type Config struct {
	// ManifestPath is the extension manifest the version is read from.
	ManifestPath string `yaml:"manifest"`
	// SourceDirs are archived recursively, in this order, relative to the working directory.
	SourceDirs []string `yaml:"source_dirs"`
	// OutputDir receives the archive.
	OutputDir string `yaml:"output_dir"`
	// ArchivePrefix precedes the version identifier in the archive name.
	ArchivePrefix string `yaml:"archive_prefix"`
	// ArchiveExtension follows the version identifier, including the dot.
	ArchiveExtension string `yaml:"archive_extension"`
	// Strict turns a missing source directory into an error.
	Strict bool `yaml:"strict"`
	// Reproducible pins member timestamps so identical inputs give identical bytes.
	Reproducible bool `yaml:"reproducible"`
	// Describe writes a YAML release description next to the archive.
	Describe bool `yaml:"describe"`
}

const (
	// DefaultConfigFilename is looked up in the working directory when no --config is given.
	DefaultConfigFilename = "webreader-packager.yaml"

	// DefaultManifestFilename is the extension manifest.
	DefaultManifestFilename = "manifest.json"

	// DefaultOutputDir is the parent of the extension checkout.
	DefaultOutputDir = ".."

	// DefaultArchivePrefix names the extension in the archive file name.
	DefaultArchivePrefix = "webReader-"

	// DefaultArchiveExtension is the Firefox add-on container extension.
	DefaultArchiveExtension = ".xpi"

	// DefaultFilePermissions is used for the configuration file.
	DefaultFilePermissions = 0o644

	header = "# webreader-packager configuration.\n" +
		"# Paths are relative to the directory the packager runs in.\n"
)

var (
	errConfigIsNotSet      = errors.New("configuration is not set")
	errManifestRequired    = errors.New("manifest path must be provided")
	errInvalidSourceDir    = errors.New("invalid source directory")
	errDuplicateSourceDir  = errors.New("duplicate source directory")
	errInvalidArchiveAffix = errors.New("archive prefix and extension must not contain path separators")

	// ErrConfigExists is returned by WriteDefault when the file is already present.
	ErrConfigExists = errors.New("configuration file already exists")
)

// DefaultSourceDirs returns the directories shipped in the extension package.
func DefaultSourceDirs() []string {
	return []string{"editor", "icons", "options", "popup", "scripts", "sidebar"}
}

// Default returns the configuration matching the extension's repository layout.
func Default() *Config {
	return &Config{
		ManifestPath:     DefaultManifestFilename,
		SourceDirs:       DefaultSourceDirs(),
		OutputDir:        DefaultOutputDir,
		ArchivePrefix:    DefaultArchivePrefix,
		ArchiveExtension: DefaultArchiveExtension,
	}
}

// Load reads the YAML file at path over Default and validates the result.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), append([]byte(header), data...), DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// WriteDefault saves Default to path. Without force an existing file is left alone.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultConfigFilename
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrConfigExists)
		}
	}

	return Save(path, Default())
}

// Validate checks cfg and fills empty optional fields with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.ManifestPath) == "" {
		return errManifestRequired
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	if cfg.ArchiveExtension != "" && !strings.HasPrefix(cfg.ArchiveExtension, ".") {
		cfg.ArchiveExtension = "." + cfg.ArchiveExtension
	}

	if strings.ContainsAny(cfg.ArchivePrefix+cfg.ArchiveExtension, `/\`) {
		return errInvalidArchiveAffix
	}

	seen := make([]string, 0, len(cfg.SourceDirs))

	for _, dir := range cfg.SourceDirs {
		cleaned := filepath.Clean(dir)

		switch {
		case strings.TrimSpace(dir) == "", cleaned == ".":
			return fmt.Errorf("%q: %w: must name a subdirectory", dir, errInvalidSourceDir)
		case filepath.IsAbs(cleaned), cleaned == "..", strings.HasPrefix(cleaned, ".."+string(filepath.Separator)):
			return fmt.Errorf("%q: %w: must stay inside the working directory", dir, errInvalidSourceDir)
		case slices.Contains(seen, cleaned):
			return fmt.Errorf("%q: %w", dir, errDuplicateSourceDir)
		}

		seen = append(seen, cleaned)
	}

	return nil
}
