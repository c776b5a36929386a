package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/CerolBrisingr/comic-sidebar/internal/archive"
	"github.com/CerolBrisingr/comic-sidebar/internal/config"
	"github.com/CerolBrisingr/comic-sidebar/internal/domain/extension"
	"github.com/CerolBrisingr/comic-sidebar/internal/logger"
	"github.com/CerolBrisingr/comic-sidebar/internal/repository/manifest"
)

// Options contains inputs for the packager entry point.
// Empty fields fall back to the configuration file, then to config.Default.
type Options struct {
	// ConfigPath is the YAML configuration. When empty, config.DefaultConfigFilename
	// is used if it exists.
	ConfigPath string
	// ManifestPath overrides the manifest location.
	ManifestPath string
	// OutputDir overrides the directory receiving the archive.
	OutputDir string
	// SourceDirs overrides the archived directories when non-nil.
	SourceDirs []string
	// Strict makes a missing source directory fatal.
	Strict bool
	// Reproducible pins member timestamps.
	Reproducible bool
	// Describe writes the release description.
	Describe bool
}

// Result describes a finished build.
type Result struct {
	// Manifest is the decoded extension manifest.
	Manifest *extension.Manifest
	// ArchivePath is where the archive was published.
	ArchivePath string
	// Members lists archive entries in stored order.
	Members []string
	// MissingDirs lists configured source directories that were not found.
	MissingDirs []string
	// Checksum is the DefaultChecksumFunction digest of the archive.
	Checksum []byte
	// DescriptionPath is set when a release description was written.
	DescriptionPath string
}

const (
	// ArchiveFileMode is applied to the published archive.
	ArchiveFileMode os.FileMode = 0o644

	// outputDirMode is used when the output directory has to be created.
	outputDirMode os.FileMode = 0o755
)

// Run resolves the configuration and builds the package in the working directory.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "webreader-packager")

	if opts == nil {
		opts = new(Options)
	}

	cfg, err := resolveConfig(ctx, opts)
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}

	result, err := Build(ctx, ".", cfg)
	if err != nil {
		return fmt.Errorf("build package: %w", err)
	}

	logSummary(ctx, result)

	return nil
}

// Build packages the extension found in workDir according to cfg.
// The manifest is read before anything is written, so a bad manifest never
// produces an archive. The archive replaces any previous file atomically.
func Build(ctx context.Context, workDir string, cfg *config.Config) (*Result, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	repo := manifest.NewFileRepository(filepath.Join(workDir, cfg.ManifestPath))

	m, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(resolveDir(workDir, cfg.OutputDir), m.ArchiveName(cfg.ArchivePrefix, cfg.ArchiveExtension))

	ctx = logger.WithKV(ctx, "version", m.Version)
	logger.InfoKV(ctx, "Packaging extension", "name", m.Name, "archive", target)

	result := &Result{
		Manifest:    m,
		ArchivePath: target,
	}

	data, err := assemble(ctx, workDir, cfg, result)
	if err != nil {
		return nil, err
	}

	if result.Checksum, err = Checksum(data); err != nil {
		return nil, err
	}

	if err = publish(ctx, target, data, result.Checksum); err != nil {
		return nil, err
	}

	// The archive is already published, so a missing description only warns.
	if cfg.Describe {
		if result.DescriptionPath, err = writeDescription(result); err != nil {
			logger.WarnKV(ctx, "Release description not written", "error", err)
		}
	}

	return result, nil
}

// assemble writes the source directories and the manifest into an in-memory archive.
func assemble(ctx context.Context, workDir string, cfg *config.Config, result *Result) ([]byte, error) {
	var buf bytes.Buffer

	options := []archive.Option{archive.WithBaseDir(workDir)}
	if cfg.Reproducible {
		options = append(options, archive.WithFixedTime(time.Time{}))
	}

	writer := archive.NewWriter(&buf, options...)

	// Close is idempotent; this only matters on early returns.
	defer func() {
		_ = writer.Close()
	}()

	for _, dir := range cfg.SourceDirs {
		added, err := writer.AddTree(ctx, dir)

		switch {
		case errors.Is(err, archive.ErrSourceMissing) && !cfg.Strict:
			logger.WarnKV(ctx, "Source directory not found, leaving it out of the archive", "dir", dir, "reason", err)
			result.MissingDirs = append(result.MissingDirs, dir)

			continue
		case err != nil:
			return nil, err
		}

		logger.DebugKV(ctx, "Added source directory", "dir", dir, "entries", added)
	}

	if err := writer.AddFile(ctx, cfg.ManifestPath, filepath.Base(cfg.ManifestPath)); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	result.Members = writer.Members()

	return buf.Bytes(), nil
}

// publish replaces target with data through go-update, which writes a
// sibling .new file, verifies the checksum and renames it into place.
func publish(ctx context.Context, target string, data, checksum []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), outputDirMode); err != nil {
		return fmt.Errorf("%w: create output directory: %w", archive.ErrArchiveWrite, err)
	}

	// go-update swaps an existing file, so a first build needs a placeholder.
	placeholder, err := ensureTarget(target)
	if err != nil {
		return fmt.Errorf("%w: %w", archive.ErrArchiveWrite, err)
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: ArchiveFileMode,
		Checksum:   checksum,
		Hash:       DefaultChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if placeholder {
			_ = os.Remove(target)
		}

		return fmt.Errorf("%w: publish %s: %w", archive.ErrArchiveWrite, target, err)
	}

	logger.DebugKV(ctx, "Published archive", "path", target, "bytes", len(data))

	return nil
}

// ensureTarget creates an empty target when none exists and reports whether it did.
func ensureTarget(target string) (bool, error) {
	file, err := os.OpenFile(filepath.Clean(target), os.O_WRONLY|os.O_CREATE|os.O_EXCL, ArchiveFileMode)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("create %s: %w", target, err)
	}

	if err = file.Close(); err != nil {
		return true, fmt.Errorf("close %s: %w", target, err)
	}

	return true, nil
}

// resolveDir returns dir relative to workDir unless it is absolute.
func resolveDir(workDir, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}

	return filepath.Join(workDir, dir)
}

// resolveConfig loads the configuration file and applies the option overrides.
func resolveConfig(ctx context.Context, opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	explicit := path != ""

	if !explicit {
		path = config.DefaultConfigFilename
	}

	cfg, err := config.Load(path)

	switch {
	case err == nil:
		logger.InfoKV(ctx, "Loaded configuration", "path", path)
	case !explicit && errors.Is(err, os.ErrNotExist):
		logger.Debug(ctx, "No configuration file, using defaults")

		cfg = config.Default()
	default:
		return nil, err
	}

	if opts.ManifestPath != "" {
		cfg.ManifestPath = opts.ManifestPath
	}

	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	if opts.SourceDirs != nil {
		cfg.SourceDirs = append([]string(nil), opts.SourceDirs...)
	}

	cfg.Strict = cfg.Strict || opts.Strict
	cfg.Reproducible = cfg.Reproducible || opts.Reproducible
	cfg.Describe = cfg.Describe || opts.Describe

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// logSummary reports what ended up in the archive.
func logSummary(ctx context.Context, result *Result) {
	kvs := []any{
		"archive", result.ArchivePath,
		"members", len(result.Members),
	}

	if len(result.MissingDirs) > 0 {
		kvs = append(kvs, "missing_dirs", result.MissingDirs)
	}

	if result.DescriptionPath != "" {
		kvs = append(kvs, "description", result.DescriptionPath)
	}

	logger.InfoKV(ctx, "Package created", kvs...)
}
