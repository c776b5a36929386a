package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/CerolBrisingr/comic-sidebar/internal/archive"
	"github.com/CerolBrisingr/comic-sidebar/internal/config"
	"github.com/CerolBrisingr/comic-sidebar/internal/logger"
	"github.com/CerolBrisingr/comic-sidebar/internal/repository/manifest"
)

// extensionFiles is a trimmed copy of the web reader checkout.
func extensionFiles() map[string]string {
	return map[string]string{
		"manifest.json":                     `{"name": "Web Reader", "version": "1.0"}`,
		"editor/editor.html":                "<html>editor</html>",
		"icons/icon-48.png":                 "png",
		"options/options.html":              "<html>options</html>",
		"popup/popup.html":                  "<html>popup</html>",
		"scripts/main_script.js":            "main();",
		"scripts/shared/reader_data.js":     "data();",
		"scripts/editor/schedule_editor.js": "schedule();",
		"sidebar/sidebar.html":              "<html>sidebar</html>",
		"spec/shared/urlSpec.js":            "describe();",
		"README.md":                         "# web reader",
		"build-package.py":                  "print()",
	}
}

// newCheckout writes files into <tmp>/webreader and returns that directory.
func newCheckout(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "webreader")

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return dir
}

// unpack returns member name -> content of the archive at path.
func unpack(t *testing.T, path string) map[string]string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, reader.Close())
	}()

	members := make(map[string]string, len(reader.File))

	for _, f := range reader.File {
		rc, err := f.Open()
		require.NoError(t, err)

		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		members[f.Name] = string(body)
	}

	return members
}

// observed returns a context logging into an observer.
func observed() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.ToContext(context.Background(), zap.New(core).Sugar()), logs
}

// TestBuild_DefaultLayout packages the checkout into ../webReader-1_0.xpi.
func TestBuild_DefaultLayout(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())

	result, err := Build(context.Background(), dir, config.Default())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(filepath.Dir(dir), "webReader-1_0.xpi"), result.ArchivePath)
	require.Empty(t, result.MissingDirs)
	require.Empty(t, result.DescriptionPath)

	members := unpack(t, result.ArchivePath)

	topLevel := make(map[string]struct{})
	for name := range members {
		topLevel[strings.SplitN(name, "/", 2)[0]] = struct{}{}
	}

	require.Equal(t, map[string]struct{}{
		"editor": {}, "icons": {}, "options": {}, "popup": {},
		"scripts": {}, "sidebar": {}, "manifest.json": {},
	}, topLevel)

	for name, content := range extensionFiles() {
		top := strings.SplitN(name, "/", 2)[0]
		if top == "spec" || top == "README.md" || top == "build-package.py" {
			require.NotContains(t, members, name)
			continue
		}

		require.Equal(t, content, members[name], name)
	}

	require.Contains(t, members, "scripts/shared/")
	require.Len(t, result.Members, len(members))
	require.Equal(t, "manifest.json", result.Members[len(result.Members)-1])

	sum, err := Checksum(mustRead(t, result.ArchivePath))
	require.NoError(t, err)
	require.Equal(t, sum, result.Checksum)

	// Only the archive lands next to the checkout.
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

// TestBuild_Idempotent rebuilds unchanged inputs with the same members and contents.
func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())

	first, err := Build(context.Background(), dir, config.Default())
	require.NoError(t, err)

	firstMembers := unpack(t, first.ArchivePath)

	second, err := Build(context.Background(), dir, config.Default())
	require.NoError(t, err)
	require.Equal(t, first.ArchivePath, second.ArchivePath)
	require.Equal(t, firstMembers, unpack(t, second.ArchivePath))
}

// TestBuild_Reproducible gives byte-identical archives even after mtimes change.
func TestBuild_Reproducible(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())
	cfg := config.Default()
	cfg.Reproducible = true

	first, err := Build(context.Background(), dir, cfg)
	require.NoError(t, err)

	firstBytes := mustRead(t, first.ArchivePath)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "popup", "popup.html"), []byte("<html>popup</html>"), 0o644))

	second, err := Build(context.Background(), dir, cfg)
	require.NoError(t, err)
	require.Equal(t, firstBytes, mustRead(t, second.ArchivePath))
	require.Equal(t, first.Checksum, second.Checksum)
}

// TestBuild_ManifestErrors fails before any archive exists.
func TestBuild_ManifestErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		manifest string
		wantErr  error
	}{
		"missing version": {manifest: `{"name": "Web Reader"}`, wantErr: manifest.ErrManifestParse},
		"broken json":     {manifest: `{"version": `, wantErr: manifest.ErrManifestParse},
		"no manifest":     {wantErr: manifest.ErrManifestRead},
	}

	for name, tc := range cases {
		files := extensionFiles()
		delete(files, "manifest.json")

		if tc.manifest != "" {
			files["manifest.json"] = tc.manifest
		}

		dir := newCheckout(t, files)

		result, err := Build(context.Background(), dir, config.Default())
		require.ErrorIs(t, err, tc.wantErr, name)
		require.Nil(t, result, name)

		entries, err := os.ReadDir(filepath.Dir(dir))
		require.NoError(t, err)
		require.Len(t, entries, 1, "%s: only the checkout may exist", name)
	}
}

// TestBuild_MissingDirectory succeeds without the directory and warns about it.
func TestBuild_MissingDirectory(t *testing.T) {
	t.Parallel()

	files := extensionFiles()
	delete(files, "sidebar/sidebar.html")

	dir := newCheckout(t, files)
	ctx, logs := observed()

	result, err := Build(ctx, dir, config.Default())
	require.NoError(t, err)
	require.Equal(t, []string{"sidebar"}, result.MissingDirs)

	members := unpack(t, result.ArchivePath)
	require.NotContains(t, members, "sidebar/")
	require.Contains(t, members, "popup/popup.html")

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	require.Equal(t, "sidebar", warnings[0].ContextMap()["dir"])
}

// TestBuild_Strict turns the missing directory into an error and publishes nothing.
func TestBuild_Strict(t *testing.T) {
	t.Parallel()

	files := extensionFiles()
	delete(files, "icons/icon-48.png")

	dir := newCheckout(t, files)
	cfg := config.Default()
	cfg.Strict = true

	_, err := Build(context.Background(), dir, cfg)
	require.ErrorIs(t, err, archive.ErrSourceMissing)

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "webReader-1_0.xpi"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestBuild_FailedRebuildKeepsArchive leaves a published archive alone when a rebuild fails.
func TestBuild_FailedRebuildKeepsArchive(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())

	first, err := Build(context.Background(), dir, config.Default())
	require.NoError(t, err)

	published := mustRead(t, first.ArchivePath)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Build(ctx, dir, config.Default())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, published, mustRead(t, first.ArchivePath))

	// No go-update leftovers next to the archive.
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

// TestBuild_CustomLayout honours an explicit directory list, output dir and extension.
func TestBuild_CustomLayout(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())
	cfg := &config.Config{
		ManifestPath:     "manifest.json",
		SourceDirs:       []string{"scripts/shared", "icons"},
		OutputDir:        "dist/firefox",
		ArchivePrefix:    "reader-",
		ArchiveExtension: "zip",
	}

	result, err := Build(context.Background(), dir, cfg)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dist", "firefox", "reader-1_0.zip"), result.ArchivePath)
	require.Equal(t, []string{
		"scripts/shared/",
		"scripts/shared/reader_data.js",
		"icons/",
		"icons/icon-48.png",
		"manifest.json",
	}, result.Members)
}

// TestBuild_Describe writes a release description matching the archive.
func TestBuild_Describe(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())
	cfg := config.Default()
	cfg.Describe = true

	result, err := Build(context.Background(), dir, cfg)
	require.NoError(t, err)
	require.Equal(t, result.ArchivePath+DescriptionSuffix, result.DescriptionPath)

	desc, err := LoadDescription(result.DescriptionPath)
	require.NoError(t, err)
	require.Equal(t, "Web Reader", desc.Name)
	require.Equal(t, "1.0", desc.Version)
	require.Equal(t, "webReader-1_0.xpi", desc.Archive)
	require.Equal(t, base64.StdEncoding.EncodeToString(result.Checksum), desc.Checksum)
	require.ElementsMatch(t, result.Members, desc.Members)
	require.IsNonDecreasing(t, desc.Members)
}

// TestBuild_DescribeFailureKeepsArchive warns when the description cannot be
// written and still reports the published archive.
func TestBuild_DescribeFailureKeepsArchive(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())
	archivePath := filepath.Join(filepath.Dir(dir), "webReader-1_0.xpi")
	require.NoError(t, os.Mkdir(archivePath+DescriptionSuffix, 0o755))

	cfg := config.Default()
	cfg.Describe = true
	ctx, logs := observed()

	result, err := Build(ctx, dir, cfg)
	require.NoError(t, err)
	require.Equal(t, archivePath, result.ArchivePath)
	require.Empty(t, result.DescriptionPath)
	require.Contains(t, unpack(t, archivePath), "manifest.json")

	warnings := logs.FilterMessage("Release description not written").All()
	require.Len(t, warnings, 1)
	require.Equal(t, zapcore.WarnLevel, warnings[0].Level)
}

// TestBuild_SymlinkedDirectory archives a source directory that is a link.
func TestBuild_SymlinkedDirectory(t *testing.T) {
	t.Parallel()

	files := extensionFiles()
	delete(files, "sidebar/sidebar.html")
	files["vendor/sidebar/sidebar.html"] = "<html>sidebar</html>"

	dir := newCheckout(t, files)
	if err := os.Symlink(filepath.Join(dir, "vendor", "sidebar"), filepath.Join(dir, "sidebar")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	result, err := Build(context.Background(), dir, config.Default())
	require.NoError(t, err)
	require.Empty(t, result.MissingDirs)

	members := unpack(t, result.ArchivePath)
	require.Contains(t, members, "sidebar/")
	require.Equal(t, "<html>sidebar</html>", members["sidebar/sidebar.html"])
	require.NotContains(t, members, "vendor/sidebar/sidebar.html")
}

// TestBuild_DanglingSymlink fails on a broken link and publishes nothing.
func TestBuild_DanglingSymlink(t *testing.T) {
	t.Parallel()

	dir := newCheckout(t, extensionFiles())
	if err := os.Symlink(filepath.Join(dir, "missing.js"), filepath.Join(dir, "scripts", "missing.js")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := Build(context.Background(), dir, config.Default())
	require.ErrorIs(t, err, archive.ErrSourceVanished)

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "webReader-1_0.xpi"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestChecksum matches the length of a SHA-512 digest and changes with the input.
func TestChecksum(t *testing.T) {
	t.Parallel()

	a, err := Checksum([]byte("a"))
	require.NoError(t, err)
	require.Len(t, a, 64)

	b, err := Checksum([]byte("b"))
	require.NoError(t, err)
	require.False(t, bytes.Equal(a, b))
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}
