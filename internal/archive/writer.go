package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/CerolBrisingr/comic-sidebar/internal/logger"
)

var (
	// ErrArchiveWrite is returned when an entry cannot be written or the archive cannot be finalised.
	ErrArchiveWrite = errors.New("archive write error")
	// ErrSourceMissing is returned by AddTree when the source directory does not exist.
	ErrSourceMissing = errors.New("source directory missing")
	// ErrSourceVanished is returned when an entry disappears while the tree is archived.
	ErrSourceVanished = errors.New("source entry vanished")

	errNotRegular = errors.New("not a regular file")
	errClosed     = errors.New("archive already closed")
)

// ReproducibleTime is stamped on every member when WithFixedTime is used
// without an explicit time. It is the earliest time a zip header can hold.
var ReproducibleTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // Read-only.

// Writer appends extension sources to a zip stream.
type Writer struct {
	// zw is the underlying zip stream.
	zw *zip.Writer
	// baseDir is the directory member names are relative to.
	baseDir string
	// modified overrides member timestamps when non-zero.
	modified time.Time
	// members lists written entry names in order.
	members []string
	// seen guards against writing the same name twice.
	seen map[string]struct{}
	// closed is set once Close has run.
	closed bool
}

// Option customises a Writer.
type Option func(*Writer)

// WithBaseDir resolves source paths against dir instead of the working directory.
func WithBaseDir(dir string) Option {
	return func(w *Writer) {
		w.baseDir = dir
	}
}

// WithFixedTime stamps every member with t, or ReproducibleTime when t is zero.
func WithFixedTime(t time.Time) Option {
	return func(w *Writer) {
		if t.IsZero() {
			t = ReproducibleTime
		}

		w.modified = t
	}
}

// NewWriter starts a zip stream on out.
func NewWriter(out io.Writer, opts ...Option) *Writer {
	w := &Writer{
		zw:      zip.NewWriter(out),
		baseDir: ".",
		seen:    make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.zw.RegisterCompressor(zip.Deflate, func(dst io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(dst, flate.BestCompression)
	})

	return w
}

// Members returns the entry names written so far, in order.
func (w *Writer) Members() []string {
	return append([]string(nil), w.members...)
}

// AddTree archives dir and everything below it, the directory entry included.
// Links to files and directories are followed; members keep the names they
// have below dir. It returns the number of entries written. A dir that does
// not exist, or is not a directory, yields ErrSourceMissing and no entries.
func (w *Writer) AddTree(ctx context.Context, dir string) (int, error) {
	if w.closed {
		return 0, errClosed
	}

	root := filepath.Join(w.baseDir, dir)

	info, err := os.Stat(root)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, fmt.Errorf("%s: %w", dir, ErrSourceMissing)
	case err != nil:
		return 0, fmt.Errorf("stat %s: %w", dir, err)
	case !info.IsDir():
		return 0, fmt.Errorf("%s is not a directory: %w", dir, ErrSourceMissing)
	}

	// WalkDir does not follow a linked root, so walk its target instead.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return 0, sourceError(root, err)
	}

	added, err := w.walkTree(ctx, resolved, filepath.ToSlash(filepath.Clean(dir)), []string{resolved})
	if err != nil {
		return added, err
	}

	logger.DebugKV(ctx, "Archived source directory", "dir", dir, "entries", added)

	return added, nil
}

// walkTree archives the real directory realDir with member names under prefix.
// linked holds the targets of the walks in progress and stops link cycles.
func (w *Writer) walkTree(ctx context.Context, realDir, prefix string, linked []string) (int, error) {
	added := 0

	err := filepath.WalkDir(realDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return sourceError(path, walkErr)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if path != realDir && strings.HasPrefix(entry.Name(), ".") {
			logger.DebugKV(ctx, "Skipping hidden entry", "path", path)

			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		name, err := memberName(realDir, prefix, path)
		if err != nil {
			return err
		}

		wrote, err := w.addEntry(ctx, path, name, entry, linked)
		added += wrote

		return err
	})

	return added, err
}

// AddFile archives the regular file at path as name. Symlinks are followed.
func (w *Writer) AddFile(ctx context.Context, path, name string) error {
	if w.closed {
		return errClosed
	}

	file, info, err := openSource(filepath.Join(w.baseDir, path))
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", path, errNotRegular)
	}

	if _, err = w.writeFile(file, info, name); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Archived file", "path", path, "member", name)

	return nil
}

// Close writes the central directory. Calling it again is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("%w: finalise: %w", ErrArchiveWrite, err)
	}

	return nil
}

// addEntry writes one walked entry and returns the number of entries added.
// A link to a directory is archived by walking its target.
func (w *Writer) addEntry(ctx context.Context, path, name string, entry fs.DirEntry, linked []string) (int, error) {
	if entry.IsDir() {
		info, err := entry.Info()
		if err != nil {
			return 0, sourceError(path, err)
		}

		return w.writeDir(info, name)
	}

	if entry.Type()&^fs.ModeSymlink&fs.ModeType != 0 {
		logger.DebugKV(ctx, "Skipping special file", "path", path, "mode", entry.Type().String())
		return 0, nil
	}

	if entry.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return 0, sourceError(path, err)
		}

		if info.IsDir() {
			return w.addLinkedDir(ctx, path, name, linked)
		}
	}

	file, info, err := openSource(path)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = file.Close()
	}()

	if !info.Mode().IsRegular() {
		logger.DebugKV(ctx, "Skipping special file", "path", path, "mode", info.Mode().String())
		return 0, nil
	}

	return w.writeFile(file, info, name)
}

// addLinkedDir walks the target of a directory link unless that would loop.
func (w *Writer) addLinkedDir(ctx context.Context, path, name string, linked []string) (int, error) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return 0, sourceError(path, err)
	}

	parent := filepath.Dir(path)
	if slices.Contains(linked, target) || parent == target ||
		strings.HasPrefix(parent, target+string(filepath.Separator)) {
		logger.WarnKV(ctx, "Skipping directory link that points back into the tree", "path", path, "target", target)
		return 0, nil
	}

	return w.walkTree(ctx, target, name, append(slices.Clip(linked), target))
}

func (w *Writer) writeDir(info fs.FileInfo, name string) (int, error) {
	name += "/"
	if w.isDuplicate(name) {
		return 0, nil
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("%w: header for %s: %w", ErrArchiveWrite, name, err)
	}

	header.Name = name
	header.Method = zip.Store
	w.stamp(header)

	if _, err = w.zw.CreateHeader(header); err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrArchiveWrite, name, err)
	}

	w.record(name)

	return 1, nil
}

func (w *Writer) writeFile(src io.Reader, info fs.FileInfo, name string) (int, error) {
	if w.isDuplicate(name) {
		return 0, nil
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("%w: header for %s: %w", ErrArchiveWrite, name, err)
	}

	header.Name = name
	header.Method = zip.Deflate
	w.stamp(header)

	dst, err := w.zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrArchiveWrite, name, err)
	}

	if _, err = io.Copy(dst, src); err != nil {
		return 0, fmt.Errorf("%w: write %s: %w", ErrArchiveWrite, name, err)
	}

	w.record(name)

	return 1, nil
}

func (w *Writer) stamp(header *zip.FileHeader) {
	if !w.modified.IsZero() {
		header.Modified = w.modified
	}
}

func (w *Writer) isDuplicate(name string) bool {
	_, found := w.seen[name]
	return found
}

func (w *Writer) record(name string) {
	w.seen[name] = struct{}{}
	w.members = append(w.members, name)
}

// memberName returns the slash-separated name of path, a file below realDir
// archived under prefix.
func memberName(realDir, prefix, path string) (string, error) {
	rel, err := filepath.Rel(realDir, path)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", path, err)
	}

	if rel == "." {
		return prefix, nil
	}

	return prefix + "/" + filepath.ToSlash(rel), nil
}

// openSource opens path and stats the opened handle, so the data and the
// header describe the same file even if path is replaced meanwhile.
func openSource(path string) (*os.File, fs.FileInfo, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, sourceError(path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, sourceError(path, err)
	}

	return file, info, nil
}

func sourceError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w: %w", path, ErrSourceVanished, err)
	}

	return fmt.Errorf("read %s: %w", path, err)
}
