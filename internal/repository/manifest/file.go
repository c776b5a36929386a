package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CerolBrisingr/comic-sidebar/internal/domain/extension"
)

// Repository loads the extension manifest.
type Repository interface {
	Load(ctx context.Context) (*extension.Manifest, error)
}

// FileRepository reads the manifest from a JSON file.
type FileRepository struct {
	// path is the filesystem location of manifest.json.
	path string
}

var (
	// ErrManifestRead is returned when the manifest file is missing or unreadable.
	ErrManifestRead = errors.New("manifest read error")
	// ErrManifestParse is returned when the manifest is not JSON or has no usable version.
	ErrManifestParse = errors.New("manifest parse error")

	errVersionMissing  = errors.New(`"version" field is missing`)
	errVersionNotText  = errors.New(`"version" field is not a string`)
	errVersionIsBlank  = errors.New(`"version" field is empty`)
	errTrailingContent = errors.New("unexpected content after the manifest object")
)

// document mirrors the manifest keys the packager reads.
// Raw messages let a missing key be told apart from a mistyped one.
type document struct {
	Name    json.RawMessage `json:"name"`
	Version json.RawMessage `json:"version"`
}

// NewFileRepository creates a repository reading the manifest at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the manifest location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads and decodes the manifest.
func (r *FileRepository) Load(_ context.Context) (*extension.Manifest, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestRead, err)
	}

	m, err := Decode(contents)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}

	return m, nil
}

// Decode extracts the manifest fields from JSON contents.
func Decode(contents []byte) (*extension.Manifest, error) {
	decoder := json.NewDecoder(bytes.NewReader(contents))

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}

	if decoder.More() {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, errTrailingContent)
	}

	version, err := decodeVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}

	// The name is informational only, so a non-string value is ignored.
	var name string
	_ = json.Unmarshal(doc.Name, &name)

	return &extension.Manifest{
		Name:    name,
		Version: version,
	}, nil
}

func decodeVersion(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errVersionMissing
	}

	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return "", errVersionNotText
	}

	if version == "" {
		return "", errVersionIsBlank
	}

	return version, nil
}
