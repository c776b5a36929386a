package packager

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/CerolBrisingr/comic-sidebar/internal/version"

	// Ensure SHA512 available for checksum calculation.
	_ "crypto/sha512"
)

const (
	// DefaultChecksumFunction hashes published archives.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// DescriptionSuffix is appended to the archive path for the release description.
	DescriptionSuffix = ".yaml"
)

var errHashUnavailable = errors.New("hash function unavailable")

// Description is the YAML release record written next to the archive.
type Description struct {
	// Name is the extension name from the manifest.
	Name string `yaml:"name,omitempty"`
	// Version is the manifest version as written there.
	Version string `yaml:"version"`
	// Archive is the archive file name.
	Archive string `yaml:"archive"`
	// Checksum is the base64 SHA-512 of the archive.
	Checksum string `yaml:"checksum"`
	// Packager is the version of the tool that built the archive.
	Packager string `yaml:"packager"`
	// Members lists archive entries sorted by name.
	Members []string `yaml:"members"`
}

// Checksum returns the DefaultChecksumFunction digest of data.
func Checksum(data []byte) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// LoadDescription reads a release description written by the packager.
func LoadDescription(path string) (*Description, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read description: %w", err)
	}

	var desc Description
	if err = yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal description: %w", err)
	}

	return &desc, nil
}

// newDescription builds the release record for a finished build.
func newDescription(result *Result) *Description {
	return &Description{
		Name:     result.Manifest.Name,
		Version:  result.Manifest.Version,
		Archive:  filepath.Base(result.ArchivePath),
		Checksum: base64.StdEncoding.EncodeToString(result.Checksum),
		Packager: version.Short(),
		Members:  slices.Sorted(slices.Values(result.Members)),
	}
}

// writeDescription saves the release record and returns its path.
func writeDescription(result *Result) (string, error) {
	contents, err := yaml.Marshal(newDescription(result))
	if err != nil {
		return "", fmt.Errorf("marshal description: %w", err)
	}

	path := result.ArchivePath + DescriptionSuffix
	if err = os.WriteFile(path, contents, ArchiveFileMode); err != nil {
		return "", fmt.Errorf("write description: %w", err)
	}

	return path, nil
}
