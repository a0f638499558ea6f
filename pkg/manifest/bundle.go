// Package manifest reads the on-disk formats the resolution engine consumes:
// module manifests (META-INF/MANIFEST.MF in directories and jar archives),
// feature descriptors (feature.xml) and installation files (bundles.info,
// config.ini and launcher .ini files).
package manifest

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/targetplatform/pkg/engine"
	"github.com/openfroyo/targetplatform/pkg/version"
)

// ManifestPath is the location of the module manifest inside a module.
const ManifestPath = "META-INF/MANIFEST.MF"

// Manifest header names.
const (
	HeaderSymbolicName = "Bundle-SymbolicName"
	HeaderVersion      = "Bundle-Version"
	HeaderFragmentHost = "Fragment-Host"
	HeaderSourceBundle = "Eclipse-SourceBundle"
)

var (
	// ErrNotBundle is returned for files and directories that are not modules.
	ErrNotBundle = errors.New("not a bundle")

	// ErrInvalidManifest is returned for modules whose manifest cannot be used.
	ErrInvalidManifest = errors.New("invalid bundle manifest")
)

// Bundle is the identity read from a module manifest.
type Bundle struct {
	SymbolicName string
	Version      string
	FragmentHost string

	// SourceFor is the symbolic name of the module this source bundle
	// provides sources for, or "".
	SourceFor string

	Headers map[string]string
}

// IsFragment reports whether the module is a fragment.
func (b *Bundle) IsFragment() bool { return b.FragmentHost != "" }

// IsSource reports whether the module is a source bundle.
func (b *Bundle) IsSource() bool { return b.SourceFor != "" }

// ParseHeaders parses a manifest. Lines starting with a single space
// continue the previous header.
func ParseHeaders(r io.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var last string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			last = ""
			continue
		}
		if strings.HasPrefix(line, " ") {
			if last == "" {
				return nil, invalidManifest("continuation line without header")
			}
			headers[last] += line[1:]
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, invalidManifest("malformed header line %q", line)
		}
		last = strings.TrimSpace(name)
		headers[last] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return headers, nil
}

// invalidManifest returns a permanent error wrapping ErrInvalidManifest.
func invalidManifest(format string, args ...any) error {
	return engine.NewPermanentError("failed to parse manifest",
		fmt.Errorf("%w: %s", ErrInvalidManifest, fmt.Sprintf(format, args...))).
		WithCode(engine.ErrCodeInvalidManifest)
}

// FromHeaders extracts the module identity. Headers without a symbolic name
// describe a plain jar, reported as ErrNotBundle.
func FromHeaders(headers map[string]string) (*Bundle, error) {
	name := firstClause(headers[HeaderSymbolicName])
	if name == "" {
		return nil, ErrNotBundle
	}

	raw := headers[HeaderVersion]
	v, err := version.Parse(raw)
	if err != nil {
		return &Bundle{SymbolicName: name, Version: raw, Headers: headers},
			invalidManifest("%s has version %q: %v", name, raw, err)
	}

	return &Bundle{
		SymbolicName: name,
		Version:      v.String(),
		FragmentHost: firstClause(headers[HeaderFragmentHost]),
		SourceFor:    firstClause(headers[HeaderSourceBundle]),
		Headers:      headers,
	}, nil
}

// firstClause returns the value up to the first parameter separator.
func firstClause(value string) string {
	name, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(name)
}

// ReadBundle reads the module at path, which is either a directory or a jar
// archive. Anything else yields ErrNotBundle. When the manifest names a
// module but is otherwise unusable, the partial Bundle is returned together
// with an error wrapping ErrInvalidManifest. A manifest that cannot be parsed
// at all yields that error with a nil Bundle.
func ReadBundle(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		f, err := os.Open(filepath.Join(path, filepath.FromSlash(ManifestPath)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrNotBundle
			}
			return nil, err
		}
		defer f.Close()
		return readBundle(f)
	}
	if !strings.EqualFold(filepath.Ext(path), ".jar") {
		return nil, ErrNotBundle
	}
	return readJarBundle(path)
}

func readJarBundle(path string) (*Bundle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotBundle, filepath.Base(path), err)
	}
	defer zr.Close()

	f, err := OpenZipEntry(&zr.Reader, ManifestPath)
	if err != nil {
		return nil, ErrNotBundle
	}
	defer f.Close()
	return readBundle(f)
}

func readBundle(r io.Reader) (*Bundle, error) {
	headers, err := ParseHeaders(r)
	if err != nil {
		return nil, err
	}
	return FromHeaders(headers)
}

// OpenZipEntry opens the named entry of an archive. Names are matched
// case-insensitively.
func OpenZipEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
}
