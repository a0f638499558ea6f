package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Installation file locations relative to an install or configuration area.
const (
	ConfigurationDir   = "configuration"
	SimpleConfigurator = "org.eclipse.equinox.simpleconfigurator"
	BundlesInfoFile    = "bundles.info"
	ConfigIniFile      = "config.ini"
	PluginsDir         = "plugins"
	FeaturesDir        = "features"

	// FrameworkProperty names the framework jar in config.ini.
	FrameworkProperty = "osgi.framework"

	referenceFilePrefix = "reference:file:"
	filePrefix          = "file:"
)

// BundleInfo is one line of a bundles.info file.
type BundleInfo struct {
	SymbolicName string
	Version      string
	Location     string
	StartLevel   int
	AutoStart    bool
}

// BundlesInfoPath returns the bundles.info path for an installation. An
// empty configArea means the installation's own configuration folder.
func BundlesInfoPath(installPath, configArea string) string {
	if configArea == "" {
		configArea = filepath.Join(installPath, ConfigurationDir)
	}
	return filepath.Join(configArea, SimpleConfigurator, BundlesInfoFile)
}

// ReadBundlesInfo parses bundles.info content. Comment lines start with #.
func ReadBundlesInfo(r io.Reader) ([]BundleInfo, error) {
	var out []BundleInfo
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			return nil, fmt.Errorf("bundles.info line %d: expected at least 3 fields, got %d", lineNo, len(fields))
		}
		info := BundleInfo{
			SymbolicName: strings.TrimSpace(fields[0]),
			Version:      strings.TrimSpace(fields[1]),
			Location:     strings.TrimSpace(fields[2]),
		}
		if len(fields) > 3 {
			level, err := strconv.Atoi(strings.TrimSpace(fields[3]))
			if err != nil {
				return nil, fmt.Errorf("bundles.info line %d: invalid start level: %w", lineNo, err)
			}
			info.StartLevel = level
		}
		if len(fields) > 4 {
			info.AutoStart = strings.TrimSpace(fields[4]) == "true"
		}
		out = append(out, info)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bundles.info: %w", err)
	}
	return out, nil
}

// ResolveBundleLocation turns a bundles.info location into an absolute path.
// reference:file: and file: entries that are relative resolve against
// frameworkBase when set, else against installPath. Absolute entries are
// used as-is.
func ResolveBundleLocation(location, installPath, frameworkBase string) string {
	loc := strings.TrimPrefix(location, referenceFilePrefix)
	loc = strings.TrimPrefix(loc, filePrefix)
	if filepath.IsAbs(filepath.FromSlash(loc)) || strings.Contains(loc, "://") {
		return filepath.FromSlash(loc)
	}
	base := installPath
	if frameworkBase != "" {
		base = frameworkBase
	}
	return filepath.Join(base, filepath.FromSlash(loc))
}

// ReadProperties parses a Java properties file: key=value or key:value
// pairs, # and ! comments, backslash line continuation and escapes.
func ReadProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	var pending string
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t")
		if pending == "" && (line == "" || line[0] == '#' || line[0] == '!') {
			continue
		}
		if strings.HasSuffix(line, `\`) && !strings.HasSuffix(line, `\\`) {
			pending += strings.TrimSuffix(line, `\`)
			continue
		}
		line = pending + line
		pending = ""

		idx := strings.IndexAny(line, "=:")
		if idx < 0 {
			props[unescape(strings.TrimSpace(line))] = ""
			continue
		}
		key := unescape(strings.TrimSpace(line[:idx]))
		props[key] = unescape(strings.TrimSpace(line[idx+1:]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	return props, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			switch r {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FrameworkBase returns the directory relative bundle references resolve
// against: the parent of the plugins folder holding the framework jar named
// by config.ini. It returns "" when config.ini or the property is absent.
func FrameworkBase(installPath, configArea string) (string, error) {
	if configArea == "" {
		configArea = filepath.Join(installPath, ConfigurationDir)
	}
	f, err := os.Open(filepath.Join(configArea, ConfigIniFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	props, err := ReadProperties(f)
	if err != nil {
		return "", err
	}
	framework := props[FrameworkProperty]
	if framework == "" {
		return "", nil
	}
	jar := ResolveBundleLocation(framework, installPath, "")
	return filepath.Dir(filepath.Dir(jar)), nil
}

// ReadLauncherVMArgs returns the arguments following -vmargs in the
// installation's launcher .ini file. eclipse.ini is preferred, otherwise the
// first .ini file in installPath is used. No launcher file yields no
// arguments.
func ReadLauncherVMArgs(installPath string) ([]string, error) {
	path, err := launcherIni(installPath)
	if err != nil || path == "" {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var args []string
	inVMArgs := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "-vmargs" {
			inVMArgs = true
			continue
		}
		if inVMArgs {
			args = append(args, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return args, nil
}

func launcherIni(installPath string) (string, error) {
	preferred := filepath.Join(installPath, "eclipse.ini")
	if _, err := os.Stat(preferred); err == nil {
		return preferred, nil
	}
	matches, err := filepath.Glob(filepath.Join(installPath, "*.ini"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}
