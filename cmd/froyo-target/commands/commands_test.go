package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// workspace creates a config, a bundle directory with one exploded bundle
// and a target file pointing at it.
func workspace(t *testing.T) (cfgPath, target string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "cacheDir: "+filepath.Join(dir, "cache")+"\nlogging:\n  level: error\n")

	bundles := filepath.Join(dir, "bundles")
	writeFile(t, filepath.Join(bundles, "org.example.core_1.2.0", "META-INF", "MANIFEST.MF"),
		"Bundle-SymbolicName: org.example.core\nBundle-Version: 1.2.0\n")

	target = filepath.Join(dir, "release.target")
	writeFile(t, target, "schemaVersion: 3\nname: release\nlocations:\n  - type: directory\n    path: "+bundles+"\n")
	return cfgPath, target
}

func TestInitCreatesConfigAndIndex(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "config.yaml")
	cache := filepath.Join(dir, "cache")

	out, err := run(t, "init", "--config", cfgPath, "--cache-dir", cache)
	if err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	for _, path := range []string{cfgPath, filepath.Join(cache, "index.db"), filepath.Join(cache, "profiles")} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	out, err = run(t, "init", "--config", cfgPath, "--cache-dir", cache)
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("expected existing config to be kept, got:\n%s", out)
	}
}

func TestResolveJSON(t *testing.T) {
	cfgPath, target := workspace(t)

	out, err := run(t, "resolve", target, "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("resolve failed: %v\n%s", err, out)
	}

	var got struct {
		Name    string `json:"name"`
		Bundles []struct {
			SymbolicName string `json:"symbolicName"`
		} `json:"bundles"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if got.Name != "release" {
		t.Errorf("name = %q", got.Name)
	}
	if len(got.Bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(got.Bundles))
	}
}

func TestResolveMissingFile(t *testing.T) {
	cfgPath, _ := workspace(t)
	if _, err := run(t, "resolve", filepath.Join(t.TempDir(), "missing.target"), "--config", cfgPath); err == nil {
		t.Fatal("expected an error for a missing target file")
	}
}

func TestCompareInventory(t *testing.T) {
	cfgPath, target := workspace(t)
	dir := filepath.Dir(target)

	same := filepath.Join(dir, "same.csv")
	writeFile(t, same, "# running platform\norg.example.core,1.2.0\n")
	if out, err := run(t, "compare", target, "--config", cfgPath, "--platform", same); err != nil {
		t.Fatalf("compare failed: %v\n%s", err, out)
	}

	other := filepath.Join(dir, "other.csv")
	writeFile(t, other, "org.example.core,1.3.0\n")
	out, err := run(t, "compare", target, "--config", cfgPath, "--platform", other, "--severity", "error", "--report")
	if err == nil {
		t.Fatal("expected differences at error severity to fail")
	}
	if !strings.Contains(out, "org.example.core") || !strings.Contains(out, "+++ platform") {
		t.Errorf("expected a report naming the bundle, got:\n%s", out)
	}
}

func TestSaveAndProfiles(t *testing.T) {
	cfgPath, target := workspace(t)
	saved := filepath.Join(filepath.Dir(target), "saved.target")

	if out, err := run(t, "save", target, "--config", cfgPath, "--out", saved); err != nil {
		t.Fatalf("save failed: %v\n%s", err, out)
	}
	data, err := os.ReadFile(saved)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "schemaVersion: 3") {
		t.Errorf("saved file lacks schema version:\n%s", data)
	}

	out, err := run(t, "profiles", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("profiles list failed: %v", err)
	}
	if !strings.HasPrefix(out, "ID") {
		t.Errorf("expected a table header, got:\n%s", out)
	}

	if out, err := run(t, "profiles", "gc", "--config", cfgPath); err != nil {
		t.Fatalf("profiles gc failed: %v\n%s", err, out)
	}
}

func TestSaveKeepsConfigEnvironmentOut(t *testing.T) {
	cfgPath, target := workspace(t)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, cfgPath, string(data)+"environment:\n  os: macosx\n  ws: cocoa\n")

	saved := filepath.Join(filepath.Dir(target), "saved.target")
	if out, err := run(t, "save", target, "--config", cfgPath, "--out", saved, "--resolve"); err != nil {
		t.Fatalf("save failed: %v\n%s", err, out)
	}
	got, err := os.ReadFile(saved)
	if err != nil {
		t.Fatal(err)
	}
	for _, unwanted := range []string{"environment:", "macosx", "cocoa"} {
		if strings.Contains(string(got), unwanted) {
			t.Errorf("saved file contains config default %q:\n%s", unwanted, got)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("sha256:0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
