package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	s.valid = true
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("NOTELY_TEST_NAME", "from-env")
	p := writeFile(t, "name: ${NOTELY_TEST_NAME}\nport: 9000\n")

	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "from-env" || s.Port != 9000 || !s.valid {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	p := writeFile(t, "name: x\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "port is required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadOptional_MissingFileKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 8080}
	if err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "default" || s.Port != 8080 || !s.valid {
		t.Errorf("defaults changed: %+v", s)
	}
}

func TestLoadOptional_FileOverridesDefaults(t *testing.T) {
	p := writeFile(t, "port: 9999\n")
	s := sample{Name: "default", Port: 8080}
	if err := LoadOptional(p, &s); err != nil {
		t.Fatal(err)
	}
	if s.Name != "default" || s.Port != 9999 {
		t.Errorf("merged = %+v", s)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}
