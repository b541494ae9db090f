package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitConfigWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := initConfig(path); err != nil {
		t.Fatalf("initConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading generated config: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty config template")
	}
}
