package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootHasAllSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{
		"serve", "status", "start", "stop", "restart",
		"health", "history", "export", "reset-data", "resources",
	}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestHelpExitsZero(t *testing.T) {
	root := buildRoot()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help should succeed: %v, out=%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "engramd") {
		t.Fatalf("unexpected help output: %s", buf.String())
	}
}

func TestRunServeMissingConfigFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")
	if err := runServe(&GlobalFlags{ConfigPath: missing}, nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestRunServeArgOverridesConfigFlag(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "from-arg.toml")
	err := runServe(&GlobalFlags{ConfigPath: "ignored.toml"}, []string{missing})
	if err == nil || !strings.Contains(err.Error(), "from-arg.toml") {
		t.Fatalf("expected error naming the arg path, got %v", err)
	}
}
