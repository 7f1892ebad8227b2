package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	args = append(args, "--db", "test.db", "--log-level", "error")
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out); err != nil {
		t.Fatalf("Expected usage without error, but got %v", err)
	}
	if !strings.Contains(out.String(), "add-source") {
		t.Errorf("Expected the usage text, but got %q", out.String())
	}
	if err := run(context.Background(), []string{"frobnicate"}, &out); err == nil {
		t.Error("Expected an unknown command to fail")
	}
}

func TestRunCommands(t *testing.T) {
	t.Chdir(t.TempDir())
	notes := filepath.Join("notes", "spanish.md")
	if err := os.MkdirAll(filepath.Dir(notes), 0o755); err != nil {
		t.Fatalf("Failed to create notes dir: %v", err)
	}
	content := "Q: Hola\nA: Hello\n\nQ: Gracias\nA: Thanks\n"
	if err := os.WriteFile(notes, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write notes: %v", err)
	}

	testCases := []struct {
		name     string
		args     []string
		expected string
		wantErr  bool
	}{
		{name: "Add source", args: []string{"add-source", "notes"}, expected: "(local)"},
		{name: "Add source without path", args: []string{"add-source"}, wantErr: true},
		{name: "Sync", args: []string{"sync"}, expected: "2 added"},
		{name: "Counts", args: []string{"counts"}, expected: "2 new"},
		{name: "Decks", args: []string{"decks"}, expected: "Default"},
		{name: "Find decks", args: []string{"decks", "--find", "dflt"}, expected: "Default"},
		{name: "Unbury", args: []string{"unbury"}, expected: "Unburied 0 cards"},
		{name: "Unbury kind without deck", args: []string{"unbury", "--kind", "manual"}, wantErr: true},
		{name: "Rebuild normal deck", args: []string{"rebuild", "Default"}, wantErr: true},
		{name: "Empty unknown deck", args: []string{"empty", "Nope"}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := runCommand(t, tc.args...)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected an error, but got output %q", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, but got %v", err)
			}
			if !strings.Contains(out, tc.expected) {
				t.Errorf("Expected output containing %q, but got %q", tc.expected, out)
			}
		})
	}
}
