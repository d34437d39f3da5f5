// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// Points is the input table written by SetupTestProject: three points
// around Manila.
const Points = `id,WKT
100,POINT(121.0 14.5)
200,POINT(122.0 15.0)
300,POINT(120.0 13.0)
`

// Spellbook is the spellbook written by SetupTestProject.
const Spellbook = `column: WKT
author: tests
spells:
  - type: DistanceToNearest
    module: github.com/leapstack-labs/geomancer/pkg/spell
    on: embassy
    source_table: osm_pois
    feature_name: dist_embassy
    source_id: osm_id
    within: 10000
  - type: NumberOf
    module: github.com/leapstack-labs/geomancer/pkg/spell
    on: embassy
    source_table: osm_pois
    feature_name: num_embassy
    source_id: osm_id
    within: 10000
`

// SetupTestProject creates a temporary directory holding points.csv and
// spellbook.yaml and returns its path.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	files := map[string]string{
		"points.csv":     Points,
		"spellbook.yaml": Spellbook,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return tmpDir
}

// RunCommand executes cmd with args and returns what it wrote to stdout
// and stderr.
func RunCommand(t *testing.T, cmd *cobra.Command, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}
