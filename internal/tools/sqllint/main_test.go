package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const goodQueries = "package q\n\n" +
	"const QOne = `--sql 11111111-1111-4111-8111-111111111111\nselect 1`\n\n" +
	"const QTwo = `--sql 22222222-2222-4222-8222-222222222222\nupdate t set a = 1`\n\n" +
	"const message = \"please select a plan first\"\n"

func TestRunAcceptsMarkedStatements(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q.go", goodQueries)
	writeFile(t, dir, "0001_init.sql", "--sql 33333333-3333-4333-8333-333333333333\ncreate table t (a int);\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("exit = %d, output:\n%s", code, stderr.String())
	}
}

func TestRunReportsViolations(t *testing.T) {
	cases := map[string]struct {
		files map[string]string
		want  string
	}{
		"missing marker": {
			files: map[string]string{"q.go": "package q\n\nconst QBad = `select 1`\n"},
			want:  "missing or invalid --sql <uuid> marker (QBad)",
		},
		"uppercase uuid": {
			files: map[string]string{"q.go": "package q\n\nconst QBad = `--sql 11111111-1111-4111-8111-11111111111A\nselect 1`\n"},
			want:  "missing or invalid",
		},
		"duplicate across files": {
			files: map[string]string{
				"q.go":          goodQueries,
				"0002_more.sql": "--sql 11111111-1111-4111-8111-111111111111\nalter table t add b int;\n",
			},
			want: "marker 11111111-1111-4111-8111-111111111111 already used",
		},
		"unmarked migration": {
			files: map[string]string{"0003_x.sql": "create index on t (a);\n"},
			want:  "(0003_x.sql)",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			for file, body := range tc.files {
				writeFile(t, dir, file, body)
			}
			var stderr bytes.Buffer
			if code := run([]string{dir}, &stderr); code != 1 {
				t.Fatalf("exit = %d, want 1", code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("output missing %q:\n%s", tc.want, stderr.String())
			}
		})
	}
}

func TestRunSkipsTestFilesAndHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q_test.go", "package q\n\nconst QBad = `select 1`\n")
	hidden := filepath.Join(dir, "_fixtures")
	if err := os.Mkdir(hidden, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, hidden, "q.go", "package q\n\nconst QBad = `select 1`\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("exit = %d, output:\n%s", code, stderr.String())
	}
}

func TestRunMissingTarget(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{filepath.Join(t.TempDir(), "nope")}, &stderr); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}
