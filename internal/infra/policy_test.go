package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	path := writePolicy(t, `
[sweep]
batch_limit = 10
item_delay_ms = 50

[sweep.threshold_minutes]
generating_video = 45

[pricing]
segment_video = 12
`)
	pf, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile returned error: %v", err)
	}
	if pf.Sweep.BatchLimit != 10 || pf.Sweep.ItemDelayMillis != 50 {
		t.Fatalf("sweep = %+v", pf.Sweep)
	}
	if pf.Sweep.ThresholdMinutes["generating_video"] != 45 {
		t.Fatalf("thresholds = %v", pf.Sweep.ThresholdMinutes)
	}
	if pf.Pricing["segment_video"] != 12 {
		t.Fatalf("pricing = %v", pf.Pricing)
	}
}

func TestLoadPolicyFileEmptyPath(t *testing.T) {
	pf, err := LoadPolicyFile("")
	if err != nil {
		t.Fatalf("LoadPolicyFile returned error: %v", err)
	}
	if pf.Sweep.BatchLimit != 0 || len(pf.Pricing) != 0 {
		t.Fatalf("expected empty policy, got %+v", pf)
	}
}

func TestLoadPolicyFileRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative":      "[sweep]\nbatch_limit = -1\n",
		"zero_minutes":  "[sweep.threshold_minutes]\nmerging = 0\n",
		"unknown_field": "[sweep]\nbatch_size = 3\n",
		"bad_syntax":    "[sweep\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadPolicyFile(writePolicy(t, contents)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
