package config

import "testing"

func Test_Load_ErrorOnBadDuration(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JOB_DISCARD_THRESHOLD", "bad")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func Test_Load_ErrorOnMissingNodeID(t *testing.T) {
	t.Setenv("MODE", "filler")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing NODE_ID")
	}
}
