package domain

import (
	"testing"
	"time"
)

func TestJobStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant JobStatus
		expected string
	}{
		{"JobQueued", JobQueued, "queued"},
		{"JobAssigned", JobAssigned, "assigned"},
		{"JobRunning", JobRunning, "running"},
		{"JobSucceeded", JobSucceeded, "succeeded"},
		{"JobFailed", JobFailed, "failed"},
		{"JobStopped", JobStopped, "stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, string(tt.constant))
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobQueued, false},
		{JobAssigned, false},
		{JobRunning, false},
		{JobSucceeded, true},
		{JobFailed, true},
		{JobStopped, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestGenerationRequestApplyDefaults(t *testing.T) {
	req := GenerationRequest{Prompt: "a cat"}
	req.ApplyDefaults()

	if req.NumOptions != 1 {
		t.Errorf("Expected NumOptions default 1, got %d", req.NumOptions)
	}
	if req.Height != 1024 {
		t.Errorf("Expected Height default 1024, got %d", req.Height)
	}
	if req.Width != 1024 {
		t.Errorf("Expected Width default 1024, got %d", req.Width)
	}
	if req.Plugins == nil {
		t.Error("Expected Plugins to be initialized to an empty slice")
	}
}

func TestGenerationRequestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	req := GenerationRequest{Prompt: "a cat", NumOptions: 3, Height: 512, Width: 768}
	req.ApplyDefaults()

	if req.NumOptions != 3 || req.Height != 512 || req.Width != 768 {
		t.Errorf("ApplyDefaults overwrote explicit values: %+v", req)
	}
}

func TestJob(t *testing.T) {
	now := time.Now()
	job := Job{
		ID:        "job-123",
		JobType:   JobTypeTextToImage,
		Status:    JobQueued,
		Team:      "acme",
		CreatedAt: now,
		Request:   GenerationRequest{Prompt: "a cat"},
	}

	if job.ID != "job-123" {
		t.Errorf("Expected ID to be 'job-123', got %q", job.ID)
	}
	if job.Status != JobQueued {
		t.Errorf("Expected Status to be %q, got %q", JobQueued, job.Status)
	}
	if job.JobType != JobTypeTextToImage {
		t.Errorf("Expected JobType to be %q, got %q", JobTypeTextToImage, job.JobType)
	}
	if !job.CreatedAt.Equal(now) {
		t.Errorf("Expected CreatedAt to be %v, got %v", now, job.CreatedAt)
	}
	if job.Team != "acme" {
		t.Errorf("Expected Team to be 'acme', got %q", job.Team)
	}
}

func TestModerationResultIsGeneralBlocked(t *testing.T) {
	tests := []struct {
		name       string
		categories map[string]bool
		blocked    bool
	}{
		{"clean", map[string]bool{}, false},
		{"sexual only is not general", map[string]bool{CategorySexual: true}, false},
		{"hate blocks", map[string]bool{CategoryHate: true}, true},
		{"violence_graphic blocks", map[string]bool{CategoryViolenceGraph: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ModerationResult{Categories: tt.categories}
			if got := m.IsGeneralBlocked(); got != tt.blocked {
				t.Errorf("IsGeneralBlocked() = %v, want %v", got, tt.blocked)
			}
		})
	}
}

func TestModerationResultIsNSFWBlocked(t *testing.T) {
	m := ModerationResult{Categories: map[string]bool{CategorySexual: true}}
	if !m.IsNSFWBlocked() {
		t.Error("expected sexual category to trip IsNSFWBlocked")
	}

	m2 := ModerationResult{Categories: map[string]bool{}}
	if m2.IsNSFWBlocked() {
		t.Error("expected empty categories to not trip IsNSFWBlocked")
	}
}
