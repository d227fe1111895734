//go:build !integration

package model

import (
	"errors"
	"strings"
	"testing"

	"image-task-pipeline/internal/domain"
)

// --- TaskParams Tests ---

func validParams() TaskParams {
	return TaskParams{Prompt: "  a red fox in snow  ", StyleID: 1, ModelID: 2}
}

func TestTaskParams_Normalize(t *testing.T) {
	t.Run("should apply defaults and trim the prompt", func(t *testing.T) {
		p := validParams()
		if err := p.Normalize(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.Prompt != "a red fox in snow" {
			t.Errorf("expected trimmed prompt, got %q", p.Prompt)
		}
		if p.Width != DefaultDimension || p.Height != DefaultDimension {
			t.Errorf("expected %dx%d, got %dx%d", DefaultDimension, DefaultDimension, p.Width, p.Height)
		}
		if p.Steps != DefaultSteps || p.Guidance != DefaultGuidance || p.Count != 1 {
			t.Errorf("unexpected defaults: steps=%d guidance=%v count=%d", p.Steps, p.Guidance, p.Count)
		}
	})

	t.Run("should accept the inclusive bounds", func(t *testing.T) {
		p := validParams()
		p.Width, p.Height = MinDimension, MaxDimension
		p.Steps, p.Guidance, p.Count = MaxSteps, MaxGuidance, MaxCount
		p.Prompt = strings.Repeat("é", MaxPromptLen)
		if err := p.Normalize(); err != nil {
			t.Errorf("expected bounds to pass, got %v", err)
		}
	})

	cases := []struct {
		name string
		edit func(p *TaskParams)
	}{
		{"blank prompt", func(p *TaskParams) { p.Prompt = "   " }},
		{"long prompt", func(p *TaskParams) { p.Prompt = strings.Repeat("a", MaxPromptLen+1) }},
		{"long negative prompt", func(p *TaskParams) { p.NegativePrompt = strings.Repeat("a", MaxNegativePromptLen+1) }},
		{"missing style", func(p *TaskParams) { p.StyleID = 0 }},
		{"negative model", func(p *TaskParams) { p.ModelID = -1 }},
		{"narrow width", func(p *TaskParams) { p.Width = MinDimension - 1 }},
		{"tall height", func(p *TaskParams) { p.Height = MaxDimension + 1 }},
		{"too many steps", func(p *TaskParams) { p.Steps = MaxSteps + 1 }},
		{"low guidance", func(p *TaskParams) { p.Guidance = 0.5 }},
		{"too many images", func(p *TaskParams) { p.Count = MaxCount + 1 }},
	}
	for _, tc := range cases {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			p := validParams()
			tc.edit(&p)
			if err := p.Normalize(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// --- State Machine Tests ---

func TestCanTransition(t *testing.T) {
	all := []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed}
	allowed := map[[2]TaskStatus]bool{
		{TaskStatusPending, TaskStatusProcessing}:    true,
		{TaskStatusPending, TaskStatusFailed}:        true,
		{TaskStatusProcessing, TaskStatusProcessing}: true,
		{TaskStatusProcessing, TaskStatusCompleted}:  true,
		{TaskStatusProcessing, TaskStatusFailed}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]TaskStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTaskStatus(t *testing.T) {
	t.Run("should parse known statuses case-insensitively", func(t *testing.T) {
		st, err := ParseTaskStatus(" Completed ")
		if err != nil || st != TaskStatusCompleted {
			t.Errorf("expected completed, got %q %v", st, err)
		}
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		if _, err := ParseTaskStatus("done"); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("should report terminal statuses", func(t *testing.T) {
		if TaskStatusPending.IsTerminal() || TaskStatusProcessing.IsTerminal() {
			t.Error("pending and processing must not be terminal")
		}
		if !TaskStatusCompleted.IsTerminal() || !TaskStatusFailed.IsTerminal() {
			t.Error("completed and failed must be terminal")
		}
	})
}

func TestNewTask(t *testing.T) {
	t.Run("should create a pending text2img task", func(t *testing.T) {
		task, err := NewTask("t-1", "alice", validParams())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if task.Status != TaskStatusPending || task.Type != TaskTypeText2Img || task.AttemptCount != 0 {
			t.Errorf("unexpected task: %+v", task)
		}
		if task.CreatedAt.IsZero() || task.StartedAt != nil || task.CompletedAt != nil {
			t.Error("expected only createdAt to be set")
		}
	})

	t.Run("should require ids", func(t *testing.T) {
		if _, err := NewTask("", "alice", validParams()); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

// --- Quota Tests ---

func TestQuotaAccount_Remaining(t *testing.T) {
	a := &QuotaAccount{TotalQuota: 5, UsedQuota: 4}
	if a.Remaining() != 1 || !a.HasRemaining() {
		t.Errorf("expected 1 remaining, got %d", a.Remaining())
	}
	a.UsedQuota = 5
	if a.Remaining() != 0 || a.HasRemaining() {
		t.Errorf("expected exhausted account, got %d", a.Remaining())
	}
}
