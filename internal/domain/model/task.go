package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"image-task-pipeline/internal/domain"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

const TaskTypeText2Img = "text2img"

// Fixed error messages written by the pipeline itself.
const (
	ErrMsgEnqueueFailed = "task enqueue failed"
	ErrMsgCancelled     = "cancelled by user"
)

// Parameter bounds and defaults.
const (
	MaxPromptLen         = 2000
	MaxNegativePromptLen = 1000
	MinDimension         = 256
	MaxDimension         = 2048
	DefaultDimension     = 1024
	MinSteps             = 1
	MaxSteps             = 100
	DefaultSteps         = 30
	MinGuidance          = 1.0
	MaxGuidance          = 30.0
	DefaultGuidance      = 7.5
	MaxCount             = 8
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", domain.ErrValidation, s)
}

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition encodes the task state machine:
// pending -> processing -> {completed, failed}, pending -> failed.
// A processing task may be re-marked processing by a redelivered job.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusProcessing || to == TaskStatusCompleted || to == TaskStatusFailed
	}
	return false
}

// TaskParams is the generation request as admitted. Stored as JSON.
type TaskParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	StyleID        int64   `json:"styleId"`
	ModelID        int64   `json:"modelId"`
	StyleName      string  `json:"styleName,omitempty"`
	ModelName      string  `json:"modelName,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Guidance       float64 `json:"guidance"`
	Seed           *int64  `json:"seed,omitempty"`
	Ratio          string  `json:"ratio,omitempty"`
	Count          int     `json:"count"`
}

// Normalize applies defaults to zero values and checks bounds.
// Every violation is reported as domain.ErrValidation.
func (p *TaskParams) Normalize() error {
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.NegativePrompt = strings.TrimSpace(p.NegativePrompt)

	if p.Width == 0 {
		p.Width = DefaultDimension
	}
	if p.Height == 0 {
		p.Height = DefaultDimension
	}
	if p.Steps == 0 {
		p.Steps = DefaultSteps
	}
	if p.Guidance == 0 {
		p.Guidance = DefaultGuidance
	}
	if p.Count == 0 {
		p.Count = 1
	}

	switch n := utf8.RuneCountInString(p.Prompt); {
	case n == 0:
		return fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	case n > MaxPromptLen:
		return fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrValidation, MaxPromptLen)
	}
	if utf8.RuneCountInString(p.NegativePrompt) > MaxNegativePromptLen {
		return fmt.Errorf("%w: negativePrompt exceeds %d characters", domain.ErrValidation, MaxNegativePromptLen)
	}
	if p.StyleID <= 0 || p.ModelID <= 0 {
		return fmt.Errorf("%w: styleId and modelId must be positive", domain.ErrValidation)
	}
	if p.Width < MinDimension || p.Width > MaxDimension || p.Height < MinDimension || p.Height > MaxDimension {
		return fmt.Errorf("%w: width and height must be within [%d, %d]", domain.ErrValidation, MinDimension, MaxDimension)
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps must be within [%d, %d]", domain.ErrValidation, MinSteps, MaxSteps)
	}
	if p.Guidance < MinGuidance || p.Guidance > MaxGuidance {
		return fmt.Errorf("%w: guidance must be within [%.0f, %.0f]", domain.ErrValidation, MinGuidance, MaxGuidance)
	}
	if p.Count < 1 || p.Count > MaxCount {
		return fmt.Errorf("%w: count must be within [1, %d]", domain.ErrValidation, MaxCount)
	}
	return nil
}

// TaskResult is what a completed task points at.
type TaskResult struct {
	ArtifactID   string `json:"worksId"`
	ImageURL     string `json:"imageUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Seed         int64  `json:"seed"`
}

type Task struct {
	ID           string
	OwnerID      string
	Type         string
	Status       TaskStatus
	Params       TaskParams
	Result       *TaskResult
	ErrorMessage *string
	AttemptCount int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// NewTask builds a pending text2img task. Params must already be normalized.
func NewTask(id, ownerID string, params TaskParams) (*Task, error) {
	if id == "" || ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Task{
		ID:        id,
		OwnerID:   ownerID,
		Type:      TaskTypeText2Img,
		Status:    TaskStatusPending,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}, nil
}
