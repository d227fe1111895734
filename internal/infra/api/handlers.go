package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/domain/model"
	"image-task-pipeline/internal/infra/logging"
)

const maxSubmitBody = 64 << 10

type submitRequest struct {
	Prompt         string         `json:"prompt" validate:"required,max=2000"`
	NegativePrompt string         `json:"negativePrompt" validate:"max=1000"`
	StyleID        int64          `json:"styleId" validate:"required,gt=0"`
	ModelID        int64          `json:"modelId" validate:"required,gt=0"`
	Params         *submitOptions `json:"params"`
}

type submitOptions struct {
	Width    int     `json:"width" validate:"omitempty,min=256,max=2048"`
	Height   int     `json:"height" validate:"omitempty,min=256,max=2048"`
	Steps    int     `json:"steps" validate:"omitempty,min=1,max=100"`
	Guidance float64 `json:"guidance" validate:"omitempty,min=1,max=30"`
	Seed     *int64  `json:"seed" validate:"omitempty,min=0"`
	Ratio    string  `json:"ratio" validate:"omitempty,max=16"`
	Count    int     `json:"count" validate:"omitempty,min=1,max=8"`
}

func (r submitRequest) toParams() model.TaskParams {
	p := model.TaskParams{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		StyleID:        r.StyleID,
		ModelID:        r.ModelID,
	}
	if o := r.Params; o != nil {
		p.Width = o.Width
		p.Height = o.Height
		p.Steps = o.Steps
		p.Guidance = o.Guidance
		p.Seed = o.Seed
		p.Ratio = o.Ratio
		p.Count = o.Count
	}
	return p
}

type submitResponse struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type taskResponse struct {
	TaskID        string            `json:"taskId"`
	Status        string            `json:"status"`
	QueuePosition *int              `json:"queuePosition,omitempty"`
	Result        *model.TaskResult `json:"result,omitempty"`
	ErrorMessage  *string           `json:"errorMessage,omitempty"`
	AttemptCount  int               `json:"attemptCount"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}

func toTaskResponse(t *model.Task, pos *int) taskResponse {
	return taskResponse{
		TaskID:        t.ID,
		Status:        string(t.Status),
		QueuePosition: pos,
		Result:        t.Result,
		ErrorMessage:  t.ErrorMessage,
		AttemptCount:  t.AttemptCount,
		CreatedAt:     t.CreatedAt,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, s.log, fmt.Errorf("%w: malformed request body", domain.ErrValidation))
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, s.log, validationErr(err))
		return
	}

	res, err := s.tasks.Submit(r.Context(), logging.OwnerIDFrom(r.Context()), req.toParams())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		TaskID:  res.TaskID,
		Status:  string(res.Status),
		Message: res.Message,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var status *model.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := model.ParseTaskStatus(raw)
		if err != nil {
			writeError(w, r, s.log, err)
			return
		}
		status = &st
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, s.log, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		limit = n
	}

	tasks, err := s.tasks.List(r.Context(), logging.OwnerIDFrom(r.Context()), status, limit)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	ctx := logging.WithTaskID(r.Context(), taskID)

	view, err := s.tasks.GetStatus(ctx, taskID, logging.OwnerIDFrom(ctx))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(view.Task, view.QueuePosition))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	ctx := logging.WithTaskID(r.Context(), taskID)

	if err := s.tasks.Cancel(ctx, taskID, logging.OwnerIDFrom(ctx)); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.tasks.QueueStats(r.Context())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// validationErr reports the first failing field by its JSON name.
func validationErr(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return fmt.Errorf("%w: %s failed on %q", domain.ErrValidation, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}
