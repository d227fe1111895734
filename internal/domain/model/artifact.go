package model

import "time"

// Artifact is the persisted output of a completed task. At most one per task.
type Artifact struct {
	ID           string
	TaskID       string
	OwnerID      string
	ImageURL     string
	ThumbnailURL string
	Width        int
	Height       int
	Params       TaskParams
	CreatedAt    time.Time
}

func (a *Artifact) Result() *TaskResult {
	r := &TaskResult{
		ArtifactID:   a.ID,
		ImageURL:     a.ImageURL,
		ThumbnailURL: a.ThumbnailURL,
		Width:        a.Width,
		Height:       a.Height,
	}
	if a.Params.Seed != nil {
		r.Seed = *a.Params.Seed
	}
	return r
}
