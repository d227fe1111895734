package model

import "time"

type CategoryKind string

const (
	CategoryStyle CategoryKind = "style"
	CategoryModel CategoryKind = "model"
)

type Category struct {
	ID        int64
	Kind      CategoryKind
	Name      string
	Enabled   bool
	SortOrder int
	CreatedAt time.Time
}
