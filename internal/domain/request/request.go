package request

import (
	"errors"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

type Type string

const (
	TypeNotes  Type = "NOTES"
	TypeUpload Type = "UPLOAD"
)

type Subject string

const (
	SubjectMath    Subject = "MATH"
	SubjectEnglish Subject = "ENGLISH"
	SubjectScience Subject = "SCIENCE"
	SubjectHistory Subject = "HISTORY"
	SubjectOther   Subject = "OTHER"
)

type MaterialCategory string

const (
	CategorySummary  MaterialCategory = "SUMMARY"
	CategoryExercise MaterialCategory = "EXERCISE"
	CategoryExam     MaterialCategory = "EXAM"
	CategoryOther    MaterialCategory = "OTHER"
)

// RequestItem is a material request filed by a student. UserName and
// UserPhone are denormalized copies of the owning user's fields, captured
// at creation time and rewritten by the facade when the user changes.
type RequestItem struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	UserName         string           `json:"userName"`
	UserPhone        string           `json:"userPhone"`
	Subject          Subject          `json:"subject"`
	Unit             string           `json:"unit"`
	Type             Type             `json:"type"`
	MaterialCategory MaterialCategory `json:"materialCategory,omitempty"`
	AttachedFileName string           `json:"attachedFileName,omitempty"`
	Description      string           `json:"description,omitempty"`
	Status           Status           `json:"status"`
	CreatedAt        int64            `json:"createdAt"` // epoch millis, immutable
}

// Key is the identity used by the reconciliation fold.
func (r RequestItem) Key() string { return r.ID }

var ErrNotFound = errors.New("request not found")

type CreateRequest struct {
	Subject          Subject          `json:"subject" binding:"required,oneof=MATH ENGLISH SCIENCE HISTORY OTHER"`
	Unit             string           `json:"unit" binding:"required,max=120"`
	Type             Type             `json:"type" binding:"required,oneof=NOTES UPLOAD"`
	MaterialCategory MaterialCategory `json:"materialCategory" binding:"omitempty,oneof=SUMMARY EXERCISE EXAM OTHER"`
	AttachedFileName string           `json:"attachedFileName" binding:"omitempty,max=255"`
	Description      string           `json:"description" binding:"omitempty,max=1000"`
}

// Patch is a partial-update payload. Nil fields are left untouched.
// ID, UserID and CreatedAt are immutable and have no patch fields.
type Patch struct {
	UserName         *string           `json:"userName" binding:"omitempty,min=2,max=120"`
	UserPhone        *string           `json:"userPhone" binding:"omitempty,len=10,numeric"`
	Unit             *string           `json:"unit" binding:"omitempty,max=120"`
	MaterialCategory *MaterialCategory `json:"materialCategory" binding:"omitempty,oneof=SUMMARY EXERCISE EXAM OTHER"`
	AttachedFileName *string           `json:"attachedFileName" binding:"omitempty,max=255"`
	Description      *string           `json:"description" binding:"omitempty,max=1000"`
	Status           *Status           `json:"status" binding:"omitempty,oneof=PENDING IN_PROGRESS COMPLETED REJECTED"`
}

func (p Patch) Empty() bool {
	return p.UserName == nil && p.UserPhone == nil && p.Unit == nil &&
		p.MaterialCategory == nil && p.AttachedFileName == nil &&
		p.Description == nil && p.Status == nil
}

// ApplyTo merges the patch into a copy of r.
func (p Patch) ApplyTo(r RequestItem) RequestItem {
	if p.UserName != nil {
		r.UserName = *p.UserName
	}
	if p.UserPhone != nil {
		r.UserPhone = *p.UserPhone
	}
	if p.Unit != nil {
		r.Unit = *p.Unit
	}
	if p.MaterialCategory != nil {
		r.MaterialCategory = *p.MaterialCategory
	}
	if p.AttachedFileName != nil {
		r.AttachedFileName = *p.AttachedFileName
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	return r
}
