package models

import (
	"time"

	"github.com/google/uuid"
)

// File is one uploaded document. Key is the storage-layer identifier and is
// unique system-wide; a re-upload with the same key maps to the same File.
type File struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Key           string    `json:"key" db:"key"`
	Name          string    `json:"name" db:"name"`
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	URL           string    `json:"url" db:"url"`
	UploadStatus  string    `json:"upload_status" db:"upload_status"`
	FailureReason string    `json:"failure_reason,omitempty" db:"failure_reason"`
	CreateTime    time.Time `json:"create_time" db:"create_time"`
}

// Message is one conversational turn scoped to a File.
type Message struct {
	ID            uuid.UUID `json:"id" db:"id"`
	FileID        uuid.UUID `json:"file_id" db:"file_id"`
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	Text          string    `json:"text" db:"text"`
	IsUserMessage bool      `json:"is_user_message" db:"is_user_message"`
	CreateTime    time.Time `json:"create_time" db:"create_time"`
}

const (
	UploadStatusPending    = "PENDING"
	UploadStatusProcessing = "PROCESSING"
	UploadStatusSuccess    = "SUCCESS"
	UploadStatusFailed     = "FAILED"
)

// Terminal reports whether a status permits no further transitions.
func Terminal(status string) bool {
	return status == UploadStatusSuccess || status == UploadStatusFailed
}
