package models

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending},
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ConversionRecord struct {
	ID               string    `json:"id"`
	UserID           *string   `json:"userId"`
	Status           Status    `json:"status"`
	OriginalFileName string    `json:"originalFileName"`
	SourceFormat     string    `json:"sourceFormat"`
	TargetFormat     string    `json:"targetFormat"`
	OriginalFileURL  string    `json:"originalFileUrl"`
	ConvertedFileURL *string   `json:"convertedFileUrl"`
	ErrorMessage     *string   `json:"errorMessage"`
	FileSize         int64     `json:"fileSize"`
	Attempts         int       `json:"attempts"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// RecordUpdate carries the fields committed together with a status change.
// Nil fields are left untouched.
type RecordUpdate struct {
	ConvertedFileURL *string
	ErrorMessage     *string
	FileSize         *int64
	Attempts         *int
}

// Apply copies the non-nil fields onto r.
func (u RecordUpdate) Apply(r *ConversionRecord) {
	if u.ConvertedFileURL != nil {
		v := *u.ConvertedFileURL
		r.ConvertedFileURL = &v
	}
	if u.ErrorMessage != nil {
		v := *u.ErrorMessage
		r.ErrorMessage = &v
	}
	if u.FileSize != nil {
		r.FileSize = *u.FileSize
	}
	if u.Attempts != nil {
		r.Attempts = *u.Attempts
	}
}

func NewRecord(job *ConversionJob, size int64, now time.Time) *ConversionRecord {
	return &ConversionRecord{
		ID:               job.ConversionID,
		UserID:           job.UserID,
		Status:           StatusPending,
		OriginalFileName: job.OriginalFileName,
		SourceFormat:     job.SourceFormat,
		TargetFormat:     job.TargetFormat,
		OriginalFileURL:  job.OriginalFileURL,
		FileSize:         size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func StringPtr(s string) *string { return &s }
func Int64Ptr(n int64) *int64    { return &n }
func IntPtr(n int) *int          { return &n }
