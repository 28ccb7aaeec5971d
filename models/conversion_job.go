package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type ConversionJob struct {
	ConversionID     string         `json:"conversionId"`
	UserID           *string        `json:"userId"`
	OriginalFileURL  string         `json:"originalFileUrl"`
	OriginalFileName string         `json:"originalFileName"`
	SourceFormat     string         `json:"sourceFormat"`
	TargetFormat     string         `json:"targetFormat"`
	Quality          *int           `json:"quality,omitempty"`
	Compression      *bool          `json:"compression,omitempty"`
	Options          map[string]any `json:"options,omitempty"`
	Attempt          int            `json:"attempt"`
	MaxRetries       int            `json:"maxRetries"`
	EnqueuedAt       time.Time      `json:"enqueuedAt"`
}

// Owner returns the user id or "anonymous".
func (j *ConversionJob) Owner() string {
	if j.UserID == nil || *j.UserID == "" {
		return "anonymous"
	}
	return *j.UserID
}

func (j *ConversionJob) Validate() error {
	switch {
	case j.ConversionID == "":
		return fmt.Errorf("conversionId is required")
	case j.OriginalFileURL == "":
		return fmt.Errorf("originalFileUrl is required")
	case j.SourceFormat == "":
		return fmt.Errorf("sourceFormat is required")
	case j.TargetFormat == "":
		return fmt.Errorf("targetFormat is required")
	}
	return nil
}

// Retry returns a copy of the job with the attempt counter advanced.
func (j ConversionJob) Retry(now time.Time) ConversionJob {
	j.Attempt++
	j.EnqueuedAt = now
	return j
}

func (j *ConversionJob) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ParseJob(payload string) (*ConversionJob, error) {
	var job ConversionJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	return &job, nil
}

// OptionInt reads an integer option. JSON numbers decode as float64.
func (j *ConversionJob) OptionInt(key string) (int, bool) {
	v, ok := j.Options[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
