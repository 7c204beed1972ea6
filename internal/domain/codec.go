package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireJob is the on-the-wire shape published to and consumed from the
// broker, matching the job_queue row layout (id, job_type, request_data,
// job_status, created_at, execution_metadata).
type wireJob struct {
	ID                string            `json:"id"`
	JobType           JobType           `json:"job_type"`
	RequestData       GenerationRequest `json:"request_data"`
	JobStatus         JobStatus         `json:"job_status"`
	Team              string            `json:"team"`
	CreatedAt         time.Time         `json:"created_at"`
	ExecutionMetadata map[string]any    `json:"execution_metadata,omitempty"`
}

// EncodeJob serializes a Job to its broker wire format.
func EncodeJob(j Job) ([]byte, error) {
	w := wireJob{
		ID:                j.ID,
		JobType:           j.JobType,
		RequestData:       j.Request,
		JobStatus:         j.Status,
		Team:              j.Team,
		CreatedAt:         j.CreatedAt,
		ExecutionMetadata: j.ExecutionMetadata,
	}
	body, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("op=codec.encode_job: %w", err)
	}
	return body, nil
}

// DecodeJob parses a broker message body into a Job, rejecting an
// unrecognized job_type or a request missing its required fields.
func DecodeJob(body []byte) (Job, error) {
	var w wireJob
	if err := json.Unmarshal(body, &w); err != nil {
		return Job{}, fmt.Errorf("op=codec.decode_job: %w: %w", ErrSchemaInvalid, err)
	}
	if w.ID == "" {
		return Job{}, fmt.Errorf("op=codec.decode_job: missing id: %w", ErrSchemaInvalid)
	}
	switch w.JobType {
	case JobTypeTextToImage, JobTypeTextToPortrait:
	default:
		return Job{}, fmt.Errorf("op=codec.decode_job: invalid job_type %q: %w", w.JobType, ErrSchemaInvalid)
	}
	if w.RequestData.Prompt == "" {
		return Job{}, fmt.Errorf("op=codec.decode_job: missing request_data.prompt: %w", ErrSchemaInvalid)
	}
	w.RequestData.ApplyDefaults()

	return Job{
		ID:                w.ID,
		JobType:           w.JobType,
		Request:           w.RequestData,
		Status:            w.JobStatus,
		Team:              w.Team,
		CreatedAt:         w.CreatedAt,
		ExecutionMetadata: w.ExecutionMetadata,
	}, nil
}
