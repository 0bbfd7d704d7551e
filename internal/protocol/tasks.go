package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/narrata-labs/narrata-core/internal/segment"
)

// TaskType discriminates the payload carried by a task envelope.
type TaskType string

const (
	TaskFormat          TaskType = "format"
	TaskSpeakerClone    TaskType = "speaker_clone"
	TaskSynthesize      TaskType = "synthesize"
	TaskSynthesisResult TaskType = "synthesis_result"
	TaskJobResult       TaskType = "job_result"
)

// Status values written to the job status store. A job or (job, section)
// pair moves through these; terminal states are completed, error, timeout
// and validation_failed.
const (
	StatusPending          = "pending"
	StatusProcessing       = "processing"
	StatusCollecting       = "collecting"
	StatusAssembling       = "assembling"
	StatusCompleted        = "completed"
	StatusError            = "error"
	StatusTimeout          = "timeout"
	StatusValidationFailed = "validation_failed"
)

// Queue subjects. One queue per task type plus an overall results feed.
const (
	QueueFormat          = "tasks.format"
	QueueSpeakerClone    = "tasks.clone"
	QueueSynthesize      = "tasks.synthesize"
	QueueSynthesisResult = "tasks.synthesize.result"
	QueueResults         = "tasks.results"

	SubjectHealthRequest  = "ctrl.health.request"
	SubjectHealthResponse = "ctrl.health.response"
)

// Task is the envelope every queue item travels in. Payload is decoded
// into one of the typed payload structs by DecodePayload once the
// envelope has passed schema validation.
type Task struct {
	TaskID    string          `json:"task_id"`
	Type      TaskType        `json:"task_type"`
	JobID     string          `json:"job_id"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// FormatPayload starts a narration job. Either Sections carries an
// already-extracted tree, or FileName/FileData are handed to the
// extraction backend.
type FormatPayload struct {
	BookTitle    string            `json:"book_title"`
	SectionTitle string            `json:"section_title,omitempty"`
	Voice        string            `json:"voice,omitempty"`
	Language     string            `json:"language,omitempty"`
	Sections     []segment.Section `json:"sections,omitempty"`
	FileName     string            `json:"file_name,omitempty"`
	FileData     []byte            `json:"file_data,omitempty"`
}

// SynthesizePayload is one chunk of section text fanned out for
// synthesis. TotalChunks is fixed at fan-out time and never revised.
type SynthesizePayload struct {
	BookTitle    string `json:"book_title"`
	SectionIndex string `json:"section_index"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
	Heading      string `json:"heading"`
	Text         string `json:"text"`
	Voice        string `json:"voice,omitempty"`
	Language     string `json:"language,omitempty"`
}

// SynthesisResultPayload carries synthesized audio back for fan-in.
type SynthesisResultPayload struct {
	BookTitle    string `json:"book_title"`
	SectionIndex string `json:"section_index"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
	Heading      string `json:"heading"`
	Audio        []byte `json:"audio"`
}

// JobResultPayload is the completion notice published on the results
// feed once a section artifact has been stored.
type JobResultPayload struct {
	BookTitle    string `json:"book_title"`
	SectionIndex string `json:"section_index"`
	Heading      string `json:"heading"`
	ArtifactKey  string `json:"artifact_key"`
	Status       string `json:"status"`
}

// SpeakerClonePayload registers a reference voice with the synthesis
// backend.
type SpeakerClonePayload struct {
	VoiceName   string `json:"voice_name"`
	SampleAudio []byte `json:"sample_audio"`
}

// HealthRequest and HealthResponse are the side-channel heartbeat
// messages, independent of the task queues.
type HealthRequest struct {
	Action string `json:"action"`
}

type HealthResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

const HealthCheckAction = "health_check"

// NewTask builds an envelope with a fresh task ID and a UTC timestamp.
func NewTask(taskType TaskType, jobID string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return Task{
		TaskID:    uuid.NewString(),
		Type:      taskType,
		JobID:     jobID,
		Payload:   raw,
		Status:    StatusPending,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodePayload resolves the tagged union. Handlers receive concrete
// payload types instead of raw JSON.
func DecodePayload(task Task) (any, error) {
	switch task.Type {
	case TaskFormat:
		var p FormatPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode format payload: %w", err)
		}
		return p, nil
	case TaskSynthesize:
		var p SynthesizePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode synthesize payload: %w", err)
		}
		return p, nil
	case TaskSynthesisResult:
		var p SynthesisResultPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode synthesis result payload: %w", err)
		}
		return p, nil
	case TaskSpeakerClone:
		var p SpeakerClonePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode speaker clone payload: %w", err)
		}
		return p, nil
	case TaskJobResult:
		var p JobResultPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode job result payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", task.Type)
	}
}

// QueueForType maps a task type to the queue it is produced on.
func QueueForType(t TaskType) (string, bool) {
	switch t {
	case TaskFormat:
		return QueueFormat, true
	case TaskSpeakerClone:
		return QueueSpeakerClone, true
	case TaskSynthesize:
		return QueueSynthesize, true
	case TaskSynthesisResult:
		return QueueSynthesisResult, true
	case TaskJobResult:
		return QueueResults, true
	default:
		return "", false
	}
}
