// Package schema validates task envelopes before they enter the
// pipeline. Each task type maps to a required-field schema; validation
// failure drops the task, it never crashes a consumer.
package schema

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/narrata-labs/narrata-core/internal/protocol"
)

const cacheBucket = "task-schemas"

// Schema lists the payload fields a task type must carry.
type Schema struct {
	Required []string `json:"required"`
}

// Registry resolves schemas by task type. Lookups read through an
// optional JetStream KV cache and fall back to the static in-process
// table, writing back on a static hit (lazy population).
type Registry struct {
	mu     sync.RWMutex
	static map[protocol.TaskType]Schema
	cache  nats.KeyValue
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		static: map[protocol.TaskType]Schema{
			protocol.TaskFormat: {Required: []string{"book_title"}},
			protocol.TaskSpeakerClone: {Required: []string{
				"voice_name", "sample_audio",
			}},
			protocol.TaskSynthesize: {Required: []string{
				"book_title", "section_index", "chunk_index", "total_chunks", "text",
			}},
			protocol.TaskSynthesisResult: {Required: []string{
				"book_title", "section_index", "chunk_index", "total_chunks", "audio",
			}},
			protocol.TaskJobResult: {Required: []string{
				"book_title", "section_index", "artifact_key", "status",
			}},
		},
		log: log.With(slog.String("component", "schema-registry")),
	}
}

// AttachCache binds the shared KV bucket. The registry works without it;
// KV unavailability degrades to the static table.
func (r *Registry) AttachCache(js nats.JetStreamContext) error {
	kv, err := js.KeyValue(cacheBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: cacheBucket})
		if err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.cache = kv
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(taskType protocol.TaskType) (Schema, bool) {
	r.mu.RLock()
	cache := r.cache
	r.mu.RUnlock()

	if cache != nil {
		if entry, err := cache.Get(string(taskType)); err == nil {
			var s Schema
			if err := json.Unmarshal(entry.Value(), &s); err == nil {
				return s, true
			}
			r.log.Warn("corrupt cached schema, falling back to static registry",
				slog.String("task_type", string(taskType)))
		}
	}

	s, ok := r.static[taskType]
	if ok && cache != nil {
		if data, err := json.Marshal(s); err == nil {
			if _, err := cache.Put(string(taskType), data); err != nil {
				r.log.Warn("schema cache write-back failed", slog.String("error", err.Error()))
			}
		}
	}
	return s, ok
}

// Validate checks the envelope and the payload's required fields.
// A nil return means the task may enter its queue; any error is a
// *protocol.ValidationError.
func (r *Registry) Validate(task protocol.Task) error {
	var missing []string
	if task.TaskID == "" {
		missing = append(missing, "task_id")
	}
	if task.JobID == "" {
		missing = append(missing, "job_id")
	}
	if len(missing) > 0 {
		return &protocol.ValidationError{TaskType: task.Type, Missing: missing}
	}

	s, ok := r.lookup(task.Type)
	if !ok {
		return &protocol.ValidationError{TaskType: task.Type, Reason: "unknown task type"}
	}

	var fields map[string]any
	if err := json.Unmarshal(task.Payload, &fields); err != nil {
		return &protocol.ValidationError{TaskType: task.Type, Reason: "payload is not a JSON object"}
	}

	for _, field := range s.Required {
		value, present := fields[field]
		if !present || value == nil {
			missing = append(missing, field)
			continue
		}
		if str, isString := value.(string); isString && str == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &protocol.ValidationError{TaskType: task.Type, Missing: missing}
	}
	return nil
}
