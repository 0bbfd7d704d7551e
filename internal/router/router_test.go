package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/protocol"
	"github.com/narrata-labs/narrata-core/internal/schema"
	"github.com/narrata-labs/narrata-core/internal/status"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(t *testing.T) (*Router, *status.Store) {
	t.Helper()
	logger := newLogger()
	store, err := status.Open(context.Background(), config.StatusConfig{
		Path: filepath.Join(t.TempDir(), "status.db"),
	}, logger)
	if err != nil {
		t.Fatalf("open status store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	r := New(context.Background(), config.Default().Queues, nil, schema.NewRegistry(logger), store, logger)
	t.Cleanup(r.Close)
	return r, store
}

func marshalTask(t *testing.T, task protocol.Task) []byte {
	t.Helper()
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return data
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	r, _ := newTestRouter(t)

	var got protocol.Task
	r.Handle(protocol.QueueSynthesize, func(_ context.Context, queue string, task protocol.Task) error {
		if queue != protocol.QueueSynthesize {
			t.Fatalf("unexpected queue %q", queue)
		}
		got = task
		return nil
	})

	task, err := protocol.NewTask(protocol.TaskSynthesize, "job-1", protocol.SynthesizePayload{
		BookTitle:    "book",
		SectionIndex: "1.0.0.0.0",
		TotalChunks:  1,
		Text:         "A.",
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	r.dispatch(protocol.QueueSynthesize, marshalTask(t, task))

	if got.TaskID != task.TaskID {
		t.Fatalf("handler did not receive task, got %+v", got)
	}
}

func TestDispatchValidationGate(t *testing.T) {
	r, store := newTestRouter(t)

	called := false
	r.Handle(protocol.QueueSynthesize, func(context.Context, string, protocol.Task) error {
		called = true
		return nil
	})

	// Missing the required text field.
	task, err := protocol.NewTask(protocol.TaskSynthesize, "job-bad", map[string]any{
		"book_title":    "book",
		"section_index": "1.0.0.0.0",
		"chunk_index":   0,
		"total_chunks":  1,
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	r.dispatch(protocol.QueueSynthesize, marshalTask(t, task))

	if called {
		t.Fatal("invalid task must never reach a handler")
	}
	rec, ok, err := store.Get(context.Background(), "job-bad")
	if err != nil || !ok {
		t.Fatalf("expected status record, ok=%v err=%v", ok, err)
	}
	if rec.Status != protocol.StatusValidationFailed {
		t.Fatalf("expected %s, got %s", protocol.StatusValidationFailed, rec.Status)
	}
}

func TestDispatchUnknownQueueSkipped(t *testing.T) {
	r, _ := newTestRouter(t)

	task, err := protocol.NewTask(protocol.TaskFormat, "job-1", protocol.FormatPayload{BookTitle: "book"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	// No handler registered for this queue; must log and return, not
	// panic.
	r.dispatch("tasks.mystery", marshalTask(t, task))
}

func TestDispatchMalformedItemDropped(t *testing.T) {
	r, _ := newTestRouter(t)
	r.Handle(protocol.QueueFormat, func(context.Context, string, protocol.Task) error {
		t.Fatal("handler called for malformed item")
		return nil
	})
	r.dispatch(protocol.QueueFormat, []byte("{{{not json"))
}

func TestDispatchSurvivesHandlerPanic(t *testing.T) {
	r, _ := newTestRouter(t)
	r.Handle(protocol.QueueFormat, func(context.Context, string, protocol.Task) error {
		panic("handler exploded")
	})

	task, err := protocol.NewTask(protocol.TaskFormat, "job-1", protocol.FormatPayload{BookTitle: "book"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	r.dispatch(protocol.QueueFormat, marshalTask(t, task))
	// A second dispatch still works after the panic.
	r.dispatch(protocol.QueueFormat, marshalTask(t, task))
}
