// narrata-submit is a small operator CLI: it submits narration jobs,
// registers cloned voices, and pings the daemon's health beacon over
// the bus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/narrata-labs/narrata-core/internal/bus"
	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/extract"
	"github.com/narrata-labs/narrata-core/internal/protocol"
	"github.com/narrata-labs/narrata-core/internal/schema"
)

func main() {
	var (
		servers     string
		filePath    string
		bookTitle   string
		sectionName string
		voice       string
		language    string
		cloneName   string
		cloneSample string
		healthPing  bool
		timeout     time.Duration
	)

	flag.StringVar(&servers, "servers", "nats://127.0.0.1:4222", "Comma-separated NATS server URLs")
	flag.StringVar(&filePath, "file", "", "Document to narrate (.json holds an extracted section tree)")
	flag.StringVar(&bookTitle, "title", "", "Book title (defaults to the file name)")
	flag.StringVar(&sectionName, "section", "", "Narrate only sections with this heading")
	flag.StringVar(&voice, "voice", "", "Voice name")
	flag.StringVar(&language, "language", "", "Language code")
	flag.StringVar(&cloneName, "clone-voice", "", "Register a cloned voice under this name")
	flag.StringVar(&cloneSample, "clone-sample", "", "Reference audio file for voice cloning")
	flag.BoolVar(&healthPing, "health", false, "Ping the health beacon and exit")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	busCfg := config.Default().Bus
	busCfg.Servers = strings.Split(servers, ",")
	client, err := bus.Connect(ctx, busCfg, logger)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer client.Close()

	switch {
	case healthPing:
		pingHealth(client, timeout)
	case cloneName != "":
		submitClone(client, cloneName, cloneSample)
	case filePath != "":
		submitFormat(ctx, client, filePath, bookTitle, sectionName, voice, language)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func submitFormat(ctx context.Context, client *bus.Client, filePath, bookTitle, sectionName, voice, language string) {
	if !extract.SupportedExtension(filePath) {
		fatal("unsupported file extension %q", filepath.Ext(filePath))
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		fatal("read %s: %v", filePath, err)
	}

	payload := protocol.FormatPayload{
		BookTitle:    bookTitle,
		SectionTitle: sectionName,
		Voice:        voice,
		Language:     language,
	}

	// A JSON document is decoded client-side so a malformed tree fails
	// here instead of inside the daemon.
	if strings.EqualFold(filepath.Ext(filePath), ".json") {
		doc, err := extract.NewInlineExtractor().Extract(ctx, filePath, data)
		if err != nil {
			fatal("parse %s: %v", filePath, err)
		}
		payload.Sections = doc.Sections
		if payload.BookTitle == "" {
			payload.BookTitle = doc.Title
		}
	} else {
		payload.FileName = filepath.Base(filePath)
		payload.FileData = data
	}
	if payload.BookTitle == "" {
		payload.BookTitle = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	jobID := publish(client, protocol.TaskFormat, payload)
	fmt.Printf("submitted job %s\n", jobID)
}

func submitClone(client *bus.Client, name, samplePath string) {
	if samplePath == "" {
		fatal("-clone-sample is required with -clone-voice")
	}
	sample, err := os.ReadFile(samplePath)
	if err != nil {
		fatal("read %s: %v", samplePath, err)
	}
	jobID := publish(client, protocol.TaskSpeakerClone, protocol.SpeakerClonePayload{
		VoiceName:   name,
		SampleAudio: sample,
	})
	fmt.Printf("submitted voice clone job %s\n", jobID)
}

// publish validates the task the same way the daemon's enqueue gate
// does, then writes it to the task type's queue.
func publish(client *bus.Client, taskType protocol.TaskType, payload any) string {
	task, err := protocol.NewTask(taskType, newJobID(), payload)
	if err != nil {
		fatal("build task: %v", err)
	}
	registry := schema.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := registry.Validate(task); err != nil {
		fatal("invalid task: %v", err)
	}
	queue, ok := protocol.QueueForType(taskType)
	if !ok {
		fatal("no queue for task type %s", taskType)
	}
	data, err := json.Marshal(task)
	if err != nil {
		fatal("marshal task: %v", err)
	}
	if err := client.Conn().Publish(queue, data); err != nil {
		fatal("publish: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		fatal("flush: %v", err)
	}
	return task.JobID
}

func pingHealth(client *bus.Client, timeout time.Duration) {
	inbox := make(chan protocol.HealthResponse, 1)
	sub, err := client.Conn().Subscribe(protocol.SubjectHealthResponse, func(msg *nats.Msg) {
		var resp protocol.HealthResponse
		if err := json.Unmarshal(msg.Data, &resp); err == nil {
			select {
			case inbox <- resp:
			default:
			}
		}
	})
	if err != nil {
		fatal("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	req, _ := json.Marshal(protocol.HealthRequest{Action: protocol.HealthCheckAction})
	if err := client.Conn().Publish(protocol.SubjectHealthRequest, req); err != nil {
		fatal("publish health request: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		fatal("flush: %v", err)
	}

	select {
	case resp := <-inbox:
		fmt.Printf("%s: %s\n", resp.Service, resp.Status)
	case <-time.After(timeout):
		fatal("no health response within %s", timeout)
	}
}

func newJobID() string {
	return uuid.NewString()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
