package kafka

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"notebatch/internal/domain/batch"
)

const (
	messageTypeRun  = "run"
	messageTypeDone = "done"
)

// runRequestEnvelope is the wire format for one scorer run request. A message
// with type "done" tells workers the feed is exhausted.
type runRequestEnvelope struct {
	Type       string `json:"type"`
	Dataset    string `json:"dataset"`
	Notes      string `json:"notes"`
	Ratings    string `json:"ratings"`
	Enrollment string `json:"enrollment"`
	Status     string `json:"status"`
	RunIndex   int    `json:"run_index"`
	OutDir     string `json:"out_dir"`
}

// reportEnvelope is the wire format for one run report.
type reportEnvelope struct {
	BatchID    string    `json:"batch_id,omitempty"`
	Dataset    string    `json:"dataset"`
	RunIndex   int       `json:"run_index"`
	OutDir     string    `json:"out_dir,omitempty"`
	Status     string    `json:"status,omitempty"`
	ExitCode   *int64    `json:"exit_code,omitempty"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func decodeRunRequest(msg kafkago.Message) (batch.Run, error) {
	var envelope runRequestEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return batch.Run{}, fmt.Errorf("decode message: %w", err)
	}

	msgType := envelope.Type
	if msgType == "" {
		msgType = messageTypeRun
	}

	switch msgType {
	case messageTypeRun:
		return envelope.toRun()
	case messageTypeDone:
		return batch.Run{}, io.EOF
	default:
		return batch.Run{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

func (e runRequestEnvelope) toRun() (batch.Run, error) {
	if e.Notes == "" {
		return batch.Run{}, fmt.Errorf("run request missing notes path")
	}
	if e.OutDir == "" {
		return batch.Run{}, fmt.Errorf("run request missing output directory")
	}
	if e.RunIndex < 0 {
		return batch.Run{}, fmt.Errorf("run request has negative index %d", e.RunIndex)
	}

	return batch.Run{
		Dataset: batch.Dataset{
			Name:           e.Dataset,
			NotesPath:      e.Notes,
			RatingsPath:    e.Ratings,
			EnrollmentPath: e.Enrollment,
			StatusPath:     e.Status,
		},
		Index:  e.RunIndex,
		OutDir: e.OutDir,
	}, nil
}

func encodeRunRequest(run batch.Run) ([]byte, error) {
	payload, err := json.Marshal(runRequestEnvelope{
		Type:       messageTypeRun,
		Dataset:    run.Dataset.Name,
		Notes:      run.Dataset.NotesPath,
		Ratings:    run.Dataset.RatingsPath,
		Enrollment: run.Dataset.EnrollmentPath,
		Status:     run.Dataset.StatusPath,
		RunIndex:   run.Index,
		OutDir:     run.OutDir,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}
	return payload, nil
}

func encodeDone() ([]byte, error) {
	payload, err := json.Marshal(runRequestEnvelope{Type: messageTypeDone})
	if err != nil {
		return nil, fmt.Errorf("marshal done message: %w", err)
	}
	return payload, nil
}

func encodeRunReport(batchID string, report batch.RunReport) ([]byte, error) {
	payload, err := json.Marshal(makeReportEnvelope(batchID, report))
	if err != nil {
		return nil, fmt.Errorf("marshal run report: %w", err)
	}
	return payload, nil
}

func makeReportEnvelope(batchID string, report batch.RunReport) reportEnvelope {
	envelope := reportEnvelope{
		BatchID:   batchID,
		Dataset:   report.Run.Dataset.Name,
		RunIndex:  report.Run.Index,
		OutDir:    report.Run.OutDir,
		Timestamp: time.Now().UTC(),
	}

	if report.Result != nil {
		exit := report.Result.ExitCode
		durationMs := report.Result.Duration.Milliseconds()

		envelope.Status = string(report.Result.Status)
		envelope.ExitCode = &exit
		envelope.DurationMs = &durationMs
		envelope.StartedAt = report.Result.StartedAt
		envelope.FinishedAt = report.Result.FinishedAt
	}

	if report.Err != nil {
		envelope.Error = report.Err.Error()
	}
	return envelope
}
