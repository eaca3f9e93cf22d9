package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator"

	"github.com/tinkermonkey/conceptnet-compose/internal/runner"
)

// IngestMessage requests one ingestion run.
type IngestMessage struct {
	Input     string `json:"input" validate:"required"`
	MaxRows   int64  `json:"max_rows,omitempty" validate:"min=0"`
	BuildView *bool  `json:"build_view,omitempty"`
}

var validate = validator.New()

func ParseIngestMessage(body []byte) (IngestMessage, error) {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid ingest message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("invalid ingest message: %w", err)
	}
	return msg, nil
}

func (m IngestMessage) Job() runner.Job {
	return runner.Job{
		Input:     m.Input,
		MaxRows:   m.MaxRows,
		BuildView: m.BuildView,
	}
}

// Encode validates and serialises m for publishing.
func (m IngestMessage) Encode() ([]byte, error) {
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid ingest message: %w", err)
	}
	return json.Marshal(m)
}
