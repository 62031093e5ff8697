package lull

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Task is one candidate the scheduler may slot into a lull.
type Task struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`

	// FrequencyDays is how often the task wants to run; zero means
	// the default weekly cadence.
	FrequencyDays int `json:"frequency_days,omitempty"`
}

// Frequency returns the task's desired cadence.
func (t Task) Frequency() time.Duration {
	if t.FrequencyDays <= 0 {
		return DefaultTaskFrequency
	}
	return time.Duration(t.FrequencyDays) * 24 * time.Hour
}

const tasksSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "platform"],
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "platform": {"type": "string", "minLength": 1},
      "frequency_days": {"type": "integer", "minimum": 1}
    },
    "additionalProperties": false
  }
}`

// LoadTasks reads and validates a tasks-to-run file.
func LoadTasks(path string) ([]Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	if err := validateTasks(raw); err != nil {
		return nil, fmt.Errorf("tasks file %s: %w", path, err)
	}
	var tasks []Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks file %s: %w", path, err)
	}
	return tasks, nil
}

func validateTasks(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(tasksSchema)
	docLoader := gojsonschema.NewBytesLoader(raw)
	res, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate tasks: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, item := range res.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", item.Field(), item.Description()))
	}
	return fmt.Errorf("invalid tasks file: %s", strings.Join(msgs, "; "))
}
