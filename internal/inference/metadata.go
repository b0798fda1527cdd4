// internal/inference/metadata.go
package inference

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes an exported model: its class table and tensor shapes.
// It is written next to the model file by the export script.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// LoadMetadata reads and validates a metadata JSON file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return &md, nil
}

// Validate checks that the class table agrees with the declared output shape.
func (m *Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("no classes defined")
	}
	if n := len(m.OutputShape); n > 0 {
		if last := m.OutputShape[n-1]; last > 0 && last != int64(len(m.Classes)) {
			return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
		}
	}
	if len(m.InputShape) != 0 && len(m.InputShape) != 4 {
		return fmt.Errorf("input shape must have 4 dimensions, got %v", m.InputShape)
	}
	if m.ImageSize < 0 {
		return fmt.Errorf("invalid image size %d", m.ImageSize)
	}
	return nil
}
