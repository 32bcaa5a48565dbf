package model

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	LayoutNCHW = "NCHW"
	LayoutNHWC = "NHWC"

	ActivationNone    = ""
	ActivationSoftmax = "softmax"

	PaddingPre  = "pre"
	PaddingPost = "post"
)

// Metadata describes how to feed a model and read its output. It ships as a
// JSON file next to the ONNX artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
	Activation  string   `json:"activation"`

	// Text models.
	Vocab          map[string]int `json:"vocab"`
	VocabFile      string         `json:"vocab_file"`
	SequenceLength int            `json:"sequence_length"`
	Padding        string         `json:"padding"`
	PadIndex       int            `json:"pad_index"`
	OOVIndex       int            `json:"oov_index"`
}

func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.Layout == "" {
		m.Layout = LayoutNCHW
	}
	if m.Padding == "" {
		m.Padding = PaddingPre
	}
}

func (m Metadata) Validate() error {
	if len(m.InputShape) == 0 || len(m.OutputShape) == 0 {
		return fmt.Errorf("metadata: input_shape and output_shape are required")
	}
	for _, d := range append(append([]int64{}, m.InputShape...), m.OutputShape...) {
		if d <= 0 {
			return fmt.Errorf("metadata: shape dimensions must be positive, got %v / %v", m.InputShape, m.OutputShape)
		}
	}
	if m.Layout != LayoutNCHW && m.Layout != LayoutNHWC {
		return fmt.Errorf("metadata: unknown layout %q", m.Layout)
	}
	if m.Activation != ActivationNone && m.Activation != ActivationSoftmax {
		return fmt.Errorf("metadata: unknown activation %q", m.Activation)
	}
	if m.Padding != PaddingPre && m.Padding != PaddingPost {
		return fmt.Errorf("metadata: unknown padding %q", m.Padding)
	}
	return nil
}

func (m Metadata) InputSize() int {
	return shapeSize(m.InputShape)
}

func (m Metadata) OutputSize() int {
	return shapeSize(m.OutputShape)
}

// Binary reports whether the model ends in a single sigmoid unit.
func (m Metadata) Binary() bool {
	return m.OutputSize() == 1
}

func shapeSize(shape []int64) int {
	size := 1
	for _, dim := range shape {
		size *= int(dim)
	}
	return size
}
