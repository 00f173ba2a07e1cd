package export

import (
	"io"
	"time"

	"marketai-go/internal/model"

	"gopkg.in/yaml.v3"
)

// YAMLExporter exports items in YAML format
type YAMLExporter struct{}

type yamlItem struct {
	ID        string    `yaml:"id"`
	ToolType  string    `yaml:"toolType"`
	Tone      string    `yaml:"tone,omitempty"`
	Input     string    `yaml:"input"`
	Output    string    `yaml:"output"`
	CreatedAt time.Time `yaml:"createdAt"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

// Export exports an item to YAML format
func (e *YAMLExporter) Export(item *model.HistoryItem, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()

	return enc.Encode(yamlItem{
		ID:        item.ID,
		ToolType:  string(item.ToolType),
		Tone:      item.ToneValue(),
		Input:     item.Input,
		Output:    item.Output,
		CreatedAt: item.CreatedAt.UTC(),
		UpdatedAt: item.UpdatedAt.UTC(),
	})
}

// Extension returns the file extension for this format
func (e *YAMLExporter) Extension() string {
	return "yaml"
}
