package export

import (
	"encoding/json"
	"io"

	"marketai-go/internal/model"
)

// JSONExporter exports items in JSON format (pretty-printed)
type JSONExporter struct{}

// Export exports an item to JSON format
func (e *JSONExporter) Export(item *model.HistoryItem, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(item)
}

// Extension returns the file extension for this format
func (e *JSONExporter) Extension() string {
	return "json"
}
