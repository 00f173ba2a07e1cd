package export

import (
	"io"
	"strings"

	"marketai-go/internal/model"
)

// TextExporter writes the output as plain text.
type TextExporter struct{}

// Export writes the item's output followed by a newline.
func (e *TextExporter) Export(item *model.HistoryItem, w io.Writer) error {
	_, err := io.WriteString(w, strings.TrimRight(item.Output, "\n")+"\n")
	return err
}

// Extension returns the file extension for this format
func (e *TextExporter) Extension() string {
	return "txt"
}
