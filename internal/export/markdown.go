package export

import (
	"fmt"
	"io"
	"time"

	"marketai-go/internal/model"
)

// MarkdownExporter exports items in Markdown format
type MarkdownExporter struct{}

// Export exports an item to Markdown format
func (e *MarkdownExporter) Export(item *model.HistoryItem, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# %s\n\n", ToolLabel(item.ToolType))
	_, _ = fmt.Fprintf(w, "**Created:** %s  \n", item.CreatedAt.UTC().Format(time.RFC3339))
	if item.UpdatedAt.After(item.CreatedAt) {
		_, _ = fmt.Fprintf(w, "**Edited:** %s  \n", item.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if tone := item.ToneValue(); tone != "" {
		_, _ = fmt.Fprintf(w, "**Tone:** %s  \n", tone)
	}
	_, _ = fmt.Fprintf(w, "\n## Input\n\n%s\n\n", item.Input)
	_, err := fmt.Fprintf(w, "## Output\n\n%s\n", item.Output)
	return err
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
