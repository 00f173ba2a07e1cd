// Package export writes saved history items to files in several formats.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"marketai-go/internal/model"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(item *model.HistoryItem, w io.Writer) error
	Extension() string
}

// Formats lists the accepted format names.
var Formats = []string{"txt", "md", "json", "yaml"}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "txt", "text":
		return &TextExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

var contentTypes = map[string]string{
	"txt":  "text/plain; charset=utf-8",
	"md":   "text/markdown; charset=utf-8",
	"json": "application/json",
	"yaml": "application/yaml",
}

// ContentType returns the MIME type matching the exporter's extension.
func ContentType(e Exporter) string {
	if ct, ok := contentTypes[e.Extension()]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Filename builds "<tool>-<first 8 chars of id>.<ext>".
func Filename(item *model.HistoryItem, e Exporter) string {
	id := item.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s.%s", item.ToolType, id, e.Extension())
}

// Render exports item into memory so a failure never leaves a partial file.
func Render(item *model.HistoryItem, e Exporter) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Export(item, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToolLabel is the human-readable name of a tool.
func ToolLabel(t model.ToolType) string {
	switch t {
	case model.ToolAds:
		return "Google Ads Copy"
	case model.ToolSEO:
		return "SEO Keywords"
	case model.ToolSocial:
		return "Social Media Captions"
	}
	return string(t)
}
