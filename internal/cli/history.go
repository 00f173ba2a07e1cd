package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"marketai-go/internal/client"
	"marketai-go/internal/export"
	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"

	"github.com/spf13/cobra"
)

var (
	historyTool   string
	historySearch string
	exportFormat  string
	exportOut     string
	shareFormat   string
)

// previewLen 是列表中 input/output 预览的最大字符数。
const previewLen = 48

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-3]) + "..."
}

// renderHistory 以表格形式输出记录。
func renderHistory(w io.Writer, items []model.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No saved results")
		return
	}
	fmt.Fprintf(w, "%s %s\n\n", headerStyle.Render("History"), countStyle.Render(fmt.Sprintf("(%d)", len(items))))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range items {
		tone := item.ToneValue()
		if tone == "" {
			tone = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			idStyle.Render(item.ID),
			titleStyle.Render(export.ToolLabel(item.ToolType)),
			toneStyle.Render(tone),
			dateStyle.Render(item.CreatedAt.Local().Format(time.DateTime)),
			preview(item.Input)+" → "+preview(item.Output))
	}
	_ = tw.Flush()
}

// toolFilter 解析 --tool，空值表示全部工具。
func toolFilter() (model.ToolType, error) {
	if historyTool == "" {
		return client.FilterAll, nil
	}
	t, err := model.ParseToolType(historyTool)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return t, nil
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage saved generation results",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved results, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := toolFilter()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.history.Refresh(cmd.Context()); err != nil {
			return err
		}
		renderHistory(cmd.OutOrStdout(), client.Search(a.history.List(filter), historySearch))
		return nil
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search saved results on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := toolFilter()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSession(); err != nil {
			return err
		}

		items, err := a.api.SearchHistory(cmd.Context(), args[0], filter)
		if err != nil {
			return err
		}
		renderHistory(cmd.OutOrStdout(), items)
		return nil
	},
}

var historyEditCmd = &cobra.Command{
	Use:   "edit <id> <output>",
	Short: "Replace the output of a saved result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		item, err := a.history.Update(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Updated"), idStyle.Render(item.ID))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.history.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Deleted"), idStyle.Render(args[0]))
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a saved result (txt, md, json, yaml)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := export.NewExporter(exportFormat); err != nil {
			return apperr.Wrap(apperr.KindValidation, err.Error(), err)
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSession(); err != nil {
			return err
		}

		data, filename, err := a.api.ExportHistory(cmd.Context(), args[0], exportFormat)
		if err != nil {
			return err
		}
		if exportOut == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		path := exportOut
		if path == "" {
			path = filepath.Base(filename)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Exported to"), path)
		return nil
	},
}

var historyShareCmd = &cobra.Command{
	Use:   "share <id>",
	Short: "Create a time-limited download link for a saved result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := export.NewExporter(shareFormat); err != nil {
			return apperr.Wrap(apperr.KindValidation, err.Error(), err)
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSession(); err != nil {
			return err
		}

		link, err := a.api.ShareHistory(cmd.Context(), args[0], shareFormat)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", successStyle.Render("Share link for"), link.Filename)
		fmt.Fprintln(out, link.URL)
		fmt.Fprintf(out, "%s %s\n", dateStyle.Render("Expires"), link.ExpiresAt.Local().Format(time.DateTime))
		return nil
	},
}

func init() {
	historyListCmd.Flags().StringVar(&historyTool, "tool", "", "Only show one tool (social, ads, seo)")
	historyListCmd.Flags().StringVarP(&historySearch, "search", "s", "", "Case-insensitive text to look for in input or output")
	historySearchCmd.Flags().StringVar(&historyTool, "tool", "", "Only search one tool (social, ads, seo)")
	historyShareCmd.Flags().StringVarP(&shareFormat, "format", "f", "txt", "Export format (txt, md, json, yaml)")
	historyExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "txt", "Export format (txt, md, json, yaml)")
	historyExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file, '-' for stdout (default: server-suggested name)")

	historyCmd.AddCommand(historyListCmd, historySearchCmd, historyEditCmd, historyDeleteCmd, historyExportCmd, historyShareCmd)
	rootCmd.AddCommand(historyCmd)
}
