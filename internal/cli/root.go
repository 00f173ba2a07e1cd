// Package cli 实现 marketai 命令行客户端的全部子命令。
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"marketai-go/internal/client"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"

	"github.com/spf13/cobra"
)

const (
	defaultServer = "http://localhost:8080"
	envServer     = "MARKETAI_SERVER"
	envHome       = "MARKETAI_HOME"
)

var (
	verbose   bool
	serverURL string
	homeDir   string
)

// app 是一次命令执行期间共享的客户端对象。
type app struct {
	api      *client.API
	sessions *client.SessionStore
	history  *client.HistoryStore
}

var rootCmd = &cobra.Command{
	Use:   "marketai",
	Short: "Generate marketing copy from the command line",
	Long: `marketai generates Google Ads copy, SEO keywords and social media captions
through a marketai server, and manages your saved history.

Quick Start:
  marketai register --email you@example.com
  marketai ads --product "Project management tool for remote teams" --save
  marketai history list --tool ads`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.InitCLI("debug")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apperr.Message(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default $"+envServer+" or "+defaultServer+")")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "State directory for the session file (default $"+envHome+" or ~/.marketai)")
}

func resolveServer() string {
	if serverURL != "" {
		return serverURL
	}
	if v := os.Getenv(envServer); v != "" {
		return v
	}
	return defaultServer
}

func resolveHome() string {
	if homeDir != "" {
		return homeDir
	}
	if v := os.Getenv(envHome); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".marketai")
	}
	return ".marketai"
}

// newApp 恢复已保存的会话，再创建 HistoryStore，避免加载会话时触发一次多余的拉取。
func newApp(ctx context.Context) (*app, error) {
	api := client.NewAPI(resolveServer(), client.DefaultTimeout)
	sessions := client.NewSessionStore(api, resolveHome())
	if err := sessions.Load(ctx); err != nil {
		return nil, err
	}
	return &app{
		api:      api,
		sessions: sessions,
		history:  client.NewHistoryStore(api, sessions),
	}, nil
}

func (a *app) close() {
	a.history.Close()
}

func (a *app) requireSession() error {
	if !a.sessions.IsAuthenticated() {
		return apperr.New(apperr.KindUnauthorized, "Not signed in. Run 'marketai login' first")
	}
	return nil
}
