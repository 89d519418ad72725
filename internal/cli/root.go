package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/quiver/internal/logging"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default status API URL, checking QUIVER_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("QUIVER_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the quiver CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quiver",
		Short: "quiver: a task scheduling framework for offer-based resource managers",
		Long: "quiver matches queued tasks against resource offers, launches them and\n" +
			"tracks their status. run drives a local cluster; list, status and kill\n" +
			"talk to the status API of a running scheduler; history reads recorded runs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "status API URL (or QUIVER_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newListCmd(),
		newStatusCmd(),
		newKillCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	return root
}
