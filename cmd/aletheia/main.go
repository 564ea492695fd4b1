// Command aletheia is the CLI for the Aletheia knowledge-base assistant.
//
// Usage:
//
//	aletheia ingest --corpus ./notes
//	aletheia serve --addr :8080
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/aletheia-kb/aletheia"
	"github.com/aletheia-kb/aletheia/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Ingest  IngestCmd  `cmd:"" help:"Ingest a Markdown corpus into the vector and graph stores."`
	Serve   ServeCmd   `cmd:"" help:"Start the chat and retrieval HTTP API."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or json)." default:"simple"`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println(aletheia.GetVersion().String())
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("aletheia"),
		kong.Description("A retrieval-augmented conversational gateway over a personal Markdown knowledge base."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		os.Exit(1)
	}

	output := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		file, cleanupFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to open log file:", err)
			os.Exit(1)
		}
		output = file
		cleanup = cleanupFn
	}
	logger.Init(level, output, cli.LogFormat)
	if cleanup != nil {
		defer cleanup()
	}

	if err := ctx.Run(&cli); err != nil {
		slog.Error("aletheia: command failed", "error", err)
		os.Exit(1)
	}
}

// withSignalCancel returns a context cancelled on SIGINT/SIGTERM, and the
// cancel func to release its resources.
func withSignalCancel() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("aletheia: shutting down")
		cancel()
	}()
	return ctx, cancel
}
