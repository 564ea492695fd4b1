package main

import (
	"fmt"
	"log/slog"

	"github.com/aletheia-kb/aletheia/pkg/chat"
	"github.com/aletheia-kb/aletheia/pkg/server"
)

// ServeCmd starts the chat and retrieval HTTP API.
type ServeCmd struct {
	Addr string `help:"Listen address. Defaults to ALETHEIA_SERVER_ADDR or :8080."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := withSignalCancel()
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	serverCfg := d.cfg.Server()
	if c.Addr != "" {
		serverCfg.Addr = c.Addr
	}

	orchestrator := chat.New(d.llm, d.retrieval, d.tools, d.dispatcher, d.cfg.PersonaPrompt())

	srv := server.New(serverCfg, orchestrator, d.retrieval, d.tools, d.dispatcher, d.vectorStore, d.graphStore, d.cacheStore, d.metrics)

	slog.Info("aletheia: starting server", "addr", serverCfg.Addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
