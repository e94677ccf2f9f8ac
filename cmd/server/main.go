package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/chi-demo/app"

	"github.com/tylew/pl4m-com/pkg/content/api"
	"github.com/tylew/pl4m-com/pkg/content/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	manager, cleanup, err := cfg.BuildManager(ctx)
	if err != nil {
		slog.Error("Failed to build content manager", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	contentHandler := api.NewHandler(manager, slog.Default())
	server.R.Route("/api", func(r chi.Router) {
		r.Mount("/content", contentHandler.Routes())
	})

	server.Run()
}
