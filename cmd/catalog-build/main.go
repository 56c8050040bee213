// Command catalog-build merges catalog shards into a single product document
// and can seed the products table from the result.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var (
		out         string
		databaseURL string
		seed        bool
	)

	flag.StringVar(&out, "out", "data/products.json", "output catalog path (.gz suffix compresses)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&seed, "seed", false, "replace the products table with the merged catalog")
	flag.Parse()

	shards := flag.Args()
	if len(shards) == 0 {
		slog.Error("at least one catalog shard is required: catalog-build [flags] shard.json [shard.json.gz ...]")
		os.Exit(2)
	}

	if seed && databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if seed && databaseURL == "" {
		slog.Error("database URL is required to seed: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !seed {
		databaseURL = ""
	}
	if err := run(ctx, shards, out, databaseURL); err != nil {
		slog.Error("catalog build failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog build completed successfully")
}
