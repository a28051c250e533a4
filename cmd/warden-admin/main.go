package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/platinummonkey/warden/pkg/cli"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("WARDEN_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	env := &cli.Env{
		Out:    os.Stdout,
		Logger: observability.NewLoggerWithFormat(cfg.Observability.Level(), observability.FormatText, os.Stderr),
		Open: func(ctx context.Context) (*sql.DB, error) {
			return storage.Open(ctx, cfg.Database.StorageConfig())
		},
	}
	defer env.Close()

	if err := cli.NewRootCommand(env).Execute(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		env.Close()
		os.Exit(1)
	}
}
