package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"image-task-pipeline/internal/config"
	pg "image-task-pipeline/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	steps := flag.Int("steps", 1, "migrations to revert with down")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-config path] [-steps n] up|down|status\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch cmd {
	case "up":
		err = pg.Migrate(ctx, cfg.Database.URL)
	case "down":
		err = pg.Rollback(ctx, cfg.Database.URL, *steps)
	case "status":
		var v int64
		v, err = pg.MigrationVersion(ctx, cfg.Database.URL)
		if err == nil {
			fmt.Printf("schema version %d\n", v)
		}
	default:
		flag.Usage()
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	if cmd != "status" {
		v, err := pg.MigrationVersion(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		fmt.Printf("%s ok, schema version %d\n", cmd, v)
	}
}
