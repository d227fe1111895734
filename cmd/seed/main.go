package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"image-task-pipeline/internal/config"
	"image-task-pipeline/internal/infra/api"
	pg "image-task-pipeline/internal/infra/db/postgres"
	"image-task-pipeline/internal/infra/logging"
	"image-task-pipeline/internal/usecase"
)

// Seeds the style and model catalogs and grants quota. With -reset it wipes
// task data first, which gives manual end-to-end runs a predictable state.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	owners := flag.String("owners", "dev-user", "comma separated owner ids to grant quota")
	quota := flag.Int("quota", 20, "total quota per owner")
	reset := flag.Bool("reset", false, "truncate tasks, artifacts and quota accounts first")
	tokenTTL := flag.Duration("token-ttl", 0, "print a bearer token per owner valid for this long")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pg.Migrate(ctx, cfg.Database.URL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if *reset {
		if _, err := pool.Exec(ctx, `TRUNCATE artifacts, tasks, quota_accounts RESTART IDENTITY CASCADE;`); err != nil {
			log.Fatalf("reset: %v", err)
		}
		fmt.Println("task data wiped")
	}

	catalog := usecase.NewCatalogUseCase(pg.NewCategoryRepo(pool), pg.NewQuotaRepo(pool), pg.NewTxManager(pool), logger)
	seed := usecase.DefaultCatalogSeed()
	seed.Grants = map[string]int{}
	for _, o := range strings.Split(*owners, ",") {
		if o = strings.TrimSpace(o); o != "" {
			seed.Grants[o] = *quota
		}
	}
	if err := catalog.Seed(ctx, seed); err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("seeded %d styles, %d models, %d quota grants of %d\n",
		len(seed.Styles), len(seed.Models), len(seed.Grants), *quota)

	if *tokenTTL > 0 {
		auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger)
		for owner := range seed.Grants {
			tok, err := auth.Mint(owner, *tokenTTL)
			if err != nil {
				log.Fatalf("mint token for %q: %v", owner, err)
			}
			fmt.Printf("%s\t%s\n", owner, tok)
		}
	}
}
