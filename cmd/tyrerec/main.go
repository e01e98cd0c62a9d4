// Command tyrerec runs the tyre recommendation batch engine's HTTP API:
// the batch orchestrator fronted by gin, backed by the candidate store,
// model client, per-CAM worker, auth broker, and usage reporter.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/naddot/tyrerec/pkg/api"
	"github.com/naddot/tyrerec/pkg/artifact"
	"github.com/naddot/tyrerec/pkg/auth"
	"github.com/naddot/tyrerec/pkg/candidates"
	"github.com/naddot/tyrerec/pkg/config"
	"github.com/naddot/tyrerec/pkg/database"
	"github.com/naddot/tyrerec/pkg/model"
	"github.com/naddot/tyrerec/pkg/orchestrator"
	"github.com/naddot/tyrerec/pkg/usage"
	"github.com/naddot/tyrerec/pkg/version"
	"github.com/naddot/tyrerec/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ctx := context.Background()
	log.Printf("Starting %s", version.Full())

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	// Pool tuning and the password come from the environment; the YAML
	// database section overrides the connection identity when set.
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("invalid database configuration: %v", err)
	}
	if cfg.Database.Host != "" {
		dbCfg.Host = cfg.Database.Host
	}
	if cfg.Database.Port != 0 {
		dbCfg.Port = cfg.Database.Port
	}
	if cfg.Database.User != "" {
		dbCfg.User = cfg.Database.User
	}
	if cfg.Database.Database != "" {
		dbCfg.Database = cfg.Database.Database
	}
	if cfg.Database.SSLMode != "" {
		dbCfg.SSLMode = cfg.Database.SSLMode
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}()
	log.Println("connected to warehouse database")

	store := candidates.New(dbClient.DB(), cfg.Candidates.CacheDir, cfg.Candidates.CSVPath, slog.Default())

	modelClient, err := model.NewClient(cfg.Model.Endpoint, cfg.Model.RetryBase, cfg.Model.RetryAttempts)
	if err != nil {
		log.Fatalf("failed to build model client: %v", err)
	}
	defer modelClient.Close()

	w := worker.New(store, modelClient, worker.Config{
		ModelName:            cfg.Model.ModelName,
		Location:             cfg.Model.Location,
		RetrievalDatastoreID: cfg.Model.Datastore,
		SafetyCategories:     cfg.Model.SafetyCategories,
		Temperature:          cfg.Model.Temperature,
		TopP:                 cfg.Model.TopP,
		Benchmark:            cfg.Model.Benchmark,
	})

	authBroker := auth.New(cfg.Auth.Local, cfg.Auth.ModelAudience, cfg.Auth.MetadataTokenURL, cfg.Auth.LoginURL, cfg.Auth.ServicePasswordEnv, nil)

	selfURL := "http://localhost" + cfg.Server.Address + "/api/recommendations/batch"
	submitter := orchestrator.NewHTTPSubmitter(selfURL, nil)

	heartbeat := func(p usage.Progress) {
		slog.Info("batch progress", "attempted", p.Attempted, "succeeded", p.Succeeded, "failed", p.Failed, "batch_index", p.CurrentBatchIdx)
	}

	orch := orchestrator.New(store, w, submitter, authBroker, orchestrator.Config{
		WorkerCount:     cfg.Batch.WorkerCount,
		BatchDeadline:   cfg.Batch.BatchDeadline,
		PerCAMDeadline:  cfg.Batch.PerCAMDeadline,
		MaxCAMsPerBatch: cfg.Batch.MaxCAMsPerBatch,
		RetryBatchSize:  cfg.Batch.RetryBatchSize,
	}, heartbeat)

	gin.SetMode(getEnv("GIN_MODE", "debug"))
	server := api.NewServer(orch, nil, dbClient.DB(), !cfg.Auth.Local)
	if cfg.Artifacts.Dir != "" {
		pricing := usage.Pricing{
			PriceInputPerToken:  cfg.Usage.PriceInputPerToken,
			PriceOutputPerToken: cfg.Usage.PriceOutputPerToken,
		}
		server.WithArtifacts(artifact.NewWriter(cfg.Artifacts.Dir, pricing, slog.Default()))
	}
	router := server.Router()

	log.Printf("HTTP server listening on %s", cfg.Server.Address)
	if err := router.Run(cfg.Server.Address); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
