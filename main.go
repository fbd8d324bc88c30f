package main

import (
	"fmt"
	"os"
	"time"

	"moto-scraper/config"
	"moto-scraper/models"
	"moto-scraper/services"
	"moto-scraper/storage"
	"moto-scraper/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== Moto Listing Pipeline starting ===")
	logger.Info("Config — db: %s | data dir: %s | concurrency: %d | lookup chunk: %d",
		cfg.DBFilePath, cfg.DataDir, cfg.MaxConcurrency, cfg.LookupChunkSize)

	loader := services.NewLoader(cfg.BaseURL, logger)
	batches, err := loader.LoadAll(cfg.DataDir, cfg.MaxConcurrency)
	if err != nil {
		logger.Error("Loading scrape dumps failed: %v", err)
		os.Exit(1)
	}
	if len(batches) == 0 {
		logger.Error("No dump files found under %s. Exiting.", cfg.DataDir)
		os.Exit(1)
	}

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		logger.Error("Failed to create CSV writer: %v", err)
		os.Exit(1)
	}
	defer csvWriter.Close()

	reconciler := services.NewReconciler(cfg, logger)
	retry := &utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   2 * time.Second,
		Logger:      logger,
	}

	total := &models.ReconcileSummary{}
	for _, batch := range batches {
		if len(batch.Records) == 0 {
			logger.Warn("[pipeline] %s produced no records, skipping", batch.Path)
			continue
		}

		if err := csvWriter.WriteRaw(batch); err != nil {
			logger.Error("CSV write failed for %s: %v", batch.Path, err)
		}

		// The reconciler never retries on its own; wrap it here where an
		// external writer may be holding the database lock.
		var summary *models.ReconcileSummary
		err := retry.Do("reconcile "+batch.Path, func() error {
			var err error
			summary, err = reconciler.Reconcile(batch.Records, batch.Marca, batch.Modelo)
			return err
		})
		if err != nil {
			logger.Error("Reconcile failed for %s: %v", batch.Path, err)
			os.Exit(1)
		}
		total.Add(summary)
	}

	logger.Info("Reconciled %d batches — inserted %d, updated %d, skipped %d (total %d)",
		len(batches), total.Inserted, total.Updated, total.Skipped, total.Total)

	store, err := storage.Open(cfg.DBFilePath, cfg.DBTimeoutMs)
	if err != nil {
		logger.Error("Failed to open SQLite for insights: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	if tables, err := store.Tables(); err == nil {
		logger.Debug("[pipeline] database tables: %v", tables)
	}

	dbListings, err := store.FetchAll()
	if err != nil {
		logger.Error("Failed to fetch listings from DB for insights: %v", err)
		os.Exit(1)
	}

	insightSvc := services.NewInsightService(logger)
	report := insightSvc.Generate(dbListings)
	insightSvc.Print(report)

	fmt.Printf("  Done. Raw CSV → %s | Listings → SQLite (%s, table data_moto)\n\n",
		cfg.CSVOutputPath, cfg.DBFilePath)
}
