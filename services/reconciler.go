package services

import (
	"moto-scraper/config"
	"moto-scraper/models"
	"moto-scraper/storage"
	"moto-scraper/utils"
)

// Reconciler merges batches of raw scraped records into the listings table.
// Each call runs single-threaded on its own exclusive connection: normalize,
// ensure schema, look up which ids already exist, then apply the whole
// surviving batch in one transaction.
type Reconciler struct {
	cfg    *config.Config
	logger *utils.Logger
	norm   *Normalizer
}

// NewReconciler creates a Reconciler using the given configuration.
func NewReconciler(cfg *config.Config, logger *utils.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, logger: logger, norm: NewNormalizer(logger)}
}

// Reconcile normalizes the records under the marca/modelo labels and upserts
// the survivors into SQLite. It returns how many rows were inserted, updated
// and skipped; Inserted + Updated + Skipped always equals Total, which equals
// the input batch size.
//
// Structural failures (SchemaValidationError) abort before any storage
// access. Write failures roll the whole batch back and return a
// storage.WriteError; no summary is produced. The reconciler never retries.
func (r *Reconciler) Reconcile(records []models.RawRecord, marca, modelo string) (*models.ReconcileSummary, error) {
	listings, skipped, err := r.norm.Normalize(records, marca, modelo)
	if err != nil {
		return nil, err
	}

	// Nothing survived: report without touching the database.
	if len(listings) == 0 {
		return &models.ReconcileSummary{Skipped: skipped, Total: skipped}, nil
	}

	store, err := storage.Open(r.cfg.DBFilePath, r.cfg.DBTimeoutMs)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.EnsureSchema(); err != nil {
		return nil, err
	}

	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	existing, err := store.ExistingIDs(ids, r.cfg.LookupChunkSize)
	if err != nil {
		return nil, err
	}

	if err := store.UpsertBatch(listings); err != nil {
		return nil, err
	}

	inserted := 0
	for _, l := range listings {
		if _, ok := existing[l.ID]; !ok {
			inserted++
		}
	}

	summary := &models.ReconcileSummary{
		Inserted: inserted,
		Updated:  len(listings) - inserted,
		Skipped:  skipped,
		Total:    len(listings) + skipped,
	}

	r.logger.Info("[reconcile] %s/%s: inserted %d, updated %d, skipped %d",
		marca, modelo, summary.Inserted, summary.Updated, summary.Skipped)
	return summary, nil
}
