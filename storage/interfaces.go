package storage

import "moto-scraper/models"

// ListingStore is the interface the reconciler drives during a single call:
// ensure the schema, look up which ids already exist, apply the batch, close.
type ListingStore interface {
	EnsureSchema() error
	ExistingIDs(ids []string, chunkSize int) (map[string]struct{}, error)
	UpsertBatch(listings []*models.Listing) error
	Close() error
}

// RawBatchWriter is the interface for persisting unprocessed scraped data.
type RawBatchWriter interface {
	WriteRaw(batch *models.Batch) error
	Close() error
}

var (
	_ ListingStore   = (*Store)(nil)
	_ RawBatchWriter = (*CSVWriter)(nil)
)
