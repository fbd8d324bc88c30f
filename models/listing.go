package models

// RawRecord is a loosely-typed listing as it comes out of a scraped JSON
// payload. Field values may be strings, numbers, nulls or missing entirely;
// the normalizer decides what survives.
type RawRecord map[string]any

// Batch groups the raw records parsed from one source file together with the
// marca/modelo labels derived from its data/<marca>/<modelo>.json path.
type Batch struct {
	Marca   string
	Modelo  string
	Path    string
	Records []RawRecord
}

// Listing is the normalized, validated record ready for SQLite storage.
// ID, URL and Title are guaranteed non-empty; every other field is nullable
// and persists as NULL when the raw value could not be coerced.
type Listing struct {
	ID         string
	URL        string
	Title      string
	Km         *int64
	Price      *int64
	Year       *int64
	ImgURL     *string
	ProvinceID *string
	HP         *float64
	Marca      string
	Modelo     string
}

// ReconcileSummary reports what one Reconcile call did.
// Inserted + Updated + Skipped == Total, and Total equals the input batch size.
type ReconcileSummary struct {
	Inserted int
	Updated  int
	Skipped  int
	Total    int
}

// Add accumulates another summary, used to aggregate per-file results.
func (s *ReconcileSummary) Add(o *ReconcileSummary) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Total += o.Total
}

// InsightReport holds the computed analytics over the stored dataset.
type InsightReport struct {
	TotalListings      int
	AveragePrice       float64
	MinPrice           float64
	MaxPrice           float64
	MostExpensive      *Listing
	AverageKm          float64
	OldestYear         int64
	NewestYear         int64
	ListingsByMarca    map[string]int
	ListingsByProvince map[string]int
}
