package services

import (
	"math"
	"strconv"
	"strings"

	"moto-scraper/models"
	"moto-scraper/utils"
)

// expectedColumns is the structural shape every batch must carry. A batch in
// which any of these never appears is rejected outright; per-record holes are
// handled field by field instead.
var expectedColumns = []string{
	"id", "url", "title", "km", "price", "year",
	"imgUrl", "provinceId", "hp", "marca", "modelo",
}

// SchemaValidationError reports columns structurally absent from an input
// batch. It is raised before any storage access.
type SchemaValidationError struct {
	Missing []string
}

func (e *SchemaValidationError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// Normalizer transforms raw scraped records into validated Listings.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize stamps the grouping labels onto every record, verifies the batch
// shape, coerces each field independently and drops records whose id, url or
// title did not survive coercion. It returns the surviving listings and the
// skipped count. Coercion never fails a record; only the missing-triplet check
// does.
func (n *Normalizer) Normalize(records []models.RawRecord, marca, modelo string) ([]*models.Listing, int, error) {
	present := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			present[k] = struct{}{}
		}
	}
	// Labels are stamped onto every record, so they always count as present.
	present["marca"] = struct{}{}
	present["modelo"] = struct{}{}

	var missing []string
	for _, col := range expectedColumns {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, 0, &SchemaValidationError{Missing: missing}
	}

	marcaStr := strings.TrimSpace(marca)
	modeloStr := strings.TrimSpace(modelo)

	listings := make([]*models.Listing, 0, len(records))
	skipped := 0

	for _, rec := range records {
		id := toString(rec["id"])
		url := toString(rec["url"])
		title := toString(rec["title"])

		if id == nil || url == nil || title == nil {
			skipped++
			continue
		}

		listings = append(listings, &models.Listing{
			ID:         *id,
			URL:        *url,
			Title:      *title,
			Km:         toInt(rec["km"]),
			Price:      toInt(rec["price"]),
			Year:       toInt(rec["year"]),
			ImgURL:     toString(rec["imgUrl"]),
			ProvinceID: toString(rec["provinceId"]),
			HP:         toFloat(rec["hp"]),
			Marca:      marcaStr,
			Modelo:     modeloStr,
		})
	}

	n.logger.Debug("[normalize] %d → %d records (skipped %d)",
		len(records), len(listings), skipped)
	return listings, skipped, nil
}

// isNullSentinel matches the empty and NaN-like string values that numeric
// coercion treats as absent.
func isNullSentinel(s string) bool {
	switch s {
	case "", "None", "none", "null", "NaN", "nan":
		return true
	}
	return false
}

// toString coerces a raw value to a trimmed non-empty string, or nil.
func toString(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(t)
	case float64:
		if math.IsNaN(t) {
			return nil
		}
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		s = strconv.FormatInt(t, 10)
	case int:
		s = strconv.Itoa(t)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// toInt coerces a raw value to an integer, or nil. String values that parse
// as floating point are truncated, matching the source data where integers
// sometimes arrive as "12.0".
func toInt(v any) *int64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		n := int64(t)
		return &n
	case int64:
		n := t
		return &n
	case int:
		n := int64(t)
		return &n
	case bool:
		var n int64
		if t {
			n = 1
		}
		return &n
	case string:
		s := strings.TrimSpace(t)
		if isNullSentinel(s) {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &n
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		n := int64(f)
		return &n
	default:
		return nil
	}
}

// toFloat coerces a raw value to a float, or nil. Comma decimal separators
// are accepted ("96,5" horsepower listings).
func toFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		f := t
		return &f
	case int64:
		f := float64(t)
		return &f
	case int:
		f := float64(t)
		return &f
	case bool:
		var f float64
		if t {
			f = 1
		}
		return &f
	case string:
		s := strings.TrimSpace(t)
		if isNullSentinel(s) {
			return nil
		}
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	default:
		return nil
	}
}
