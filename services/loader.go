package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"moto-scraper/models"
	"moto-scraper/utils"
)

// extractFields are the listing fields pulled out of each scraped item.
var extractFields = []string{
	"title", "km", "price", "year", "url", "imgUrl", "provinceId", "hp",
}

// fieldAliases maps alternate scraped field names to their canonical columns.
var fieldAliases = map[string]string{
	"precio": "price",
	"año":    "year",
	"anio":   "year",
}

// Loader turns raw scrape dump files into record batches. Dumps live under
// data/<marca>/<modelo>.json and hold nested JSON whose "html" fields embed
// an escaped `"items":[...]` array of listings.
type Loader struct {
	baseURL string
	logger  *utils.Logger
	seen    *utils.StringSet
}

// NewLoader creates a Loader resolving relative listing URLs against baseURL.
func NewLoader(baseURL string, logger *utils.Logger) *Loader {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Loader{
		baseURL: baseURL,
		logger:  logger,
		seen:    utils.NewStringSet(),
	}
}

// ListJSONFiles returns the sorted .json files under dir, optionally
// descending into subdirectories.
func (l *Loader) ListJSONFiles(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: %q is not a directory", dir)
	}

	var files []string
	if recursive {
		err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("loader: walk %q: %w", dir, err)
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("loader: read dir %q: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// LoadAll parses every dump file under dir into a batch, up to maxConcurrency
// files at a time. Batches come back sorted by path so downstream runs are
// deterministic regardless of worker scheduling.
func (l *Loader) LoadAll(dir string, maxConcurrency int) ([]*models.Batch, error) {
	files, err := l.ListJSONFiles(dir, true)
	if err != nil {
		return nil, err
	}

	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	pool := utils.NewWorkerPool(maxConcurrency, 0)

	var (
		mu       sync.Mutex
		batches  = make([]*models.Batch, 0, len(files))
		firstErr error
	)
	for _, path := range files {
		path := path
		pool.Submit(func() {
			batch, err := l.LoadBatch(dir, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			batches = append(batches, batch)
		})
	}
	pool.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].Path < batches[j].Path })
	return batches, nil
}

// LoadBatch parses a single dump file. The marca/modelo labels come from the
// file's position under root: data/<marca>/<modelo>.json.
func (l *Loader) LoadBatch(root, path string) (*models.Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %q: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("loader: invalid JSON in %q: %w", path, err)
	}

	var records []models.RawRecord
	for _, html := range extractHTML(doc) {
		chunk := extractItemsArray(html)
		if chunk == "" {
			continue
		}
		items, err := decodeItems(chunk)
		if err != nil {
			l.logger.Debug("[loader] %s: unparseable items array: %v", path, err)
			continue
		}
		for _, obj := range items {
			rec := l.parseItem(obj)
			if u, ok := rec["url"].(string); ok && u != "" && !l.seen.Add(u) {
				l.logger.Debug("[loader] duplicate url across files: %s", u)
			}
			records = append(records, rec)
		}
	}

	marca, modelo := batchLabels(root, path)
	l.logger.Info("[loader] %s: %d records (%s/%s)", path, len(records), marca, modelo)

	return &models.Batch{
		Marca:   marca,
		Modelo:  modelo,
		Path:    path,
		Records: records,
	}, nil
}

// batchLabels derives the grouping labels from a dump file's path.
func batchLabels(root, path string) (marca, modelo string) {
	modelo = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	dir := filepath.Dir(path)
	if filepath.Clean(dir) == filepath.Clean(root) {
		return "unknown", modelo
	}
	return filepath.Base(dir), modelo
}

// extractHTML walks an arbitrarily nested JSON structure and collects every
// non-empty "html" string field.
func extractHTML(node any) []string {
	var out []string

	var visit func(any)
	visit = func(n any) {
		switch t := n.(type) {
		case map[string]any:
			if h, ok := t["html"].(string); ok && strings.TrimSpace(h) != "" {
				out = append(out, h)
			}
			for _, v := range t {
				visit(v)
			}
		case []any:
			for _, v := range t {
				visit(v)
			}
		}
	}
	visit(node)

	return out
}

// extractItemsArray locates the `"items":[...]` array embedded in an HTML
// blob and returns just the array text. The blob carries the page's JSON
// escaped, so backslashes are stripped first; the bracket scan is
// string-aware so brackets inside titles don't unbalance it.
func extractItemsArray(html string) string {
	s := strings.ReplaceAll(html, "\\", "")

	const key = `"items":[`
	start := strings.Index(s, key)
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	for i := start + len(key) - 1; i < len(s); i++ {
		switch s[i] {
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return s[start+len(key)-1 : i+1]
				}
			}
		}
	}
	return ""
}

// decodeItems parses the items array keeping the FIRST occurrence of any
// duplicated object key, which encoding/json's Unmarshal would silently
// overwrite with the last.
func decodeItems(arrText string) ([]map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(arrText))

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("items is not an array")
	}

	items := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if obj, ok := e.(map[string]any); ok {
			items = append(items, obj)
		}
	}
	return items, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := make(map[string]any)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("object key is not a string: %v", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			if _, dup := obj[key]; !dup {
				obj[key] = val
			}
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return obj, nil
	case '[':
		arr := make([]any, 0)
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

// parseItem copies the extract fields out of one scraped item. Absent fields
// are materialized as nil so every batch carries the full column shape, and
// stringly-typed km/price/year values are digit-filtered into integers.
func (l *Loader) parseItem(obj map[string]any) models.RawRecord {
	rec := models.RawRecord{}

	if id, ok := obj["id"]; ok {
		rec["id"] = id
	}

	for _, f := range extractFields {
		name := f
		if canon, ok := fieldAliases[strings.ToLower(f)]; ok {
			name = canon
		}

		val := obj[name]

		if name == "url" {
			if s, ok := val.(string); ok {
				rec["url"] = l.normalizeURL(s)
			} else {
				rec["url"] = val
			}
			continue
		}

		if s, ok := val.(string); ok && (name == "km" || name == "price" || name == "year") {
			val = digitsToInt(s)
		}
		rec[name] = val
	}

	return rec
}

// normalizeURL prefixes relative listing URLs with the portal base.
func (l *Loader) normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return u
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	u = strings.TrimPrefix(u, "/")
	return l.baseURL + u
}

// digitsToInt keeps only the digits of s ("12.500 km" → 12500); nil when no
// digit survives or the result overflows.
func digitsToInt(s string) any {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}

	var n int64
	for _, r := range b.String() {
		d := int64(r - '0')
		if n > (1<<63-1-d)/10 {
			return nil
		}
		n = n*10 + d
	}
	return n
}
