package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/parquet-go/parquet-go"

	"github.com/georgenavi/esimdb-scraper/internal/domain"
	"github.com/georgenavi/esimdb-scraper/internal/logger"
)

const (
	fileExt        = ".parquet"
	runDateLayout  = "20060102"
	secondsPerDate = 24 * 60 * 60
)

// Row is the on-disk schema of one plan. Nil pointers are written as nulls.
type Row struct {
	Country       string   `parquet:"country"`
	Region        string   `parquet:"region"`
	Provider      string   `parquet:"provider"`
	PlanName      string   `parquet:"plan_name"`
	PriceUSD      *float32 `parquet:"price_usd"`
	DataGB        *float32 `parquet:"data_gb"`
	ValidityDays  *int32   `parquet:"validity_days"`
	ScrapeDate    int32    `parquet:"scrape_date,date"`
	SchemaVersion string   `parquet:"schema_version"`
}

// ParquetWriter persists one snappy-compressed parquet file per country into a run directory.
type ParquetWriter struct {
	dir string
	log logger.Logger
}

// NewParquetWriter writes into dir, which must already exist.
func NewParquetWriter(dir string, log logger.Logger) *ParquetWriter {
	return &ParquetWriter{dir: dir, log: logger.Ensure(log)}
}

// RunDir returns <outputDir>/YYYYMMDD for runDate.
func RunDir(outputDir string, runDate time.Time) string {
	return filepath.Join(outputDir, runDate.Format(runDateLayout))
}

// EnsureRunDir creates the run directory if needed.
func EnsureRunDir(outputDir string, runDate time.Time) (string, error) {
	dir := RunDir(outputDir, runDate)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return dir, nil
}

// Write stamps records with runDate and the schema version and writes them to <dir>/<sanitized name>.parquet,
// replacing any previous file. An empty batch succeeds without creating a file.
func (w *ParquetWriter) Write(country domain.Country, records []domain.NormalizedRecord, runDate time.Time) domain.EntityOutcome {
	outcome := domain.EntityOutcome{Slug: country.Slug, Name: country.Name}
	if len(records) == 0 {
		w.log.WarnObj("no plans found", "country_empty", map[string]any{
			"country": country.Name,
			"slug":    country.Slug,
		})
		outcome.Success = true
		return outcome
	}

	target := filepath.Join(w.dir, SanitizeFilename(country.Name)+fileExt)
	if err := writeRows(target, toRows(records, runDate)); err != nil {
		outcome.Err = fmt.Errorf("write %s: %w", filepath.Base(target), err)
		return outcome
	}

	w.log.InfoObj("country plans saved", "country_saved", map[string]any{
		"country": country.Name,
		"plans":   len(records),
		"file":    filepath.Base(target),
	})
	outcome.Success = true
	outcome.RecordCount = len(records)
	outcome.Artifact = target
	return outcome
}

func toRows(records []domain.NormalizedRecord, runDate time.Time) []Row {
	date := dateValue(runDate)
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = Row{
			Country:       r.Country,
			Region:        r.Region,
			Provider:      r.Provider,
			PlanName:      r.PlanName,
			PriceUSD:      float32Ptr(r.PriceUSD),
			DataGB:        float32Ptr(r.DataGB),
			ValidityDays:  int32Ptr(r.ValidityDays),
			ScrapeDate:    date,
			SchemaVersion: domain.SchemaVersion,
		}
	}
	return rows
}

// writeRows writes to a temporary sibling and renames it over target.
func writeRows(target string, rows []Row) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	pw := parquet.NewGenericWriter[Row](tmp, parquet.Compression(&parquet.Snappy))
	if _, err = pw.Write(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err = pw.Close(); err != nil {
		return fmt.Errorf("flush parquet: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// SanitizeFilename turns a display name into a lowercase, filesystem-safe file stem.
func SanitizeFilename(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}

// dateValue is the parquet DATE representation: days since the Unix epoch.
func dateValue(t time.Time) int32 {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int32(day.Unix() / secondsPerDate)
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func int32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	i := int32(*v)
	return &i
}
