// Package shadow keeps one file per recorded sale outside the database so a
// lost or rebuilt ledger can be restored. Files are Shift_JIS encoded JSON,
// the format the store's back-office tooling reads.
package shadow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

const (
	fileExt          = ".json"
	datePrefixLayout = "20060102"
	DefaultRetention = 1
)

// Sink receives replayed sales.
type Sink interface {
	SaleExists(ctx context.Context, id string) (bool, error)
	CreateSale(ctx context.Context, sale domain.Sale, details []domain.SaleDetail) error
}

type Options struct {
	// RetentionMonths is how many calendar months of files Prune keeps.
	RetentionMonths int
	Location        *time.Location
	Logger          *slog.Logger
	Registerer      prometheus.Registerer
}

type Journal struct {
	dir       string
	retention int
	loc       *time.Location
	logger    *slog.Logger
	metrics   *metrics
}

func New(dir string, opts Options) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("shadow dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create shadow dir: %w", err)
	}
	if opts.RetentionMonths < 1 {
		opts.RetentionMonths = DefaultRetention
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Journal{
		dir:       dir,
		retention: opts.RetentionMonths,
		loc:       opts.Location,
		logger:    opts.Logger.With("component", "shadow"),
		metrics:   newMetrics(opts.Registerer),
	}, nil
}

func (j *Journal) Dir() string {
	return j.dir
}

// Path is <dir>/yyyyMMdd-<id>.json, dated by the sale's business day.
func (j *Journal) Path(sale domain.Sale) string {
	name := sale.CreatedAt.In(j.loc).Format(datePrefixLayout) + "-" + sale.ID + fileExt
	return filepath.Join(j.dir, name)
}

// Write stores the sale atomically. A reader never observes a partial file.
func (j *Journal) Write(sale domain.Sale, details []domain.SaleDetail) error {
	if details == nil {
		details = []domain.SaleDetail{}
	}
	raw, err := json.Marshal(domain.SaleDocument{Sale: sale, SaleDetails: details})
	if err != nil {
		return fmt.Errorf("marshal shadow %s: %w", sale.ID, err)
	}
	encoded, err := japanese.ShiftJIS.NewEncoder().Bytes(escapeUnencodable(raw))
	if err != nil {
		return fmt.Errorf("encode shadow %s: %w", sale.ID, err)
	}

	tmp, err := os.CreateTemp(j.dir, ".shadow-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, j.Path(sale))
}

// Remove deletes the sale's file. A missing file is not an error.
func (j *Journal) Remove(sale domain.Sale) error {
	err := os.Remove(j.Path(sale))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Read decodes one journal file.
func (j *Journal) Read(path string) (domain.SaleDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.SaleDocument{}, err
	}
	decoded, err := io.ReadAll(newUTF8Reader(raw))
	if err != nil {
		return domain.SaleDocument{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	var doc domain.SaleDocument
	if err := json.Unmarshal(decoded, &doc); err != nil {
		return domain.SaleDocument{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return doc, nil
}

// Replay restores Normal sales missing from sink. Unreadable files are counted
// and left in place.
func (j *Journal) Replay(ctx context.Context, sink Sink) (domain.ReplayResult, error) {
	var result domain.ReplayResult

	names, err := j.journalFiles()
	if err != nil {
		return result, err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Files++

		doc, err := j.Read(filepath.Join(j.dir, name))
		if err == nil {
			err = doc.Validate()
		}
		if err != nil {
			result.Failed++
			j.logger.Warn("unreadable shadow file", "file", name, "error", err)
			continue
		}
		if doc.Sale.InputMode != domain.InputModeNormal {
			result.Skipped++
			continue
		}

		exists, err := sink.SaleExists(ctx, doc.Sale.ID)
		if err != nil {
			return result, fmt.Errorf("check sale %s: %w", doc.Sale.ID, err)
		}
		if exists {
			result.Skipped++
			continue
		}

		err = sink.CreateSale(ctx, doc.Sale, doc.SaleDetails)
		if errors.Is(err, store.ErrDuplicateID) {
			result.Skipped++
			continue
		}
		if err != nil {
			result.Failed++
			j.logger.Warn("restore from shadow failed", "file", name, "error", err)
			continue
		}
		result.Restored++
	}
	j.metrics.replayed.WithLabelValues("restored").Add(float64(result.Restored))
	j.metrics.replayed.WithLabelValues("skipped").Add(float64(result.Skipped))
	j.metrics.replayed.WithLabelValues("failed").Add(float64(result.Failed))
	return result, nil
}

// Prune deletes files whose date prefix is older than the retention window
// ending at now. It returns the number of files removed.
func (j *Journal) Prune(now time.Time) (int, error) {
	cutoff := now.In(j.loc).AddDate(0, -j.retention, 0).Format(datePrefixLayout)

	names, err := j.journalFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if name[:len(datePrefixLayout)] >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
		j.metrics.pruned.Inc()
	}
	return removed, nil
}

// Start replays and prunes every interval until ctx is done.
func (j *Journal) Start(ctx context.Context, interval time.Duration, sink Sink) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				res, err := j.Replay(ctx, sink)
				if err != nil {
					j.logger.Warn("shadow replay failed", "error", err)
				} else if res.Restored > 0 || res.Failed > 0 {
					j.logger.Info("shadow replay completed", "restored", res.Restored, "failed", res.Failed, "files", res.Files)
				}
				if removed, err := j.Prune(now); err != nil {
					j.logger.Warn("shadow prune failed", "error", err)
				} else if removed > 0 {
					j.logger.Info("pruned shadow files", "removed", removed)
				}
			}
		}
	}()
}

// journalFiles lists yyyyMMdd-*.json names in lexical order.
func (j *Journal) journalFiles() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || !hasDatePrefix(name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func hasDatePrefix(name string) bool {
	if len(name) < len(datePrefixLayout)+1 || name[len(datePrefixLayout)] != '-' {
		return false
	}
	_, err := time.Parse(datePrefixLayout, name[:len(datePrefixLayout)])
	return err == nil
}

// newUTF8Reader returns raw as UTF-8. Valid UTF-8 passes through; anything
// else is detected, falling back to Shift_JIS.
func newUTF8Reader(raw []byte) io.Reader {
	if utf8.Valid(raw) {
		return bytes.NewReader(raw)
	}

	var dec *encoding.Decoder
	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err == nil && result.Charset == "EUC-JP" {
		dec = japanese.EUCJP.NewDecoder()
	} else {
		dec = japanese.ShiftJIS.NewDecoder()
	}
	return transform.NewReader(bytes.NewReader(raw), dec)
}

// escapeUnencodable rewrites runes Shift_JIS cannot represent as JSON \u
// escapes. Non-ASCII runes only occur inside JSON strings, so the result is
// still the same document.
func escapeUnencodable(raw []byte) []byte {
	enc := japanese.ShiftJIS.NewEncoder()
	var out []byte
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r < utf8.RuneSelf {
			out = append(out, raw[i])
			i++
			continue
		}
		if _, err := enc.String(string(r)); err == nil {
			out = append(out, raw[i:i+size]...)
		} else if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = appendUnicodeEscape(out, r1)
			out = appendUnicodeEscape(out, r2)
		} else {
			out = appendUnicodeEscape(out, r)
		}
		i += size
	}
	return out
}

func appendUnicodeEscape(out []byte, r rune) []byte {
	hex := strconv.FormatInt(int64(r), 16)
	out = append(out, '\\', 'u')
	for n := len(hex); n < 4; n++ {
		out = append(out, '0')
	}
	return append(out, hex...)
}
