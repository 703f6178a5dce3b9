package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/registry"
	"github.com/assaka/daino/types"
	"io"
	"time"
)

// Catalog reads and writes a store's catalog entities (products, categories...).
type Catalog interface {
	Count(ctx context.Context, tenantID, entity string) (int, error)
	// WritePage encodes up to limit rows starting at offset into w and returns how many were written.
	WritePage(ctx context.Context, tenantID, entity, format string, offset, limit int, w io.Writer) (int, error)
	// UpsertBatch stores rows keyed by their natural key, so replaying a batch is harmless.
	UpsertBatch(ctx context.Context, tenantID, entity string, rows []json.RawMessage) (UpsertReport, error)
}

type UpsertReport struct {
	Accepted int        `json:"accepted"`
	Rejected []RowError `json:"rejected,omitempty"`
}

type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// FileStore holds export and import files.
type FileStore interface {
	Put(ctx context.Context, tenantID, name string, r io.Reader) (string, error)
	Open(ctx context.Context, tenantID, location string) (io.ReadCloser, error)
}

type exportPayload struct {
	Entity string `json:"entity"`
	Format string `json:"format"`
}

type ExportResult struct {
	Location string `json:"location"`
	Rows     int    `json:"rows"`
}

// Export writes an entity to a file page by page.
type Export struct {
	Catalog  Catalog
	Files    FileStore
	PageSize int
	Now      func() time.Time
}

func (h *Export) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	p, err := decode[exportPayload](job.Payload)
	if err != nil {
		return nil, err
	}
	if p.Entity == "" {
		p.Entity = "products"
	}
	switch p.Format {
	case "":
		p.Format = "csv"
	case "csv", "json":
	default:
		return nil, custom_errors.Permanentf("unsupported export format %q", p.Format)
	}
	pageSize := h.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	total, err := h.Catalog.Count(ctx, job.TenantID, p.Entity)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	done := 0
	for done < total {
		n, err := h.Catalog.WritePage(ctx, job.TenantID, p.Entity, p.Format, done, pageSize, &buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		done += n
		if err := step(ctx, ec, done, total, fmt.Sprintf("exported %d of %d %s", done, total, p.Entity)); err != nil {
			return nil, err
		}
	}

	name := fmt.Sprintf("%s-%s-%s.%s", p.Entity, h.Now().Format("20060102T150405Z"), job.ID, p.Format)
	location, err := h.Files.Put(ctx, job.TenantID, name, &buf)
	if err != nil {
		return nil, err
	}
	return result(ExportResult{Location: location, Rows: done})
}

type importPayload struct {
	Entity   string `json:"entity"`
	Location string `json:"location"`
}

// Import reads a JSON array of rows from a file and upserts it in batches.
type Import struct {
	Catalog   Catalog
	Files     FileStore
	BatchSize int
}

func (h *Import) Execute(ctx context.Context, job *types.Job, ec *registry.ExecContext) (json.RawMessage, error) {
	p, err := decode[importPayload](job.Payload)
	if err != nil {
		return nil, err
	}
	if p.Location == "" {
		return nil, custom_errors.Permanentf("location is required")
	}
	if p.Entity == "" {
		p.Entity = "products"
	}
	batchSize := h.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	f, err := h.Files.Open(ctx, job.TenantID, p.Location)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []json.RawMessage
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, custom_errors.Permanentf("import file is not a JSON array: %v", err)
	}

	report := UpsertReport{}
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		batch, err := h.Catalog.UpsertBatch(ctx, job.TenantID, p.Entity, rows[start:end])
		if err != nil {
			return nil, err
		}
		report.Accepted += batch.Accepted
		for _, re := range batch.Rejected {
			re.Row += start
			report.Rejected = append(report.Rejected, re)
		}
		if err := step(ctx, ec, end, len(rows), fmt.Sprintf("imported %d of %d rows", end, len(rows))); err != nil {
			return nil, err
		}
	}
	return result(report)
}
