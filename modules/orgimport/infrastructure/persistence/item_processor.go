package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
	"github.com/iota-uz/org-import/pkg/batchimport"
)

const DefaultConcurrency = 4

var (
	ErrRowNotFound     = errors.New("row to update not found")
	ErrUnsupportedKind = errors.New("unsupported item kind")
)

// ItemProcessor writes one batch of import items for a tenant.
type ItemProcessor struct {
	pool        *pgxpool.Pool
	tenantID    uuid.UUID
	concurrency int
	log         *logrus.Entry
}

type ProcessorOption func(*ItemProcessor)

func WithConcurrency(n int) ProcessorOption {
	return func(p *ItemProcessor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithProcessorLogger(l *logrus.Entry) ProcessorOption {
	return func(p *ItemProcessor) {
		if l != nil {
			p.log = l
		}
	}
}

func NewItemProcessor(pool *pgxpool.Pool, tenantID uuid.UUID, opts ...ProcessorOption) *ItemProcessor {
	p := &ItemProcessor{
		pool:        pool,
		tenantID:    tenantID,
		concurrency: DefaultConcurrency,
		log:         logrusNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ batchimport.Processor[record.ImportItem] = (*ItemProcessor)(nil)

// Process reports per-item failures in the outcome. An unreachable database is returned as
// an error so the whole batch is failed.
func (p *ItemProcessor) Process(ctx context.Context, items []record.ImportItem) (batchimport.Outcome[record.ImportItem], error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return batchimport.Outcome[record.ImportItem]{}, errors.Wrap(err, "acquire connection")
	}
	conn.Release()

	errs := make([]error, len(items))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range items {
		g.Go(func() error {
			errs[i] = p.write(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()

	var out batchimport.Outcome[record.ImportItem]
	for i, it := range items {
		if errs[i] == nil {
			out.Succeeded = append(out.Succeeded, it)
			continue
		}
		p.log.WithError(errs[i]).WithFields(logrus.Fields{
			"item_id":   it.ID,
			"operation": string(it.Operation),
		}).Debug("orgimport: item write failed")
		out.Failed = append(out.Failed, batchimport.FailedItem[record.ImportItem]{Item: it, Err: errs[i]})
	}
	return out, nil
}

// write matches rows on code_key, which holds record.NormalizeCode of the code so the
// store and the classifier agree on which codes are equal.
func (p *ItemProcessor) write(ctx context.Context, it record.ImportItem) error {
	var (
		sql  string
		args []any
	)
	row := it.Data
	switch row.Kind {
	case record.SheetDepartments:
		args = []any{p.tenantID, row.Code, record.NormalizeCode(row.Code), row.Name, nullable(row.Parent()), attributesOf(row)}
		if it.Operation == record.OperationUpdate {
			sql = `UPDATE org_import_departments
SET name = $4, parent_code = $5, attributes = $6, updated_at = now()
WHERE tenant_id = $1 AND code_key = $3`
		} else {
			sql = `INSERT INTO org_import_departments (tenant_id, code, code_key, name, parent_code, attributes)
VALUES ($1, btrim($2), $3, $4, $5, $6)`
		}
	case record.SheetPositions:
		args = []any{p.tenantID, row.Code, record.NormalizeCode(row.Code), row.Name, nullable(row.Parent()), nullable(row.DepartmentCode()), attributesOf(row)}
		if it.Operation == record.OperationUpdate {
			sql = `UPDATE org_import_positions
SET title = $4, reports_to_code = $5, department_code = $6, attributes = $7, updated_at = now()
WHERE tenant_id = $1 AND code_key = $3`
		} else {
			sql = `INSERT INTO org_import_positions (tenant_id, code, code_key, title, reports_to_code, department_code, attributes)
VALUES ($1, btrim($2), $3, $4, $5, $6, $7)`
		}
	default:
		return errors.Wrapf(ErrUnsupportedKind, "%q", row.Kind)
	}

	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Wrapf(err, "%s %s %q", it.Operation, it.Type, row.Code)
	}
	if it.Operation == record.OperationUpdate && tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrRowNotFound, "%s %q", it.Type, row.Code)
	}
	return nil
}

// attributesOf collects the non-empty extra cells that have no column of their own.
func attributesOf(row record.Row) map[string]string {
	out := map[string]string{}
	for k, v := range row.Extra {
		if k == record.FieldDepartmentCode || record.IsEmpty(v) {
			continue
		}
		out[k] = record.Stringify(v)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
