package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

const (
	departmentsTable = "org_import_departments"
	positionsTable   = "org_import_positions"
)

func tableFor(kind record.SheetKind) string {
	if kind == record.SheetPositions {
		return positionsTable
	}
	return departmentsTable
}

// CodesRepository reads the codes already stored for a tenant.
type CodesRepository struct {
	pool *pgxpool.Pool
}

func NewCodesRepository(pool *pgxpool.Pool) *CodesRepository {
	return &CodesRepository{pool: pool}
}

func (r *CodesRepository) ExistingCodes(ctx context.Context, tenantID uuid.UUID) (record.ExistingCodes, error) {
	departments, err := r.codes(ctx, record.SheetDepartments, tenantID)
	if err != nil {
		return record.ExistingCodes{}, err
	}
	positions, err := r.codes(ctx, record.SheetPositions, tenantID)
	if err != nil {
		return record.ExistingCodes{}, err
	}
	return record.ExistingCodes{Departments: departments, Positions: positions}, nil
}

func (r *CodesRepository) codes(ctx context.Context, kind record.SheetKind, tenantID uuid.UUID) (record.CodeSet, error) {
	rows, err := r.pool.Query(ctx, "SELECT code FROM "+tableFor(kind)+" WHERE tenant_id = $1", tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s codes", kind)
	}
	defer rows.Close()

	out := record.CodeSet{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrapf(err, "scan %s code", kind)
		}
		out.Add(code)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s codes", kind)
	}
	return out, nil
}
