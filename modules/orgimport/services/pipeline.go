package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

var tracer = otel.Tracer("orgimport")

var ErrEmptyWorkbook = errors.New("workbook has no rows")

// ExistingCodesProvider supplies the codes already persisted for a tenant.
type ExistingCodesProvider interface {
	ExistingCodes(ctx context.Context, tenantID uuid.UUID) (record.ExistingCodes, error)
}

// ResolutionKey addresses one duplicate group of one sheet.
type ResolutionKey struct {
	Kind record.SheetKind
	Code string
}

func NewResolutionKey(kind record.SheetKind, code string) ResolutionKey {
	return ResolutionKey{Kind: kind, Code: record.NormalizeCode(code)}
}

type PrepareInput struct {
	TenantID uuid.UUID
	Workbook *record.Workbook
	// Resolutions picks a strategy per duplicate group; it wins over AutoResolve.
	Resolutions map[ResolutionKey]record.Strategy
	AutoResolve bool
}

// Plan is the outcome of Prepare. Items is empty unless Ready is set.
type Plan struct {
	Ready       bool                         `json:"ready"`
	Errors      []record.ValidationError     `json:"errors"`
	Duplicates  []record.DuplicateEntry      `json:"duplicates"`
	Resolutions []record.DuplicateResolution `json:"resolutions"`
	Existing    record.ExistingCodes         `json:"-"`
	Items       []record.ImportItem          `json:"items"`
	Creates     int                          `json:"creates"`
	Updates     int                          `json:"updates"`
}

// Warnings returns the non-blocking findings of the plan.
func (p *Plan) Warnings() []record.ValidationError {
	return record.Warnings(p.Errors)
}

type Pipeline struct {
	provider   ExistingCodesProvider
	validator  *Validator
	detector   *DuplicateDetector
	resolver   *DuplicateResolver
	classifier *OperationClassifier
	logger     *logrus.Entry
}

type PipelineOption func(*Pipeline)

func WithLogger(l *logrus.Entry) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithValidator(v *Validator) PipelineOption {
	return func(p *Pipeline) {
		if v != nil {
			p.validator = v
		}
	}
}

// NewPipeline wires the pure stages around a provider. A nil provider means nothing is
// persisted yet, which is what offline validation uses.
func NewPipeline(provider ExistingCodesProvider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		provider:   provider,
		validator:  NewValidator(),
		detector:   NewDuplicateDetector(),
		resolver:   NewDuplicateResolver(),
		classifier: NewOperationClassifier(),
		logger:     logrusNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Prepare(ctx context.Context, in PrepareInput) (*Plan, error) {
	if in.Workbook == nil || in.Workbook.Len() == 0 {
		return nil, ErrEmptyWorkbook
	}
	ctx, span := tracer.Start(ctx, "orgimport.prepare", trace.WithAttributes(
		attribute.String("tenant.id", in.TenantID.String()),
		attribute.Int("rows.departments", len(in.Workbook.Departments)),
		attribute.Int("rows.positions", len(in.Workbook.Positions)),
	))
	defer span.End()

	log := p.logger.WithField("tenant_id", in.TenantID.String())
	plan := &Plan{Errors: []record.ValidationError{}}

	wb := &record.Workbook{}
	for _, kind := range []record.SheetKind{record.SheetDepartments, record.SheetPositions} {
		rows, err := p.reconcile(ctx, kind, in.Workbook.Rows(kind), in, plan)
		if err != nil {
			return nil, err
		}
		if kind == record.SheetPositions {
			wb.Positions = rows
		} else {
			wb.Departments = rows
		}
	}

	existing, err := p.existingCodes(ctx, in.TenantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	plan.Existing = existing

	plan.Errors = append(plan.Errors, p.validate(ctx, wb, existing)...)
	if record.HasErrors(plan.Errors) {
		log.WithFields(logrus.Fields{
			"errors":   len(record.Errors(plan.Errors)),
			"warnings": len(plan.Warnings()),
		}).Info("orgimport: validation failed")
		span.SetAttributes(attribute.Bool("plan.ready", false))
		return plan, nil
	}

	_, classifySpan := tracer.Start(ctx, "orgimport.classify")
	items := orderItems(p.classifier.Classify(wb.Departments, existing.Departments), wb.Departments)
	items = append(items, orderItems(p.classifier.Classify(wb.Positions, existing.Positions), wb.Positions)...)
	classifySpan.SetAttributes(attribute.Int("items", len(items)))
	classifySpan.End()

	plan.Items = items
	plan.Creates, plan.Updates = record.CountOperations(items)
	plan.Ready = true

	log.WithFields(logrus.Fields{
		"items":    len(items),
		"creates":  plan.Creates,
		"updates":  plan.Updates,
		"warnings": len(plan.Warnings()),
	}).Info("orgimport: plan ready")
	span.SetAttributes(
		attribute.Bool("plan.ready", true),
		attribute.Int("plan.creates", plan.Creates),
		attribute.Int("plan.updates", plan.Updates),
	)
	return plan, nil
}

// reconcile detects duplicates of one sheet and applies the chosen strategies.
func (p *Pipeline) reconcile(ctx context.Context, kind record.SheetKind, rows []record.Row, in PrepareInput, plan *Plan) ([]record.Row, error) {
	_, span := tracer.Start(ctx, "orgimport.duplicates", trace.WithAttributes(attribute.String("sheet", string(kind))))
	defer span.End()

	entries := p.detector.Detect(rows)
	span.SetAttributes(attribute.Int("duplicates", len(entries)))
	if len(entries) == 0 {
		return rows, nil
	}
	plan.Duplicates = append(plan.Duplicates, entries...)

	var resolutions []record.DuplicateResolution
	for _, e := range entries {
		strategy, ok := in.Resolutions[ResolutionKey{Kind: kind, Code: e.Key}]
		if !ok {
			if !in.AutoResolve {
				continue
			}
			strategy = e.RecommendedStrategy
		}
		res, err := p.resolver.Resolve(e, strategy)
		if err != nil {
			return nil, fmt.Errorf("resolve %s %q: %w", kind.ItemType(), e.Key, err)
		}
		resolutions = append(resolutions, res)
		p.logger.WithFields(logrus.Fields{
			"sheet":    string(kind),
			"code":     e.Key,
			"strategy": string(strategy),
			"removed":  len(res.RemoveRows),
		}).Debug("orgimport: duplicate resolved")
	}
	plan.Resolutions = append(plan.Resolutions, resolutions...)
	return p.resolver.Apply(rows, resolutions), nil
}

func (p *Pipeline) existingCodes(ctx context.Context, tenantID uuid.UUID) (record.ExistingCodes, error) {
	if p.provider == nil {
		return record.ExistingCodes{Departments: record.CodeSet{}, Positions: record.CodeSet{}}, nil
	}
	ctx, span := tracer.Start(ctx, "orgimport.existing_codes")
	defer span.End()

	existing, err := p.provider.ExistingCodes(ctx, tenantID)
	if err != nil {
		return record.ExistingCodes{}, fmt.Errorf("load existing codes: %w", err)
	}
	existing.Departments = existing.For(record.SheetDepartments)
	existing.Positions = existing.For(record.SheetPositions)
	return existing, nil
}

func (p *Pipeline) validate(ctx context.Context, wb *record.Workbook, existing record.ExistingCodes) []record.ValidationError {
	_, span := tracer.Start(ctx, "orgimport.validate")
	defer span.End()

	var errs []record.ValidationError
	if len(wb.Departments) > 0 {
		errs = append(errs, p.validator.Validate(wb.Departments, nil, existing.Departments)...)
	}
	if len(wb.Positions) > 0 {
		errs = append(errs, p.validator.Validate(wb.Positions, nil, existing.Positions)...)
		errs = append(errs, p.validator.ValidatePositionDepartments(
			wb.Positions, record.CodesOf(wb.Departments), existing.Departments)...)
	}
	span.SetAttributes(
		attribute.Int("errors", len(record.Errors(errs))),
		attribute.Int("warnings", len(record.Warnings(errs))),
	)
	return errs
}

// orderItems sorts items so in-file parents precede their children; ties keep line order.
// rows must be acyclic.
func orderItems(items []record.ImportItem, rows []record.Row) []record.ImportItem {
	parentOf := make(map[string]string, len(rows))
	for _, r := range rows {
		parentOf[record.NormalizeCode(r.Code)] = record.NormalizeCode(r.Parent())
	}
	depth := make(map[string]int, len(rows))
	var depthOf func(code string, guard int) int
	depthOf = func(code string, guard int) int {
		if d, ok := depth[code]; ok {
			return d
		}
		parent, ok := parentOf[code]
		d := 0
		if ok && parent != "" && guard > 0 {
			if _, inFile := parentOf[parent]; inFile {
				d = depthOf(parent, guard-1) + 1
			}
		}
		depth[code] = d
		return d
	}

	out := append([]record.ImportItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		return depthOf(record.NormalizeCode(out[i].Data.Code), len(rows)) <
			depthOf(record.NormalizeCode(out[j].Data.Code), len(rows))
	})
	return out
}

func logrusNop() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
