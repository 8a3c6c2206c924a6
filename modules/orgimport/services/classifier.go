package services

import (
	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

// OperationClassifier labels each row CREATE or UPDATE against the persisted codes.
type OperationClassifier struct{}

func NewOperationClassifier() *OperationClassifier {
	return &OperationClassifier{}
}

// Classify yields exactly one item per row, in input order.
func (c *OperationClassifier) Classify(rows []record.Row, existing record.CodeSet) []record.ImportItem {
	items := make([]record.ImportItem, 0, len(rows))
	for _, r := range rows {
		op := record.OperationCreate
		if existing.Has(r.Code) {
			op = record.OperationUpdate
		}
		items = append(items, record.ImportItem{
			ID:        record.ItemID(r.Kind, r.Line),
			Type:      r.Kind.ItemType(),
			Operation: op,
			Data:      r.Clone(),
		})
	}
	return items
}
