package record

import "fmt"

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
)

// ImportItem is a classified row ready for the batch manager.
type ImportItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Operation Operation `json:"operation"`
	Data      Row       `json:"data"`
}

func ItemID(kind SheetKind, line int) string {
	return fmt.Sprintf("%s-%d", kind.ItemType(), line)
}

func (i ImportItem) ItemID() string   { return i.ID }
func (i ImportItem) ItemKind() string { return i.Type }

// CountOperations returns the number of CREATE and UPDATE items.
func CountOperations(items []ImportItem) (creates, updates int) {
	for _, it := range items {
		if it.Operation == OperationUpdate {
			updates++
		} else {
			creates++
		}
	}
	return creates, updates
}
