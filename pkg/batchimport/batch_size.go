package batchimport

// OptimalBatchSize picks a batch size for a run of total items: small runs go in one
// batch, larger ones in progressively bigger slices.
func OptimalBatchSize(total int) int {
	switch {
	case total <= 0:
		return 1
	case total <= 10:
		return total
	case total <= 100:
		return 10
	case total <= 1000:
		return 25
	default:
		return 50
	}
}

func batchCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
