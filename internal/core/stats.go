package core

// AggregateStats is the store-wide roll-up across every customer.
type AggregateStats struct {
	TotalBilled  Money
	TotalPending Money
	TotalSettled Money
}

// Aggregate folds the full customer set into store-wide totals. It is a
// pure function with no failure modes; an empty set yields zero totals.
func Aggregate(customers []*Customer) AggregateStats {
	var stats AggregateStats
	for _, c := range customers {
		stats.TotalBilled = stats.TotalBilled.Add(c.TotalBilled)
		stats.TotalPending = stats.TotalPending.Add(c.Pending)
		stats.TotalSettled = stats.TotalSettled.Add(c.Settled)
	}
	return stats
}
