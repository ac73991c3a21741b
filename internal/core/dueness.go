package core

import "sort"

// DueStatus buckets a customer relative to its due date.
type DueStatus string

const (
	StatusNormal  DueStatus = "normal"
	StatusDueSoon DueStatus = "due_soon"
	StatusOverdue DueStatus = "overdue"
)

// DefaultDueSoonWindowDays is how far ahead a due date counts as "due soon".
const DefaultDueSoonWindowDays = 3

// Classifier derives due-status views from customer state and a reference
// day. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	// DueSoonWindowDays is the inclusive upper bound, in days, for the
	// due-soon bucket. Zero means DefaultDueSoonWindowDays.
	DueSoonWindowDays int
}

func (cl Classifier) window() int {
	if cl.DueSoonWindowDays <= 0 {
		return DefaultDueSoonWindowDays
	}
	return cl.DueSoonWindowDays
}

// Classify buckets a single customer for the given day.
//
// Overdue requires both a past due date and a positive pending balance;
// due-soon only requires a due date within the window. A customer whose
// due date is exactly today is neither. No due date means always normal.
func (cl Classifier) Classify(c *Customer, today Date) DueStatus {
	if c.DueDate.IsEmpty() {
		return StatusNormal
	}
	days := today.DaysUntil(c.DueDate)
	switch {
	case days < 0 && c.Pending.Cents > 0:
		return StatusOverdue
	case days > 0 && days <= cl.window():
		return StatusDueSoon
	default:
		return StatusNormal
	}
}

// DaysOverdue returns how many whole days past due the customer is, for
// display. A due date of yesterday yields 1. Customers that are not
// overdue yield 0.
func (cl Classifier) DaysOverdue(c *Customer, today Date) int {
	if cl.Classify(c, today) != StatusOverdue {
		return 0
	}
	return c.DueDate.DaysUntil(today)
}

// Overdue filters and orders the overdue customers, oldest due date first.
func (cl Classifier) Overdue(customers []*Customer, today Date) []*Customer {
	var out []*Customer
	for _, c := range customers {
		if cl.Classify(c, today) == StatusOverdue {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate.Time)
	})
	return out
}

// DueSoon filters the customers whose due date falls inside the window,
// regardless of balance.
func (cl Classifier) DueSoon(customers []*Customer, today Date) []*Customer {
	var out []*Customer
	for _, c := range customers {
		if cl.Classify(c, today) == StatusDueSoon {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate.Time)
	})
	return out
}
