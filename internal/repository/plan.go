package repository

import "reward-bridge/internal/model"

// StockRow is an unconsumed reward record as seen by the FIFO planner.
type StockRow struct {
	ID        int64
	Remaining int64
}

// PlanConsumption takes quantity units from rows in the order given,
// draining each row before moving to the next. It returns
// ErrInsufficientStock, and no plan, when the rows hold less than quantity.
func PlanConsumption(rows []StockRow, quantity int64) ([]model.Consumed, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var total int64
	for _, row := range rows {
		total += row.Remaining
	}
	if total < quantity {
		return nil, ErrInsufficientStock
	}

	plan := make([]model.Consumed, 0, len(rows))
	need := quantity
	for _, row := range rows {
		if need == 0 {
			break
		}
		if row.Remaining <= 0 {
			continue
		}
		take := min(row.Remaining, need)
		plan = append(plan, model.Consumed{RecordID: row.ID, Quantity: take})
		need -= take
	}
	return plan, nil
}
