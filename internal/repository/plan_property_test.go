package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genStock(t *rapid.T) []StockRow {
	n := rapid.IntRange(0, 8).Draw(t, "rows")
	rows := make([]StockRow, n)
	for i := range rows {
		rows[i] = StockRow{
			ID:        int64(i + 1),
			Remaining: rapid.Int64Range(0, 20).Draw(t, "remaining"),
		}
	}
	return rows
}

// TestPlanConsumptionConservationProperty checks that a plan takes exactly
// the requested quantity, never more than a row holds, or fails whole.
func TestPlanConsumptionConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rows := genStock(t)
		quantity := rapid.Int64Range(1, 100).Draw(t, "quantity")

		var total int64
		byID := make(map[int64]int64, len(rows))
		for _, r := range rows {
			total += r.Remaining
			byID[r.ID] = r.Remaining
		}

		plan, err := PlanConsumption(rows, quantity)
		if total < quantity {
			if err != ErrInsufficientStock || plan != nil {
				t.Fatalf("expected insufficient stock, got plan=%v err=%v", plan, err)
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var taken int64
		for _, c := range plan {
			if c.Quantity <= 0 || c.Quantity > byID[c.RecordID] {
				t.Fatalf("record %d: took %d of %d", c.RecordID, c.Quantity, byID[c.RecordID])
			}
			taken += c.Quantity
		}
		if taken != quantity {
			t.Fatalf("took %d, wanted %d", taken, quantity)
		}
	})
}

// TestPlanConsumptionFIFOProperty checks that every record before the last
// one touched is fully drained.
func TestPlanConsumptionFIFOProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rows := genStock(t)
		quantity := rapid.Int64Range(1, 100).Draw(t, "quantity")

		plan, err := PlanConsumption(rows, quantity)
		if err != nil {
			return
		}

		byID := make(map[int64]int64, len(rows))
		for _, r := range rows {
			byID[r.ID] = r.Remaining
		}
		for i := 0; i < len(plan)-1; i++ {
			if plan[i].Quantity != byID[plan[i].RecordID] {
				t.Fatalf("record %d only partly consumed before a newer one", plan[i].RecordID)
			}
			if plan[i].RecordID >= plan[i+1].RecordID {
				t.Fatalf("plan out of order: %v", plan)
			}
		}
	})
}

func TestPlanConsumption_InvalidQuantity(t *testing.T) {
	_, err := PlanConsumption([]StockRow{{ID: 1, Remaining: 5}}, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlanConsumption_ScenarioB(t *testing.T) {
	plan, err := PlanConsumption([]StockRow{{ID: 1, Remaining: 2}, {ID: 2, Remaining: 3}}, 4)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, int64(2), plan[0].Quantity)
	assert.Equal(t, int64(2), plan[1].Quantity)
}
