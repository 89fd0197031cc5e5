package reward

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrNoEligiblePrize is returned when no prize is unlocked for the streak.
var ErrNoEligiblePrize = errors.New("no eligible prize for streak")

const (
	// baseWeight is the weight of a rarity-1 prize.
	baseWeight = 10.0

	// streakBoostDays is the streak length at which the boost saturates.
	streakBoostDays = 31.0

	// MinLucky and MaxLucky bound the lucky number.
	MinLucky = 1
	MaxLucky = 100
)

// targetShare is the relative share per rarity. The values sum to 1.10;
// weights are ratios against rarity 1, so the table is never normalized.
var targetShare = map[int]float64{
	1: 0.10,
	2: 0.20,
	3: 0.25,
	4: 0.20,
	5: 0.15,
	6: 0.10,
	7: 0.10,
}

// boostedRarities grow with the streak.
var boostedRarities = []int{3, 4, 5, 6}

// Reward is the outcome of one draw.
type Reward struct {
	Name        string
	Category    string
	Rarity      int
	BaseAmount  int64
	FinalAmount int64
	Multiplier  int
	LuckyNumber int
}

// Generator draws rewards from a catalog. It is safe for concurrent use.
type Generator struct {
	catalog *Catalog
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewGenerator creates a generator. A nil rng is seeded from the clock.
func NewGenerator(catalog *Catalog, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{catalog: catalog, rng: rng}
}

// Catalog returns the catalog the generator draws from.
func (g *Generator) Catalog() *Catalog {
	return g.catalog
}

// Weights returns the draw weight of each eligible prize for a streak.
func Weights(eligible []Prize, streakDays int) []float64 {
	target := make(map[int]float64, len(targetShare))
	for r, v := range targetShare {
		target[r] = v
	}

	factor := min(float64(streakDays)/streakBoostDays, 1.0)
	for _, r := range boostedRarities {
		target[r] *= 1 + factor
	}

	weights := make([]float64, len(eligible))
	for i, p := range eligible {
		weights[i] = baseWeight * target[p.Rarity] / target[1]
	}
	return weights
}

// Draw selects one reward for a user with the given streak. existingLucky
// is the lucky number already issued to the user today, or 0 if none.
func (g *Generator) Draw(streakDays int, existingLucky int) (Reward, error) {
	eligible := g.catalog.Eligible(streakDays)
	if len(eligible) == 0 {
		return Reward{}, ErrNoEligiblePrize
	}
	weights := Weights(eligible, streakDays)

	g.mu.Lock()
	prize := pickWeighted(g.rng, eligible, weights)
	lucky := existingLucky
	if lucky < MinLucky || lucky > MaxLucky {
		lucky = g.rng.Intn(MaxLucky-MinLucky+1) + MinLucky
	}
	g.mu.Unlock()

	multiplier := g.catalog.Multiplier(lucky)
	return Reward{
		Name:        prize.Name,
		Category:    prize.Category,
		Rarity:      prize.Rarity,
		BaseAmount:  prize.BaseAmount,
		FinalAmount: prize.BaseAmount * int64(multiplier),
		Multiplier:  multiplier,
		LuckyNumber: lucky,
	}, nil
}

func pickWeighted(rng *rand.Rand, prizes []Prize, weights []float64) Prize {
	var total float64
	for _, w := range weights {
		total += w
	}

	roll := rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if roll < cum {
			return prizes[i]
		}
	}
	return prizes[len(prizes)-1]
}
