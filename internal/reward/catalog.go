// Package reward holds the static prize catalog and the sign-in reward draw.
package reward

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"reward-bridge/internal/config"
)

// Rarity bounds.
const (
	MinRarity = 1
	MaxRarity = 7
)

// Catalog validation errors.
var (
	ErrEmptyCatalog     = errors.New("reward catalog has no prizes")
	ErrInvalidRarity    = errors.New("prize rarity must be between 1 and 7")
	ErrDuplicatePrize   = errors.New("duplicate prize name")
	ErrInvalidRange     = errors.New("invalid multiplier range")
	ErrOverlappingRange = errors.New("multiplier ranges overlap")
)

// Prize is one entry of the catalog.
type Prize struct {
	Name       string
	Category   string
	Rarity     int
	BaseAmount int64
	SellPrice  int64
	Effect     string
}

// MultiplierRange maps an inclusive lucky-number bucket to a multiplier.
type MultiplierRange struct {
	Multiplier int
	Min        int
	Max        int
}

// Catalog is the read-only prize table.
type Catalog struct {
	prizes []Prize
	byName map[string]Prize
	ranges []MultiplierRange
}

// NewCatalog builds and validates a catalog.
func NewCatalog(prizes []Prize, ranges []MultiplierRange) (*Catalog, error) {
	if len(prizes) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		prizes: make([]Prize, 0, len(prizes)),
		byName: make(map[string]Prize, len(prizes)),
	}
	for _, p := range prizes {
		if p.Rarity < MinRarity || p.Rarity > MaxRarity {
			return nil, fmt.Errorf("%w: %s has rarity %d", ErrInvalidRarity, p.Name, p.Rarity)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePrize, p.Name)
		}
		if p.BaseAmount <= 0 {
			p.BaseAmount = 1
		}
		c.prizes = append(c.prizes, p)
		c.byName[p.Name] = p
	}

	c.ranges = append(c.ranges, ranges...)
	sort.Slice(c.ranges, func(i, j int) bool { return c.ranges[i].Min < c.ranges[j].Min })
	for i, r := range c.ranges {
		if r.Min > r.Max || r.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: %d => [%d,%d]", ErrInvalidRange, r.Multiplier, r.Min, r.Max)
		}
		if i > 0 && r.Min <= c.ranges[i-1].Max {
			return nil, fmt.Errorf("%w: [%d,%d] and [%d,%d]", ErrOverlappingRange,
				c.ranges[i-1].Min, c.ranges[i-1].Max, r.Min, r.Max)
		}
	}

	return c, nil
}

// FromConfig converts the rewards section of the configuration.
func FromConfig(cfg config.RewardsConfig) (*Catalog, error) {
	prizes := make([]Prize, 0, len(cfg.Prizes))
	for _, p := range cfg.Prizes {
		prizes = append(prizes, Prize{
			Name:       p.Name,
			Category:   p.Category,
			Rarity:     p.Rarity,
			BaseAmount: p.BaseAmount,
			SellPrice:  p.SellPrice,
			Effect:     p.Effect,
		})
	}

	ranges := make([]MultiplierRange, 0, len(cfg.MultiplierRanges))
	for key, r := range cfg.MultiplierRanges {
		m, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q is not an integer", ErrInvalidRange, key)
		}
		ranges = append(ranges, MultiplierRange{Multiplier: m, Min: r.Min, Max: r.Max})
	}

	return NewCatalog(prizes, ranges)
}

// Prizes returns the prizes in configuration order.
func (c *Catalog) Prizes() []Prize {
	out := make([]Prize, len(c.prizes))
	copy(out, c.prizes)
	return out
}

// Get returns the prize with the given name.
func (c *Catalog) Get(name string) (Prize, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Eligible returns the prizes whose rarity does not exceed min(streak, 7).
func (c *Catalog) Eligible(streakDays int) []Prize {
	maxRarity := min(streakDays, MaxRarity)
	var out []Prize
	for _, p := range c.prizes {
		if p.Rarity <= maxRarity {
			out = append(out, p)
		}
	}
	return out
}

// Multiplier returns the multiplier of the bucket containing lucky, or 1.
func (c *Catalog) Multiplier(lucky int) int {
	for _, r := range c.ranges {
		if r.Min <= lucky && lucky <= r.Max {
			return r.Multiplier
		}
	}
	return 1
}
