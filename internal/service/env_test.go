package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reward-bridge/internal/config"
	"reward-bridge/internal/effect"
	"reward-bridge/internal/pkg/lock"
	"reward-bridge/internal/reward"
)

const (
	alice int64 = 1001
	bob   int64 = 1002
	admin int64 = 9000
)

var testDay = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testCatalog(t *testing.T) *reward.Catalog {
	t.Helper()
	c, err := reward.NewCatalog([]reward.Prize{
		{Name: "tea", Category: "item", Rarity: 1, BaseAmount: 1, SellPrice: 10, Effect: effect.Nausea},
		{Name: "feather", Category: "item", Rarity: 2, BaseAmount: 1, Effect: effect.Fly},
		{Name: "blindbox", Category: "item", Rarity: 3, BaseAmount: 1, Effect: effect.Box},
		{Name: "crown", Category: "item", Rarity: 7, BaseAmount: 1},
	}, []reward.MultiplierRange{
		{Multiplier: 1, Min: 1, Max: 100},
	})
	require.NoError(t, err)
	return c
}

type testEnv struct {
	ledger    *memLedger
	bindings  *memBindings
	sink      *recordingSink
	presence  staticPresence
	signs     *SignService
	inventory *InventoryService
	items     *ItemService
}

// newTestEnv wires the ledger services over in-memory stores. successRate
// is the item effect success chance in percent.
func newTestEnv(t *testing.T, successRate float64) *testEnv {
	t.Helper()

	catalog := testCatalog(t)
	effects, err := effect.NewRegistry(effect.Builtins()...)
	require.NoError(t, err)
	require.NoError(t, effects.ValidateCatalog(catalog))

	env := &testEnv{
		ledger:   newMemLedger(),
		bindings: newMemBindings(),
		sink:     newRecordingSink(),
		presence: staticPresence{},
	}

	userLock := lock.NewUserLock()
	gen := reward.NewGenerator(catalog, rand.New(rand.NewSource(7)))
	env.signs = NewSignService(env.ledger, gen, userLock, "bridge", time.UTC)
	env.signs.now = func() time.Time { return testDay }

	env.inventory = NewInventoryService(env.ledger, env.ledger, env.bindings, userLock, time.UTC)
	env.inventory.now = func() time.Time { return testDay }

	roller := effect.NewRoller(config.EffectsConfig{
		BaseSuccessRate: successRate,
		FailDropMin:     5,
		FailDropMax:     20,
	}, rand.New(rand.NewSource(11)))

	env.items = NewItemService(ItemServiceConfig{
		Catalog:   catalog,
		Effects:   effects,
		Roller:    roller,
		Signs:     env.signs,
		Inventory: env.inventory,
		Bindings:  env.bindings,
		Presence:  env.presence,
		Sink:      env.sink,
		IsAdmin:   func(id int64) bool { return id == admin },
		BotName:   "bridge",
		TrendCost: 50,
	})
	return env
}

func (e *testEnv) setDay(day time.Time) {
	e.signs.now = func() time.Time { return day }
	e.inventory.now = func() time.Time { return day }
}
