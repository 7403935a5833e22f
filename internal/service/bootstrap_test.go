package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
)

func TestDefaultWorld_Parses(t *testing.T) {
	w := DefaultWorld()
	assert.NotEmpty(t, w.Organizations)
	assert.NotEmpty(t, w.Actors)
	for _, o := range w.Organizations {
		assert.Positive(t, o.Price, o.ID)
	}
}

func TestParseWorld_RejectsDuplicates(t *testing.T) {
	_, err := ParseWorld([]byte(`
organizations:
  - {id: AAA, name: A, price: 10}
actors:
  - {id: AAA, name: Clash}
`))
	assert.ErrorContains(t, err, "duplicate id")

	_, err = ParseWorld([]byte(`organizations: [{id: AAA, name: A}]`))
	assert.ErrorContains(t, err, "positive price")
}

func TestEnsureSeeded_Idempotent(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	world := World{
		Organizations: []WorldOrganization{{ID: "AAA", Name: "A", Price: 10}, {ID: "BBB", Name: "B", Price: 20}},
		Actors:        []WorldActor{{ID: "npc-1", Name: "One", Balance: 500}},
	}
	b := NewBootstrapper(storesOf(db), world, discardLogger()).WithClock(fixedClock(testNow))

	seeded, err := b.EnsureSeeded(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.InDelta(t, 500, balanceOf(t, db, "npc-1"), 1e-9)

	require.NoError(t, db.Balances().Debit(ctx, "npc-1", 100))
	require.NoError(t, db.Organizations().UpdatePrice(ctx, domain.PricePoint{OrganizationID: "AAA", Price: 12, RecordedAt: testNow}))

	b.WithClock(fixedClock(testNow.Add(time.Hour)))
	seeded, err = b.EnsureSeeded(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.InDelta(t, 400, balanceOf(t, db, "npc-1"), 1e-9)

	orgs, err := db.Organizations().List(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 12, orgs[0].CurrentPrice, 1e-9)

	genesis, err := db.State().GetTime(ctx, domain.StateGenesis)
	require.NoError(t, err)
	assert.Equal(t, testNow, genesis)
}

func TestEnsureSeeded_StoreFailurePropagates(t *testing.T) {
	db := memory.New()
	db.Fail = func(op string) error {
		if op == "organizations.upsert" {
			return assert.AnError
		}
		return nil
	}
	b := NewBootstrapper(storesOf(db), DefaultWorld(), discardLogger())

	_, err := b.EnsureSeeded(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestSimulationDay(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	b := NewBootstrapper(storesOf(db), World{}, discardLogger())

	day, err := b.SimulationDay(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, day)

	require.NoError(t, db.State().SetTime(ctx, domain.StateGenesis, testNow))
	day, err = b.SimulationDay(ctx, testNow.Add(50*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, day)
}
