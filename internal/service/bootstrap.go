package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

//go:embed seed/world.yaml
var defaultWorld []byte

// World is the initial cast loaded into an empty store.
type World struct {
	Organizations []WorldOrganization `yaml:"organizations"`
	Actors        []WorldActor        `yaml:"actors"`
}

// WorldOrganization seeds one organization and its instrument price.
type WorldOrganization struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
}

// WorldActor seeds one NPC and its starting balance.
type WorldActor struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name"`
	Role    string  `yaml:"role"`
	Persona string  `yaml:"persona"`
	Balance float64 `yaml:"balance"`
}

// ParseWorld decodes and checks a world file.
func ParseWorld(data []byte) (World, error) {
	var w World
	if err := yaml.Unmarshal(data, &w); err != nil {
		return World{}, fmt.Errorf("bootstrap: parse world: %w", err)
	}
	seen := make(map[string]bool)
	for _, o := range w.Organizations {
		if o.ID == "" || o.Price <= 0 {
			return World{}, fmt.Errorf("bootstrap: organization %q needs an id and a positive price", o.Name)
		}
		if seen[o.ID] {
			return World{}, fmt.Errorf("bootstrap: duplicate id %q", o.ID)
		}
		seen[o.ID] = true
	}
	for _, a := range w.Actors {
		if a.ID == "" {
			return World{}, fmt.Errorf("bootstrap: actor %q needs an id", a.Name)
		}
		if seen[a.ID] {
			return World{}, fmt.Errorf("bootstrap: duplicate id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return w, nil
}

// DefaultWorld returns the embedded world.
func DefaultWorld() World {
	w, err := ParseWorld(defaultWorld)
	if err != nil {
		panic(err)
	}
	return w
}

// Bootstrapper seeds organizations and actors when the store holds fewer
// than the world defines.
type Bootstrapper struct {
	st     Stores
	world  World
	clock  Clock
	logger *slog.Logger
}

// NewBootstrapper creates a Bootstrapper for world.
func NewBootstrapper(st Stores, world World, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{
		st:     st,
		world:  world,
		clock:  wallClock,
		logger: logger.With(slog.String("component", "bootstrap")),
	}
}

// WithClock replaces the bootstrapper's clock.
func (b *Bootstrapper) WithClock(c Clock) *Bootstrapper {
	b.clock = c
	return b
}

// EnsureSeeded upserts the world's organizations and actors when either
// count is below the world's, and records the simulation genesis the first
// time. Existing prices, balances and reputations are never overwritten.
// It reports whether anything was seeded.
func (b *Bootstrapper) EnsureSeeded(ctx context.Context) (bool, error) {
	now := b.clock()

	orgCount, err := b.st.Organizations.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap: count organizations: %w", err)
	}
	actorCount, err := b.st.Actors.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap: count actors: %w", err)
	}

	var seeded bool
	if orgCount < len(b.world.Organizations) {
		for _, o := range b.world.Organizations {
			err := b.st.Organizations.Upsert(ctx, domain.Organization{
				ID:           o.ID,
				Name:         o.Name,
				Type:         o.Type,
				Description:  o.Description,
				InitialPrice: o.Price,
				CurrentPrice: o.Price,
				UpdatedAt:    now,
			})
			if err != nil {
				return false, fmt.Errorf("bootstrap: organization %s: %w", o.ID, err)
			}
		}
		seeded = true
	}
	if actorCount < len(b.world.Actors) {
		for _, a := range b.world.Actors {
			err := b.st.Actors.Upsert(ctx, domain.Actor{
				ID:         a.ID,
				Name:       a.Name,
				Role:       a.Role,
				Persona:    a.Persona,
				Balance:    a.Balance,
				Reputation: neutralReputation,
				CreatedAt:  now,
			})
			if err != nil {
				return false, fmt.Errorf("bootstrap: actor %s: %w", a.ID, err)
			}
		}
		seeded = true
	}

	if _, err := b.st.State.GetTime(ctx, domain.StateGenesis); errors.Is(err, domain.ErrNotFound) {
		if err := b.st.State.SetTime(ctx, domain.StateGenesis, now); err != nil {
			return seeded, fmt.Errorf("bootstrap: record genesis: %w", err)
		}
	} else if err != nil {
		return seeded, fmt.Errorf("bootstrap: read genesis: %w", err)
	}

	if seeded {
		b.logger.InfoContext(ctx, "world seeded",
			slog.Int("organizations", len(b.world.Organizations)),
			slog.Int("actors", len(b.world.Actors)),
		)
	}
	return seeded, nil
}

// SimulationDay returns the 1-based day of the simulation at now, counted
// from the recorded genesis. Without a genesis it is day 1.
func (b *Bootstrapper) SimulationDay(ctx context.Context, now time.Time) (int, error) {
	genesis, err := b.st.State.GetTime(ctx, domain.StateGenesis)
	if errors.Is(err, domain.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bootstrap: read genesis: %w", err)
	}
	if now.Before(genesis) {
		return 1, nil
	}
	return int(now.Sub(genesis)/(24*time.Hour)) + 1, nil
}
