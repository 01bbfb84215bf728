package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture describes seed data for the inventory store.
type Fixture struct {
	Products []FixtureProduct `yaml:"products"`
}

// FixtureProduct is one product and its movements, dated relative to the seed time.
type FixtureProduct struct {
	Name      string            `yaml:"name"`
	Quantity  int               `yaml:"quantity"`
	Movements []FixtureMovement `yaml:"movements"`
}

// FixtureMovement is a stock change DaysAgo days before the seed time.
type FixtureMovement struct {
	Change  int `yaml:"change"`
	DaysAgo int `yaml:"days_ago"`
}

// DefaultFixture is the demo dataset: three products, each with a week of
// daily movements alternating -5 and +10.
func DefaultFixture() Fixture {
	products := []FixtureProduct{
		{Name: "ABC", Quantity: 120},
		{Name: "XYZ", Quantity: 45},
		{Name: "DEF", Quantity: 200},
	}
	for i := range products {
		for day := 0; day < 7; day++ {
			change := 10
			if day%2 == 0 {
				change = -5
			}
			products[i].Movements = append(products[i].Movements, FixtureMovement{Change: change, DaysAgo: day})
		}
	}
	return Fixture{Products: products}
}

// ParseFixture decodes a YAML fixture and validates it.
func ParseFixture(raw []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Fixture{}, fmt.Errorf("repository: decode fixture: %w", err)
	}
	if len(f.Products) == 0 {
		return Fixture{}, errors.New("repository: fixture has no products")
	}
	seen := make(map[string]bool, len(f.Products))
	for _, p := range f.Products {
		if strings.TrimSpace(p.Name) == "" {
			return Fixture{}, errors.New("repository: fixture product name is required")
		}
		if seen[p.Name] {
			return Fixture{}, fmt.Errorf("repository: duplicate fixture product %q", p.Name)
		}
		seen[p.Name] = true
		for _, m := range p.Movements {
			if m.DaysAgo < 0 {
				return Fixture{}, fmt.Errorf("repository: product %q has a movement in the future", p.Name)
			}
		}
	}
	return f, nil
}

// Seed replaces the store contents with f. Movement dates are now minus
// DaysAgo days.
func (s *InventoryStore) Seed(ctx context.Context, f Fixture, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: Seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM movements;`, `DELETE FROM products;`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: Seed reset: %w", err)
		}
	}
	for _, p := range f.Products {
		res, err := tx.ExecContext(ctx, `INSERT INTO products (name, quantity) VALUES (?, ?);`, p.Name, p.Quantity)
		if err != nil {
			return fmt.Errorf("repository: Seed product %q: %w", p.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("repository: Seed product %q id: %w", p.Name, err)
		}
		for _, m := range p.Movements {
			date := formatMovementTime(now.AddDate(0, 0, -m.DaysAgo))
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO movements (product_id, change, date) VALUES (?, ?, ?);`, id, m.Change, date,
			); err != nil {
				return fmt.Errorf("repository: Seed movement for %q: %w", p.Name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: Seed commit: %w", err)
	}
	return nil
}
