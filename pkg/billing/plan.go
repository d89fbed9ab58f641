package billing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan describes a purchasable subscription plan. ID must be the payment
// provider's price ID so checkout sessions and webhook payloads map directly
// onto catalog entries.
type Plan struct {
	ID          string `yaml:"id"`          // provider price ID (price_xxx)
	Name        string `yaml:"name"`        // display name
	Type        string `yaml:"type"`        // billing interval label (month, year)
	Amount      int64  `yaml:"amount"`      // price in the smallest currency unit
	Currency    string `yaml:"currency"`    // ISO 4217 code
	Description string `yaml:"description"` //
}

// PlansSource defines how the plan catalog is loaded.
type PlansSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Catalog is an immutable plan lookup keyed by provider price ID.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog loads and validates plans from the given source.
func NewCatalog(ctx context.Context, src PlansSource) (*Catalog, error) {
	if src == nil {
		panic("billing: PlansSource is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	for priceID, plan := range plans {
		if plan.ID != priceID {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", priceID, plan.ID))
		}
		if plan.Type == "" {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has no billing interval type", priceID))
		}
	}

	return &Catalog{plans: plans}, nil
}

// ByPriceID resolves a plan by the provider's price ID.
// Returns ErrPlanNotFound if the price is not in the catalog.
func (c *Catalog) ByPriceID(priceID string) (Plan, error) {
	plan, ok := c.plans[priceID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

// Has reports whether the catalog contains the given price ID.
func (c *Catalog) Has(priceID string) bool {
	_, ok := c.plans[priceID]
	return ok
}

type inMemSource struct {
	plans map[string]Plan
}

// NewInMemSource returns a PlansSource backed by the given plans.
// Panics if no plans are provided so a misconfigured service fails at startup.
func NewInMemSource(plans ...Plan) PlansSource {
	if len(plans) == 0 {
		panic("billing: at least one plan is required")
	}
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p
	}
	return &inMemSource{plans: m}
}

func (s *inMemSource) Load(ctx context.Context) (map[string]Plan, error) {
	return maps.Clone(s.plans), nil
}

type yamlFileSource struct {
	path string
}

// NewYAMLFileSource returns a PlansSource that reads the catalog from a YAML
// file containing a list of plans.
func NewYAMLFileSource(path string) PlansSource {
	return &yamlFileSource{path: path}
}

func (s *yamlFileSource) Load(ctx context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plans file %s: %w", s.path, err)
	}

	var list []Plan
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse plans file %s: %w", s.path, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("plans file %s contains no plans", s.path)
	}

	m := make(map[string]Plan, len(list))
	for _, p := range list {
		m[p.ID] = p
	}
	return m, nil
}
