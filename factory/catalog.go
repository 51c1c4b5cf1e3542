/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts a JSON catalog (vaccines, the scope tree, children, opening
  stock lots and calendar bucket entries) into domain objects and loads
  them into a store in one transaction. Reference data can then be
  maintained as JSON without code changes.

JSON SCHEMA:
  {
    "vaccines": [
      {"id": "bcg", "name": "BCG", "required_doses": 1, "gender_restriction": "none"}
    ],
    "scopes": [
      {"kind": "national", "id": "ng", "name": "Nigeria"},
      {"kind": "regional", "id": "lagos", "name": "Lagos", "parent": {"kind": "national", "id": "ng"}}
    ],
    "children": [
      {"id": "c1", "name": "Ada", "gender": "female", "birth_date": "2025-01-10",
       "health_center": {"kind": "health_center", "id": "hc1"}}
    ],
    "lots": [
      {"vaccine_id": "bcg", "scope": {"kind": "national", "id": "ng"}, "quantity": 100,
       "expiration_date": "2025-12-31"},
      {"vaccine_id": "bcg", "scope": {"kind": "national", "id": "ng"}, "quantity": 50,
       "expires_in_days": 30}
    ],
    "timeline": [
      {"kind": "due", "child_id": "c1", "vaccine_id": "bcg", "calendar_id": "birth", "dose": 1,
       "date": "2025-01-10"}
    ]
  }

KEY FEATURES:
  - Validates every entry before anything is written
  - Checks that each scope's parent sits exactly one level above it
  - Lot expiry may be absolute or relative to the loader's clock
  - Applies scopes parents-first regardless of their order in the file

SEE ALSO:
  - stock/types.go: Vaccine, ScopeNode, Lot
  - vaccination/types.go: Child, TimelineEntry
  - api/scenarios.go: demo catalogs
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog.
type CatalogJSON struct {
	Vaccines []VaccineJSON  `json:"vaccines"`
	Scopes   []ScopeJSON    `json:"scopes"`
	Children []ChildJSON    `json:"children,omitempty"`
	Lots     []LotJSON      `json:"lots,omitempty"`
	Timeline []TimelineJSON `json:"timeline,omitempty"`
}

type VaccineJSON struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	RequiredDoses     int    `json:"required_doses"`
	GenderRestriction string `json:"gender_restriction,omitempty"` // none, male_only, female_only
}

type ScopeJSON struct {
	Kind   string       `json:"kind"`
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Parent *stock.Scope `json:"parent,omitempty"`
}

type ChildJSON struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Gender       string      `json:"gender"`
	BirthDate    stock.Date  `json:"birth_date"`
	HealthCenter stock.Scope `json:"health_center"`
}

// LotJSON is an opening stock lot. Exactly one of ExpirationDate and
// ExpiresInDays must be set.
type LotJSON struct {
	VaccineID      string      `json:"vaccine_id"`
	Scope          stock.Scope `json:"scope"`
	Quantity       int64       `json:"quantity"`
	ExpirationDate stock.Date  `json:"expiration_date,omitempty"`
	ExpiresInDays  *int        `json:"expires_in_days,omitempty"`
}

type TimelineJSON struct {
	Kind       string     `json:"kind"` // due, late, overdue
	ChildID    string     `json:"child_id"`
	VaccineID  string     `json:"vaccine_id"`
	CalendarID string     `json:"calendar_id,omitempty"`
	Dose       int        `json:"dose"`
	Date       stock.Date `json:"date"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a validated set of domain objects ready to load.
type Catalog struct {
	Vaccines []stock.Vaccine
	Scopes   []stock.ScopeNode // parents before children
	Children []vaccination.Child
	Lots     []LotSpec
	Timeline []vaccination.TimelineEntry
}

// LotSpec is an opening lot before it is given an ID and resolved expiry.
type LotSpec struct {
	VaccineID      stock.VaccineID
	Scope          stock.Scope
	Quantity       int64
	ExpirationDate stock.Date
	ExpiresInDays  *int
}

// ExpiryOn resolves the lot's expiration relative to today.
func (s LotSpec) ExpiryOn(today stock.Date) stock.Date {
	if s.ExpiresInDays != nil {
		return today.AddDays(*s.ExpiresInDays)
	}
	return s.ExpirationDate
}

// LoadResult reports what Apply wrote.
type LoadResult struct {
	Vaccines int           `json:"vaccines"`
	Scopes   int           `json:"scopes"`
	Children int           `json:"children"`
	Timeline int           `json:"timeline"`
	Lots     []stock.LotID `json:"lots"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to domain objects.
type CatalogFactory struct{}

// NewCatalogFactory creates a new catalog factory.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseCatalog parses a JSON string into a validated Catalog.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON validates cj and converts it to a Catalog.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	c := &Catalog{}

	vaccines := make(map[stock.VaccineID]bool, len(cj.Vaccines))
	for _, vj := range cj.Vaccines {
		v := stock.Vaccine{
			ID:                stock.VaccineID(vj.ID),
			Name:              vj.Name,
			RequiredDoseCount: vj.RequiredDoses,
			GenderRestriction: parseRestriction(vj.GenderRestriction),
		}
		if err := v.Validate(); err != nil {
			return nil, err
		}
		vaccines[v.ID] = true
		c.Vaccines = append(c.Vaccines, v)
	}

	scopes, err := parseScopes(cj.Scopes)
	if err != nil {
		return nil, err
	}
	c.Scopes = scopes
	known := make(map[stock.Scope]bool, len(scopes))
	for _, n := range scopes {
		known[n.Scope] = true
	}

	children := make(map[vaccination.ChildID]bool, len(cj.Children))
	for _, chj := range cj.Children {
		ch, err := parseChild(chj, known)
		if err != nil {
			return nil, err
		}
		children[ch.ID] = true
		c.Children = append(c.Children, ch)
	}

	for i, lj := range cj.Lots {
		spec, err := parseLot(lj, vaccines, known)
		if err != nil {
			return nil, fmt.Errorf("lot #%d: %w", i+1, err)
		}
		c.Lots = append(c.Lots, spec)
	}

	for i, tj := range cj.Timeline {
		e := vaccination.TimelineEntry{
			Kind:       vaccination.TimelineKind(tj.Kind),
			ChildID:    vaccination.ChildID(tj.ChildID),
			VaccineID:  stock.VaccineID(tj.VaccineID),
			CalendarID: vaccination.CalendarID(tj.CalendarID),
			Dose:       tj.Dose,
			Date:       tj.Date,
		}
		if !e.Kind.IsBucket() {
			return nil, fmt.Errorf("timeline #%d: kind %q must be due, late or overdue", i+1, tj.Kind)
		}
		if !children[e.ChildID] || !vaccines[e.VaccineID] {
			return nil, fmt.Errorf("timeline #%d: unknown child %q or vaccine %q", i+1, tj.ChildID, tj.VaccineID)
		}
		if e.Dose <= 0 {
			return nil, fmt.Errorf("timeline #%d: dose must be positive", i+1)
		}
		c.Timeline = append(c.Timeline, e)
	}

	return c, nil
}

// =============================================================================
// LOADING
// =============================================================================

// Apply writes the catalog into store in one transaction. Opening lots go
// through the Lot Ledger so they get IDs, sequence numbers and a stored
// status like any other lot.
func (c *Catalog) Apply(ctx context.Context, store stock.TxStore, clock stock.Clock) (*LoadResult, error) {
	result := &LoadResult{}
	err := store.WithTx(ctx, func(tx stock.Store) error {
		*result = LoadResult{}
		vs, ok := tx.(vaccination.Store)
		if !ok && (len(c.Children) > 0 || len(c.Timeline) > 0) {
			return stock.ErrStoreRequired
		}

		for _, v := range c.Vaccines {
			if err := tx.SaveVaccine(ctx, v); err != nil {
				return err
			}
			result.Vaccines++
		}
		for _, n := range c.Scopes {
			if err := tx.SaveScope(ctx, n); err != nil {
				return err
			}
			result.Scopes++
		}
		for _, ch := range c.Children {
			if err := vs.SaveChild(ctx, ch); err != nil {
				return err
			}
			result.Children++
		}

		ledger := stock.NewLedger(tx, clock)
		today := clock.Today()
		for _, spec := range c.Lots {
			lot, err := ledger.AddFresh(ctx, spec.VaccineID, spec.Scope, spec.Quantity, spec.ExpiryOn(today))
			if err != nil {
				return err
			}
			result.Lots = append(result.Lots, lot.ID)
		}

		for _, e := range c.Timeline {
			if err := vs.SaveBucketEntry(ctx, e); err != nil {
				return err
			}
			result.Timeline++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return result, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRestriction(s string) stock.GenderRestriction {
	if s == "" {
		return stock.GenderAny
	}
	return stock.GenderRestriction(s)
}

// parseScopes validates the tree and orders it parents-first.
func parseScopes(in []ScopeJSON) ([]stock.ScopeNode, error) {
	byScope := make(map[stock.Scope]stock.ScopeNode, len(in))
	for _, sj := range in {
		n := stock.ScopeNode{Scope: stock.NewScope(stock.ScopeKind(sj.Kind), sj.ID), Name: sj.Name}
		if err := n.Scope.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byScope[n.Scope]; dup {
			return nil, fmt.Errorf("scope %s listed twice", n.Scope)
		}
		if sj.Parent != nil {
			p := *sj.Parent
			n.Parent = &p
		}
		byScope[n.Scope] = n
	}

	nodes := make([]stock.ScopeNode, 0, len(byScope))
	for _, n := range byScope {
		if n.Parent == nil {
			if n.Scope.Kind != stock.ScopeNational {
				return nil, fmt.Errorf("scope %s needs a parent", n.Scope)
			}
		} else {
			if _, ok := byScope[*n.Parent]; !ok {
				return nil, fmt.Errorf("scope %s: parent %s is not in the catalog", n.Scope, *n.Parent)
			}
			if !n.IsDirectChildOf(*n.Parent) {
				return nil, fmt.Errorf("scope %s cannot sit under %s", n.Scope, *n.Parent)
			}
		}
		nodes = append(nodes, n)
	}

	sort.Slice(nodes, func(i, j int) bool {
		li, _ := nodes[i].Scope.Kind.Level()
		lj, _ := nodes[j].Scope.Kind.Level()
		if li != lj {
			return li < lj
		}
		return nodes[i].Scope.ID < nodes[j].Scope.ID
	})
	return nodes, nil
}

func parseChild(chj ChildJSON, scopes map[stock.Scope]bool) (vaccination.Child, error) {
	ch := vaccination.Child{
		ID:           vaccination.ChildID(chj.ID),
		Name:         chj.Name,
		Gender:       vaccination.Gender(chj.Gender),
		BirthDate:    chj.BirthDate,
		HealthCenter: chj.HealthCenter,
	}
	if ch.ID == "" {
		return ch, fmt.Errorf("child id is required")
	}
	if ch.Gender != vaccination.GenderMale && ch.Gender != vaccination.GenderFemale {
		return ch, fmt.Errorf("child %s: unknown gender %q", ch.ID, chj.Gender)
	}
	if ch.HealthCenter.Kind != stock.ScopeHealthCenter || !scopes[ch.HealthCenter] {
		return ch, fmt.Errorf("child %s: %s is not a known health center", ch.ID, ch.HealthCenter)
	}
	return ch, nil
}

func parseLot(lj LotJSON, vaccines map[stock.VaccineID]bool, scopes map[stock.Scope]bool) (LotSpec, error) {
	spec := LotSpec{
		VaccineID:      stock.VaccineID(lj.VaccineID),
		Scope:          lj.Scope,
		Quantity:       lj.Quantity,
		ExpirationDate: lj.ExpirationDate,
		ExpiresInDays:  lj.ExpiresInDays,
	}
	if !vaccines[spec.VaccineID] {
		return spec, fmt.Errorf("unknown vaccine %q", lj.VaccineID)
	}
	if !scopes[spec.Scope] {
		return spec, fmt.Errorf("unknown scope %s", spec.Scope)
	}
	if spec.Quantity <= 0 {
		return spec, stock.ErrInvalidQuantity
	}
	if spec.ExpirationDate.IsZero() == (spec.ExpiresInDays == nil) {
		return spec, fmt.Errorf("set exactly one of expiration_date and expires_in_days")
	}
	return spec, nil
}
