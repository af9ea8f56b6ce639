package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/studyhubng/StudyHub/internal/pkg/env"
)

// Quota is a per-window allowance. Unlimited disables the cap entirely;
// 0 denies every request.
type Quota = int64

// Unlimited marks a quota with no cap.
const Unlimited Quota = -1

// FreePlanName is the display name reported for users without an
// access-holding subscription. It is not a purchasable plan and grants no
// quota.
const FreePlanName = "free"

// Plan is one immutable catalog entry. Price changes ship as a new plan ID
// (e.g. premium_v2) so historic subscriptions keep their terms.
type Plan struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	PriceKobo           int64               `json:"price_kobo"`
	BillingIntervalDays int                 `json:"billing_interval_days"`
	Limits              map[UsageType]Quota `json:"limits"`
}

// Limit returns the plan's quota for a usage type; usage types the plan does
// not mention are denied.
func (p Plan) Limit(t UsageType) Quota {
	q, ok := p.Limits[t]
	if !ok {
		return 0
	}
	return q
}

var builtinCatalog = map[string]Plan{
	"basic": {
		ID:                  "basic",
		Name:                "Basic",
		PriceKobo:           150000,
		BillingIntervalDays: 30,
		Limits: map[UsageType]Quota{
			UsageAIMessages:       30,
			UsageMaterialSearches: 20,
			UsageQuizzes:          5,
			UsageFlashcardSets:    5,
			UsagePracticeProblems: 10,
			UsageStudyGuides:      2,
			UsageExams:            1,
		},
	},
	"premium": {
		ID:                  "premium",
		Name:                "Premium",
		PriceKobo:           300000,
		BillingIntervalDays: 30,
		Limits: map[UsageType]Quota{
			UsageAIMessages:       Unlimited,
			UsageMaterialSearches: Unlimited,
			UsageQuizzes:          50,
			UsageFlashcardSets:    50,
			UsagePracticeProblems: 100,
			UsageStudyGuides:      20,
			UsageExams:            10,
		},
	},
}

var (
	mu      sync.RWMutex
	catalog = builtinCatalog
)

// Setup loads the plan catalog, applying the PLANS_FILE JSON override when
// configured. Call once at startup before serving traffic.
func Setup() error {
	path := env.GetEnv("PLANS_FILE", "")
	if path == "" {
		return nil
	}
	return LoadFile(path)
}

// LoadFile replaces the catalog with plans read from a JSON file. The file
// holds a list of Plan objects.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plans file: %w", err)
	}
	var list []Plan
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("parse plans file %s: %w", path, err)
	}
	next := make(map[string]Plan, len(list))
	for _, p := range list {
		if p.ID == "" {
			return fmt.Errorf("plans file %s: plan without id", path)
		}
		if _, dup := next[p.ID]; dup {
			return fmt.Errorf("plans file %s: duplicate plan id %s", path, p.ID)
		}
		next[p.ID] = p
	}
	mu.Lock()
	catalog = next
	mu.Unlock()
	return nil
}

// Get looks up a plan by ID.
func Get(id string) (Plan, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := catalog[id]
	return p, ok
}

// Limit returns the quota a plan grants for a usage type. Unknown plans and
// unknown usage types yield 0.
func Limit(planID string, t UsageType) Quota {
	p, ok := Get(planID)
	if !ok {
		return 0
	}
	return p.Limit(t)
}

// List returns all plans sorted by price.
func List() []Plan {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceKobo < out[j].PriceKobo })
	return out
}
