// Package pricing estimates request costs from the configured per-model prices.
package pricing

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/config"
)

const tokensPerPriceUnit = 1_000_000

// Cost is a price in US dollars split by token kind.
type Cost struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

func (c Cost) Total() float64 {
	return c.Prompt + c.Completion
}

// Estimator prices token counts for the models it was built from.
type Estimator struct {
	models map[string]config.ModelInfo
}

// NewEstimator indexes models by case-insensitive name. Later entries win.
func NewEstimator(models []config.ModelInfo) *Estimator {
	e := &Estimator{models: make(map[string]config.ModelInfo, len(models))}
	for _, m := range models {
		if m.Name == "" {
			continue
		}
		e.models[strings.ToLower(m.Name)] = m
	}
	return e
}

// Cost prices a request. It returns false when the model is unknown or has
// no pricing configured.
func (e *Estimator) Cost(model string, promptTokens, completionTokens int) (Cost, bool) {
	m, ok := e.models[strings.ToLower(model)]
	if !ok || !m.IsPricingConfigured() {
		return Cost{}, false
	}

	return Cost{
		Prompt:     float64(max(promptTokens, 0)) * *m.PromptPricePer1M / tokensPerPriceUnit,
		Completion: float64(max(completionTokens, 0)) * *m.CompletionPricePer1M / tokensPerPriceUnit,
	}, true
}

// Models lists the priced model names, sorted.
func (e *Estimator) Models() []string {
	names := make([]string, 0, len(e.models))
	for _, m := range e.models {
		if m.IsPricingConfigured() {
			names = append(names, m.Name)
		}
	}
	slices.Sort(names)
	return names
}

// Totals are the running figures shown in the status bar.
type Totals struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	PromptCost       float64 `json:"prompt_cost"`
	CompletionCost   float64 `json:"completion_cost"`
	Unpriced         int     `json:"unpriced"`
}

func (t Totals) TotalCost() float64 {
	return t.PromptCost + t.CompletionCost
}

func (t *Totals) add(promptTokens, completionTokens int, c Cost, priced bool) {
	t.PromptTokens += max(promptTokens, 0)
	t.CompletionTokens += max(completionTokens, 0)
	t.PromptCost += c.Prompt
	t.CompletionCost += c.Completion
	if !priced {
		t.Unpriced++
	}
}

// Tracker accumulates usage across requests. It is safe for concurrent use.
type Tracker struct {
	estimator *Estimator

	mu      sync.RWMutex
	totals  Totals
	byModel map[string]Totals
}

func NewTracker(estimator *Estimator) *Tracker {
	return &Tracker{estimator: estimator, byModel: map[string]Totals{}}
}

// UseEstimator swaps the prices used for requests recorded from now on.
func (t *Tracker) UseEstimator(estimator *Estimator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.estimator = estimator
}

// Record adds one request. Tokens of unpriced models are counted without cost;
// negative counts are taken as zero.
func (t *Tracker) Record(ctx context.Context, model string, promptTokens, completionTokens int) (Cost, bool) {
	t.mu.Lock()
	c, priced := t.estimator.Cost(model, promptTokens, completionTokens)
	t.totals.add(promptTokens, completionTokens, c, priced)
	perModel := t.byModel[model]
	perModel.add(promptTokens, completionTokens, c, priced)
	t.byModel[model] = perModel
	t.mu.Unlock()

	if !priced {
		util.Log(ctx).WithField("model", model).Warn("no pricing configured for model, cost not counted")
	}
	return c, priced
}

func (t *Tracker) Totals() Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totals
}

// ByModel returns a copy of the per-model totals.
func (t *Tracker) ByModel() map[string]Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.byModel)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals = Totals{}
	t.byModel = map[string]Totals{}
}
