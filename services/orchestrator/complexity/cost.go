// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package complexity

import "sync"

// CostEntry accumulates usage for one (provider, tier) pair.
type CostEntry struct {
	Provider         string  `json:"provider"`
	Tier             string  `json:"tier"`
	Calls            int64   `json:"calls"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	EstimatedEUR     float64 `json:"estimated_eur"`
}

// CostTracker accumulates estimated spend per provider and tier.
//
// # Thread Safety
//
// CostTracker is safe for concurrent use.
type CostTracker struct {
	mu      sync.Mutex
	entries map[string]*CostEntry
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{entries: make(map[string]*CostEntry)}
}

// Record adds one call's usage.
func (t *CostTracker) Record(provider, tier string, promptTokens, completionTokens int, pricePerKTok float64) {
	key := provider + "|" + tier

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		entry = &CostEntry{Provider: provider, Tier: tier}
		t.entries[key] = entry
	}
	entry.Calls++
	entry.PromptTokens += int64(promptTokens)
	entry.CompletionTokens += int64(completionTokens)
	entry.EstimatedEUR += float64(promptTokens+completionTokens) / 1000.0 * pricePerKTok
}

// Merge folds another tracker's entries into this one. Used to roll a
// request-scoped tracker into the process-wide accumulator.
func (t *CostTracker) Merge(other *CostTracker) {
	for _, e := range other.Snapshot() {
		key := e.Provider + "|" + e.Tier

		t.mu.Lock()
		entry, ok := t.entries[key]
		if !ok {
			entry = &CostEntry{Provider: e.Provider, Tier: e.Tier}
			t.entries[key] = entry
		}
		entry.Calls += e.Calls
		entry.PromptTokens += e.PromptTokens
		entry.CompletionTokens += e.CompletionTokens
		entry.EstimatedEUR += e.EstimatedEUR
		t.mu.Unlock()
	}
}

// Snapshot returns a copy of all entries.
func (t *CostTracker) Snapshot() []CostEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CostEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, *entry)
	}
	return out
}

// TotalEUR returns the estimated total spend.
func (t *CostTracker) TotalEUR() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, entry := range t.entries {
		total += entry.EstimatedEUR
	}
	return total
}
