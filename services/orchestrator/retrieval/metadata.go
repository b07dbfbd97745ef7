// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"github.com/NormaAI/NormaCore/pkg/validation"
	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// keyValuePattern matches percentages, euro amounts and Italian dates in
// document text ("22%", "85.000 euro", "16 marzo 2024").
var keyValuePattern = regexp.MustCompile(
	`(?i)\b\d{1,3}(?:\.\d{3})*(?:,\d+)?\s*(?:%|euro|€)|\b\d{1,2}\s+(?:gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre)(?:\s+\d{4})?\b`)

// topicKeywords maps coarse topics to their trigger terms.
var topicKeywords = map[string][]string{
	"iva":          {"iva", "imposta sul valore aggiunto", "aliquota"},
	"irpef":        {"irpef", "scaglion", "reddito delle persone fisiche"},
	"forfettario":  {"forfettario", "regime agevolato", "flat tax"},
	"detrazioni":   {"detrazione", "detraibil", "oneri detraibili"},
	"deduzioni":    {"deduzione", "deducibil"},
	"fatturazione": {"fattura", "fatturazione elettronica", "sdi"},
	"scadenze":     {"scadenza", "termine", "entro il"},
	"sanzioni":     {"sanzione", "ravvedimento", "penalit"},
	"lavoro":       {"dipendente", "contratto", "tfr", "busta paga"},
	"immobili":     {"imu", "immobile", "catastale", "locazione"},
}

// extractionMaxValues caps how many key values one record carries.
const extractionMaxValues = 8

// buildMetadataRecord derives the immutable metadata record for a fused
// document: authority weight, detected topics, extracted key values and
// the best available reference code.
func buildMetadataRecord(doc *datatypes.RankedDocument, authority float64) *datatypes.DocumentMetadataRecord {
	record := &datatypes.DocumentMetadataRecord{
		HierarchyWeight: authority,
	}

	if ref, ok := doc.Metadata["reference_code"]; ok && ref != "" {
		record.ReferenceCode = ref
	} else if match, ok := validation.ExtractReference(doc.Content); ok {
		record.ReferenceCode = match
	} else if doc.SourceName != "" {
		record.ReferenceCode = doc.SourceName
	}

	values := keyValuePattern.FindAllString(doc.Content, extractionMaxValues)
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		record.KeyValues = append(record.KeyValues, v)
	}

	lower := strings.ToLower(doc.Content)
	for topic, triggers := range topicKeywords {
		for _, trigger := range triggers {
			if strings.Contains(lower, trigger) {
				record.KeyTopics = append(record.KeyTopics, topic)
				break
			}
		}
	}
	// Map iteration order is random; keep topics deterministic.
	sort.Strings(record.KeyTopics)

	return record
}
