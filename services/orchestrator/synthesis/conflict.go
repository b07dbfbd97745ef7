// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// Topic-overlap and value-extraction bounds.
const (
	// minSharedTopicTerms is the number of significant terms two excerpts
	// must share before they count as addressing the same topic.
	minSharedTopicTerms = 2

	// minTopicTermRunes filters short function words out of topic terms.
	minTopicTermRunes = 5

	// maxTopicTerms caps the terms carried into the conflict's Topic label.
	maxTopicTerms = 3
)

// percentPattern and amountPattern extract the comparable values two
// sources can contradict each other on: rates and euro amounts.
var (
	percentPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*%`)
	amountPattern  = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+(?:,\d+)?|\d+(?:,\d+)?\s*euro`)
)

// topicStopwords are high-frequency normative words that appear in nearly
// every chunk and therefore carry no topic signal.
var topicStopwords = map[string]bool{
	"della": true, "delle": true, "degli": true, "dello": true,
	"nella": true, "nelle": true, "negli": true, "sulla": true,
	"sono": true, "essere": true, "viene": true, "anche": true,
	"come": true, "quale": true, "quali": true, "presente": true,
	"sensi": true, "articolo": true, "comma": true, "legge": true,
	"decreto": true, "circolare": true, "risoluzione": true,
	"prevede": true, "previsto": true, "prevista": true,
	"disposizioni": true, "normativa": true,
}

// DetectConflicts scans cited sources pairwise for sources that address
// the same topic with contradictory conclusions.
//
// # Description
//
// A pair conflicts only when three gates all pass: the two excerpts
// share enough significant terms to be about the same topic, both state
// comparable values (rates or euro amounts) of the same kind, and those
// values disagree. Resolution then follows the legal hierarchy: whenever
// a lower-hierarchy source predates a higher-hierarchy one, the newer
// higher-ranked source is preferred; at equal rank the more recent
// source wins. Pairs without both dates, without excerpts, or with the
// natural ordering (newer practice explaining older law) produce no
// conflict.
func DetectConflicts(sources []datatypes.CitedSource) []datatypes.SourceConflict {
	var conflicts []datatypes.SourceConflict

	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			a, b := sources[i], sources[j]
			if a.PublishedDate == "" || b.PublishedDate == "" {
				continue
			}
			if a.Reference == b.Reference {
				continue
			}

			topic := sharedTopic(a.Excerpt, b.Excerpt)
			if topic == "" {
				continue
			}
			if !valuesContradict(a.Excerpt, b.Excerpt) {
				continue
			}

			// Orient so that lower hierarchy rank (higher authority)
			// comes first.
			high, low := a, b
			if b.HierarchyRank < a.HierarchyRank {
				high, low = b, a
			}

			switch {
			case high.HierarchyRank == low.HierarchyRank:
				if high.PublishedDate == low.PublishedDate {
					continue
				}
				newer, older := high, low
				if older.PublishedDate > newer.PublishedDate {
					newer, older = older, newer
				}
				conflicts = append(conflicts, datatypes.SourceConflict{
					FirstRef:     older.Reference,
					SecondRef:    newer.Reference,
					Topic:        topic,
					PreferredRef: newer.Reference,
					Rationale:    "a parita di rango prevale la fonte piu recente",
				})

			case low.PublishedDate < high.PublishedDate:
				// Older practice vs newer primary source: the practice
				// may describe a superseded rule.
				conflicts = append(conflicts, datatypes.SourceConflict{
					FirstRef:     low.Reference,
					SecondRef:    high.Reference,
					Topic:        topic,
					PreferredRef: high.Reference,
					Rationale: fmt.Sprintf(
						"la fonte di rango superiore (%s) e successiva alla prassi (%s) e prevale",
						high.SourceType, low.SourceType),
				})
			}
		}
	}
	return conflicts
}

// sharedTopic returns the topic label shared by two excerpts, or "" when
// they do not overlap enough to be about the same thing.
func sharedTopic(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	bTerms := topicTerms(b)
	if len(bTerms) == 0 {
		return ""
	}

	var shared []string
	seen := map[string]bool{}
	for _, term := range orderedTopicTerms(a) {
		if bTerms[term] && !seen[term] {
			seen[term] = true
			shared = append(shared, term)
		}
	}
	if len(shared) < minSharedTopicTerms {
		return ""
	}
	if len(shared) > maxTopicTerms {
		shared = shared[:maxTopicTerms]
	}
	return strings.Join(shared, " ")
}

// topicTerms extracts the significant terms of an excerpt as a set.
func topicTerms(text string) map[string]bool {
	terms := map[string]bool{}
	for _, term := range orderedTopicTerms(text) {
		terms[term] = true
	}
	return terms
}

// orderedTopicTerms extracts significant terms in order of appearance.
func orderedTopicTerms(text string) []string {
	var out []string
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if utf8.RuneCountInString(word) < minTopicTermRunes || topicStopwords[word] {
			continue
		}
		out = append(out, word)
	}
	return out
}

// valuesContradict reports whether the two excerpts state comparable
// values of the same kind with no common value.
func valuesContradict(a, b string) bool {
	return setsDisjoint(extractValues(a, percentPattern), extractValues(b, percentPattern)) ||
		setsDisjoint(extractValues(a, amountPattern), extractValues(b, amountPattern))
}

// extractValues pulls the pattern's matches out of text, normalized for
// comparison.
func extractValues(text string, pattern *regexp.Regexp) map[string]bool {
	values := map[string]bool{}
	for _, match := range pattern.FindAllString(text, -1) {
		values[strings.ReplaceAll(strings.ToLower(match), " ", "")] = true
	}
	return values
}

// setsDisjoint reports whether both sets are non-empty and share nothing:
// two sources that each commit to a value, and not the same one.
func setsDisjoint(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for v := range a {
		if b[v] {
			return false
		}
	}
	return true
}
