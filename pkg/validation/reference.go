// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for citation-critical
// values.
//
// Reference codes surface in answers as legal citations a professional
// may rely on, and they travel from model output and document text into
// response payloads. These validators keep malformed or fabricated
// citation strings from being presented as normative references.
package validation

import (
	"regexp"
	"strings"
)

// referencePattern matches Italian normative citations: laws and
// decrees ("L. 190/2014", "D.Lgs. 81/2008", "DPR 633/1972", optionally
// prefixed by an article, "art. 16 DPR 633/1972"), agency circulars
// ("Circolare 24/E") and resolutions.
var referencePattern = regexp.MustCompile(
	`(?i)\b(?:art\.\s*\d+(?:[-\w]*)?,?\s+)?(?:L\.|DL|D\.L\.|D\.Lgs\.|DPR|D\.P\.R\.|DM|D\.M\.)\s*\d+(?:/\d{2,4})?|\bCircolare\s+(?:n\.\s*)?\d+(?:/[A-Z])?(?:/\d{4})?|\bRisoluzione\s+(?:n\.\s*)?\d+(?:/[A-Z])?`)

// fullReferencePattern anchors referencePattern for whole-string checks.
var fullReferencePattern = regexp.MustCompile(
	`^(?i)(?:art\.\s*\d+(?:[-\w]*)?,?\s+)?(?:(?:L\.|DL|D\.L\.|D\.Lgs\.|DPR|D\.P\.R\.|DM|D\.M\.)\s*\d+(?:/\d{2,4})?|Circolare\s+(?:n\.\s*)?\d+(?:/[A-Z])?(?:/\d{4})?|Risoluzione\s+(?:n\.\s*)?\d+(?:/[A-Z])?)$`)

// maxReferenceLength bounds a citation string; anything longer is prose,
// not a reference.
const maxReferenceLength = 60

// IsReference reports whether s is, in its entirety, a well-formed
// normative reference.
func IsReference(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxReferenceLength {
		return false
	}
	return fullReferencePattern.MatchString(s)
}

// ExtractReference returns the first normative reference found in text,
// trimmed, and whether one was found.
func ExtractReference(text string) (string, bool) {
	match := referencePattern.FindString(text)
	if match == "" {
		return "", false
	}
	return strings.TrimSpace(match), true
}
