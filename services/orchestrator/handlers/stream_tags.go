// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"strings"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// Structural tags the model may emit around streamed output. Tag markup is
// never shown to the client; the content of an actions or question block
// is suppressed from the text stream because the payload arrives as a
// discrete event instead.
var structuralTags = []string{"answer", "actions", "question"}

// suppressedTags are the structural tags whose inner content is dropped
// from the text stream.
var suppressedTags = map[string]bool{"actions": true, "question": true}

// questionTag is the suppressed tag whose content is retained for the
// question event rather than discarded.
const questionTag = "question"

// maxTagRunes bounds how long a candidate tag is buffered before it is
// given up as literal text.
const maxTagRunes = 12

// TagStripper removes structural tag markup from streamed content,
// tolerating tags split across chunk boundaries.
//
// # Description
//
// The stripper is a small state machine: outside a tag, text passes
// through untouched (citation markers like "[1]" are ordinary text and
// survive unchanged); on "<" it buffers until the tag is unambiguously a
// structural tag (dropped), unambiguously not one (emitted literally), or
// too long to be one. Inside an actions or question block all content is
// withheld from the text stream until the closing tag; a question block's
// content is captured and retrievable via Question so the caller can
// emit it as its own event.
//
// # Thread Safety
//
// Not safe for concurrent use. One stripper serves one stream.
type TagStripper struct {
	// buf holds a potential tag, starting with '<'.
	buf strings.Builder

	// suppressTag names the currently open suppressed block ("actions",
	// "question"), or "" outside one.
	suppressTag string

	// question accumulates the content of question blocks.
	question strings.Builder
}

// NewTagStripper creates a stripper in the outside-tag state.
func NewTagStripper() *TagStripper {
	return &TagStripper{}
}

// Feed consumes one chunk and returns the displayable text it yields.
// The return may be empty while a partial tag is buffered, and may include
// text buffered from earlier chunks.
func (t *TagStripper) Feed(chunk string) string {
	var out strings.Builder
	for _, r := range chunk {
		if t.buf.Len() == 0 {
			if r == '<' {
				t.buf.WriteRune(r)
				continue
			}
			if t.suppressTag == "" {
				out.WriteRune(r)
			} else if t.suppressTag == questionTag {
				t.question.WriteRune(r)
			}
			continue
		}

		t.buf.WriteRune(r)
		if r == '>' {
			out.WriteString(t.closeBuffer())
			continue
		}
		if r == '<' {
			// A new '<' aborts the previous candidate; its text is
			// literal and the new rune starts a fresh candidate.
			buffered := t.buf.String()
			t.buf.Reset()
			t.emitLiteral(&out, buffered[:len(buffered)-1])
			t.buf.WriteRune('<')
			continue
		}
		if !t.couldBeTag() {
			out.WriteString(t.giveUpBuffer())
		}
	}
	return out.String()
}

// Flush returns any buffered text at end of stream. A dangling partial tag
// is emitted literally unless a suppressed block is still open.
func (t *TagStripper) Flush() string {
	return t.giveUpBuffer()
}

// Question returns the structured question captured from question blocks,
// or nil when the stream carried none. JSON content is decoded; anything
// else becomes the question text verbatim.
func (t *TagStripper) Question() *datatypes.StructuredQuestion {
	raw := strings.TrimSpace(t.question.String())
	if raw == "" {
		return nil
	}

	var parsed datatypes.StructuredQuestion
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil && strings.TrimSpace(parsed.Text) != "" {
		parsed.Text = strings.TrimSpace(parsed.Text)
		return &parsed
	}
	return &datatypes.StructuredQuestion{Text: raw}
}

// closeBuffer resolves a complete "<...>" candidate. Structural tags are
// dropped and may toggle suppression; anything else is literal text.
func (t *TagStripper) closeBuffer() string {
	tag := t.buf.String()
	t.buf.Reset()

	name := strings.ToLower(strings.Trim(tag, "<>"))
	closing := strings.HasPrefix(name, "/")
	name = strings.TrimPrefix(name, "/")

	for _, known := range structuralTags {
		if name != known {
			continue
		}
		if suppressedTags[known] {
			if closing {
				t.suppressTag = ""
			} else {
				t.suppressTag = known
			}
		}
		return ""
	}

	if t.suppressTag == questionTag {
		t.question.WriteString(tag)
	}
	if t.suppressTag != "" {
		return ""
	}
	return tag
}

// couldBeTag reports whether the buffer is still a prefix of some
// structural tag.
func (t *TagStripper) couldBeTag() bool {
	partial := strings.ToLower(strings.TrimPrefix(t.buf.String(), "<"))
	partial = strings.TrimPrefix(partial, "/")
	if len(partial) > maxTagRunes {
		return false
	}
	for _, known := range structuralTags {
		if strings.HasPrefix(known, partial) {
			return true
		}
	}
	return false
}

// giveUpBuffer empties the buffer as literal text.
func (t *TagStripper) giveUpBuffer() string {
	buffered := t.buf.String()
	t.buf.Reset()
	if t.suppressTag == questionTag {
		t.question.WriteString(buffered)
		return ""
	}
	if t.suppressTag != "" {
		return ""
	}
	return buffered
}

// emitLiteral routes literal text to the visible stream or, inside a
// question block, to the captured question content.
func (t *TagStripper) emitLiteral(out *strings.Builder, text string) {
	switch t.suppressTag {
	case "":
		out.WriteString(text)
	case questionTag:
		t.question.WriteString(text)
	}
}
