// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NormaAI/NormaCore/services/orchestrator/datatypes"
)

// chainMaxTokens bounds the chain-of-thought generation.
const chainMaxTokens = 1800

// runChain produces a single linear reasoning path over the retrieved
// context.
func runChain(ctx context.Context, generate GenerateFunc, query string, retrieval *datatypes.RetrievalResult) (datatypes.ChainOfThought, error) {
	response, err := generate(ctx, buildChainPrompt(query, retrieval), chainMaxTokens)
	if err != nil {
		return datatypes.ChainOfThought{}, fmt.Errorf("chain generation failed: %w", err)
	}
	return parseChainResponse(response)
}

func buildChainPrompt(query string, retrieval *datatypes.RetrievalResult) string {
	contextBlock := "Nessun documento recuperato: rispondi solo con principi generali e dichiaralo."
	if retrieval.HasContext() {
		contextBlock = formatContext(retrieval.Documents)
	}

	return fmt.Sprintf(`Sei un assistente per commercialisti e consulenti del lavoro.
Ragiona passo per passo sulla domanda usando SOLO le fonti numerate.
Cita le fonti con i marcatori [n].

FONTI:
%s
DOMANDA: %s

Rispondi SOLO con JSON:
{
  "theme": "tema principale in poche parole",
  "sources_used": ["[1]", "[3]"],
  "key_points": ["primo passaggio del ragionamento", "secondo passaggio"],
  "conclusion": "conclusione operativa con citazioni [n]"
}`, contextBlock, query)
}

func parseChainResponse(response string) (datatypes.ChainOfThought, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return datatypes.ChainOfThought{}, fmt.Errorf("no JSON object in chain response")
	}

	var chain datatypes.ChainOfThought
	if err := json.Unmarshal([]byte(response[start:end+1]), &chain); err != nil {
		return datatypes.ChainOfThought{}, fmt.Errorf("failed to unmarshal chain: %w", err)
	}
	if strings.TrimSpace(chain.Conclusion) == "" {
		return datatypes.ChainOfThought{}, fmt.Errorf("chain response has empty conclusion")
	}
	return chain, nil
}
