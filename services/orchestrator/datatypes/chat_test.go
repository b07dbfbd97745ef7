package datatypes

import (
	"strings"
	"testing"
)

func TestChatRequest_EnsureDefaults(t *testing.T) {
	req := &ChatRequest{Query: "Qual è l'aliquota IVA ordinaria?"}
	req.EnsureDefaults()

	if req.RequestId == "" {
		t.Error("RequestId not populated")
	}
	if !strings.HasPrefix(req.SessionId, "sess_") {
		t.Errorf("SessionId = %q, want sess_ prefix", req.SessionId)
	}
	if req.Timestamp == 0 {
		t.Error("Timestamp not populated")
	}
}

func TestChatRequest_EnsureDefaults_PreservesProvided(t *testing.T) {
	req := &ChatRequest{
		Query:     "q",
		RequestId: "req-1",
		SessionId: "sess_existing",
		Timestamp: 42,
	}
	req.EnsureDefaults()

	if req.RequestId != "req-1" || req.SessionId != "sess_existing" || req.Timestamp != 42 {
		t.Errorf("EnsureDefaults overwrote provided values: %+v", req)
	}
}

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{"valid", ChatRequest{Query: "Qual è l'aliquota IVA ordinaria?"}, false},
		{"empty query", ChatRequest{Query: ""}, true},
		{"oversized query", ChatRequest{Query: strings.Repeat("a", MaxQueryBytes+1)}, true},
		{"bad history role", ChatRequest{
			Query:   "q",
			History: []HistoryTurn{{Role: "system", Content: "x"}},
		}, true},
		{"valid history", ChatRequest{
			Query: "q",
			History: []HistoryTurn{
				{Role: "user", Content: "Regime forfettario?"},
				{Role: "assistant", Content: "Il regime forfettario..."},
			},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatRequest_PromptHistory_Bounded(t *testing.T) {
	req := &ChatRequest{Query: "q"}
	for i := 0; i < 10; i++ {
		req.History = append(req.History, HistoryTurn{Role: "user", Content: "turn"})
	}

	got := req.PromptHistory()
	if len(got) != PromptHistoryTurns {
		t.Errorf("PromptHistory length = %d, want %d", len(got), PromptHistoryTurns)
	}
}

func TestReasoningTrace_TaggedUnion(t *testing.T) {
	chain := NewChainTrace(ChainOfThought{Theme: "IVA", Conclusion: "22%"})
	if chain.Kind != TraceChainOfThought || chain.Chain == nil || chain.Tree != nil {
		t.Errorf("chain trace malformed: %+v", chain)
	}

	tree := NewTreeTrace(TreeOfThoughts{SelectedHypothesisId: "h1"})
	if tree.Kind != TraceTreeOfThoughts || tree.Tree == nil || tree.Chain != nil {
		t.Errorf("tree trace malformed: %+v", tree)
	}
}

func TestTreeOfThoughts_FlaggedAlternatives(t *testing.T) {
	tree := TreeOfThoughts{
		Hypotheses: []Hypothesis{
			{Id: "h1", Confidence: 0.9, RiskLevel: RiskLow},
			{Id: "h2", Confidence: 0.2, RiskLevel: RiskCritical},
			{Id: "h3", Confidence: 0.5, RiskLevel: RiskMedium},
		},
		SelectedHypothesisId: "h1",
	}

	flagged := tree.FlaggedAlternatives(RiskHigh)
	if len(flagged) != 1 || flagged[0].Id != "h2" {
		t.Errorf("FlaggedAlternatives = %+v, want only h2", flagged)
	}

	// The selected hypothesis never appears among alternatives even at
	// the lowest threshold.
	for _, h := range tree.FlaggedAlternatives(RiskLow) {
		if h.Id == "h1" {
			t.Error("selected hypothesis leaked into alternatives")
		}
	}
}

func TestRoutingDecision_Fallback(t *testing.T) {
	d := NewFallbackRoutingDecision("malformed JSON")

	if d.Category != CategoryTechnicalResearch {
		t.Errorf("fallback category = %s, want technical_research", d.Category)
	}
	if d.Confidence != 0.5 {
		t.Errorf("fallback confidence = %v, want exactly 0.5", d.Confidence)
	}
	if !d.Fallback || d.FallbackReason == "" {
		t.Errorf("fallback markers not set: %+v", d)
	}
}
