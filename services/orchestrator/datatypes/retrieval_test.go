package datatypes

import (
	"testing"
	"time"
)

func TestHierarchyWeight_Ordering(t *testing.T) {
	// Weights must strictly decrease down the hierarchy so the authority
	// boost can never invert two adjacent levels on its own.
	ordered := []SourceType{
		SourceLaw, SourceDecree, SourceCircular,
		SourceResolution, SourceRuling, SourceGuide, SourceFAQ,
	}

	for i := 1; i < len(ordered); i++ {
		hi, lo := ordered[i-1], ordered[i]
		if hi.HierarchyWeight() <= lo.HierarchyWeight() {
			t.Errorf("%s weight %.2f not greater than %s weight %.2f",
				hi, hi.HierarchyWeight(), lo, lo.HierarchyWeight())
		}
	}
}

func TestHierarchyWeight_Values(t *testing.T) {
	tests := []struct {
		source SourceType
		want   float64
	}{
		{SourceLaw, 1.3},
		{SourceDecree, 1.25},
		{SourceCircular, 1.15},
		{SourceResolution, 1.1},
		{SourceRuling, 1.05},
		{SourceGuide, 1.0},
		{SourceFAQ, 0.95},
		{SourceUnknown, 1.0},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := tt.source.HierarchyWeight(); got != tt.want {
				t.Errorf("HierarchyWeight(%s) = %v, want %v", tt.source, got, tt.want)
			}
		})
	}
}

func TestHierarchyRank_LawFirst(t *testing.T) {
	if SourceLaw.HierarchyRank() != 0 {
		t.Errorf("law rank = %d, want 0", SourceLaw.HierarchyRank())
	}
	if SourceCircular.HierarchyRank() >= SourceRuling.HierarchyRank() {
		t.Errorf("circular rank %d should precede ruling rank %d",
			SourceCircular.HierarchyRank(), SourceRuling.HierarchyRank())
	}
}

func TestParseSourceType(t *testing.T) {
	tests := []struct {
		in   string
		want SourceType
	}{
		{"law", SourceLaw},
		{"circular", SourceCircular},
		{"faq", SourceFAQ},
		{"", SourceUnknown},
		{"tweet", SourceUnknown},
	}

	for _, tt := range tests {
		if got := ParseSourceType(tt.in); got != tt.want {
			t.Errorf("ParseSourceType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRetrievalResult_TopSource(t *testing.T) {
	r := &RetrievalResult{Documents: []RankedDocument{
		{Id: "a", SourceType: SourceFAQ, FusedScore: 0.9},
		{Id: "b", SourceType: SourceLaw, FusedScore: 0.4},
		{Id: "c", SourceType: SourceCircular, FusedScore: 0.8},
	}}

	top := r.TopSource()
	if top == nil || top.Id != "b" {
		t.Fatalf("TopSource = %+v, want law document b", top)
	}
}

func TestRetrievalResult_HasContext(t *testing.T) {
	var nilResult *RetrievalResult
	if nilResult.HasContext() {
		t.Error("nil result should have no context")
	}
	if (&RetrievalResult{}).HasContext() {
		t.Error("empty result should have no context")
	}
	withDoc := &RetrievalResult{Documents: []RankedDocument{{Id: "x", PublishedDate: time.Now()}}}
	if !withDoc.HasContext() {
		t.Error("non-empty result should have context")
	}
}
