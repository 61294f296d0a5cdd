package storage

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short ascii uses rune half", text: "abcdef", want: 3},
		{name: "multibyte uses byte third", text: "日本語", want: 3},
		{name: "long ascii", text: strings.Repeat("x", 300), want: 150},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := estimateTokens(tc.text); got != tc.want {
				t.Fatalf("estimateTokens = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAddUsage_AccumulatesAndAllocates(t *testing.T) {
	var total *TokenUsage

	total = addUsage(total, &TokenUsage{Input: 100, Output: 40, CacheRead: 10, CacheWrite: 5})
	total = addUsage(total, &TokenUsage{Input: 50, Output: 20})

	if total == nil {
		t.Fatalf("addUsage never allocated the aggregate")
	}
	if total.Input != 150 || total.Output != 60 || total.CacheRead != 10 || total.CacheWrite != 5 {
		t.Fatalf("aggregate = %+v", *total)
	}
	if total.Estimated {
		t.Fatalf("aggregate marked estimated without an estimated component")
	}
}

func TestAddUsage_NilAddIsNoop(t *testing.T) {
	if got := addUsage(nil, nil); got != nil {
		t.Fatalf("addUsage(nil, nil) = %+v, want nil", got)
	}

	total := &TokenUsage{Input: 7}
	if got := addUsage(total, nil); got != total || got.Input != 7 {
		t.Fatalf("nil add changed the aggregate: %+v", got)
	}
}

func TestAddUsage_EstimatedIsSticky(t *testing.T) {
	total := addUsage(nil, &TokenUsage{Input: 10, Estimated: true})
	total = addUsage(total, &TokenUsage{Input: 5})
	if !total.Estimated {
		t.Fatalf("estimated flag lost after folding exact usage in")
	}
	if total.Input != 15 {
		t.Fatalf("input = %d, want 15", total.Input)
	}
}
