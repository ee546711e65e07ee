package llm

import "testing"

func TestEstimateTokens(t *testing.T) {
	count, err := EstimateTokens("package main\n\nfunc main() {}\n")
	if err != nil {
		t.Fatalf("EstimateTokens: %v", err)
	}
	if count <= 0 {
		t.Errorf("count = %d, want > 0", count)
	}
}

func TestEstimateTokensSimple(t *testing.T) {
	if got := EstimateTokensSimple(""); got != 0 {
		t.Errorf("empty text = %d tokens", got)
	}
	long := EstimateTokensSimple("a longer sentence with several distinct words in it")
	short := EstimateTokensSimple("hi")
	if long <= short {
		t.Errorf("longer text should cost more tokens: %d vs %d", long, short)
	}
}
