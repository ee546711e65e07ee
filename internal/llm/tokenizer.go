package llm

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec lazily loads the cl100k_base codec. Loading parses the embedded
// vocabulary, so it happens once and is shared by every estimate.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
		if codecErr != nil {
			codecErr = fmt.Errorf("load tokenizer: %w", codecErr)
		}
	})
	return codec, codecErr
}

// EstimateTokens approximates how many prompt tokens text will cost.
// cl100k_base counts are close enough across the models this tool targets
// to size a request before sending it.
func EstimateTokens(text string) (int, error) {
	c, err := getCodec()
	if err != nil {
		return 0, err
	}

	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}

	return len(ids), nil
}

// EstimateTokensSimple is EstimateTokens for callers that treat the count
// as advisory: budget logging and the host's estimate_tokens action. It
// returns 0 when the codec is unavailable.
func EstimateTokensSimple(text string) int {
	count, err := EstimateTokens(text)
	if err != nil {
		return 0
	}
	return count
}
