package oracle

import "math"

// Pricing constants, USD per token. Generation rates are mode-specific;
// hybrid answers bill at half the generative rate because the backend is
// expected to ground most of the answer in retrieved passages.
const (
	embedCostPerToken = 0.02 / 1e6

	generativeInputPerToken  = 3.0 / 1e6
	generativeOutputPerToken = 15.0 / 1e6
	hybridInputPerToken      = 1.5 / 1e6
	hybridOutputPerToken     = 7.5 / 1e6

	// contextTokens is the fixed prompt overhead assumed for generation.
	contextTokens = 1024

	defaultMaxTokens = 512
)

// estimateCost prices a query without running it. Token count is a rounded
// chars/4 estimate of the question.
func estimateCost(req Request) CostEstimate {
	tokens := int(math.Round(float64(len(req.Question)) / 4))

	est := CostEstimate{
		Tokens:       tokens,
		EmbeddingUSD: float64(tokens) * embedCostPerToken,
	}

	mode := req.Answer.Mode
	if mode == ModeGenerative || mode == ModeHybrid {
		maxTokens := req.Answer.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		inRate, outRate := generativeInputPerToken, generativeOutputPerToken
		if mode == ModeHybrid {
			inRate, outRate = hybridInputPerToken, hybridOutputPerToken
		}
		est.GenerationUSD = float64(contextTokens+tokens)*inRate + float64(maxTokens)*outRate
	}

	est.TotalUSD = est.EmbeddingUSD + est.GenerationUSD
	return est
}
