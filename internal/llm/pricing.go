package llm

// PricePerMillion is a per-model price expressed in USD per million
// tokens, input and output priced separately (most providers bill
// output tokens at a multiple of input price).
type PricePerMillion struct {
	Input  float64
	Output float64
}

// PricingTable maps model id to its price. These values are illustrative
// seeds (§9 Open Question a): vendor pricing drifts with announcements
// and must not be treated as a live contract.
type PricingTable map[string]PricePerMillion

// EstimateCost returns the USD cost of promptTokens+completionTokens
// against price, or 0 if the model has no known price.
func EstimateCost(price PricePerMillion, promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1_000_000*price.Input + float64(completionTokens)/1_000_000*price.Output
}

// DefaultPricing seeds a handful of well-known model ids across
// providers.
func DefaultPricing() PricingTable {
	return PricingTable{
		"claude-opus-4":    {Input: 15, Output: 75},
		"claude-sonnet-4":  {Input: 3, Output: 15},
		"claude-haiku-3.5": {Input: 0.8, Output: 4},
		"gpt-4o":           {Input: 2.5, Output: 10},
		"gpt-4o-mini":      {Input: 0.15, Output: 0.6},
		"gpt-4.1":          {Input: 2, Output: 8},
	}
}
