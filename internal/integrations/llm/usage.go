package llm

type LLMUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
	// Reported is false when the service returned no usage block.
	Reported bool
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.Reported = u.Reported || other.Reported
}

// Rates are USD per one million tokens.
type Rates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

const (
	DefaultInputCostPerMillion  = 0.25
	DefaultOutputCostPerMillion = 2.00
)

func DefaultRates() Rates {
	return Rates{InputPerMillion: DefaultInputCostPerMillion, OutputPerMillion: DefaultOutputCostPerMillion}
}

// EstimateCost prices a call from its token counts. Missing usage costs zero;
// it is never inferred from prompt length. Cache writes and reads are billed
// as prompt tokens at the input rate.
func EstimateCost(usage LLMUsage, rates Rates) float64 {
	if !usage.Reported {
		return 0
	}
	prompt := usage.InputTokens + usage.CacheCreationInputTokens + usage.CacheReadInputTokens
	input := float64(prompt) / 1_000_000 * rates.InputPerMillion
	output := float64(usage.OutputTokens) / 1_000_000 * rates.OutputPerMillion
	return input + output
}
