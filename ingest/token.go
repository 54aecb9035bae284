package ingest

// EstimateTokens approximates the token count of text as one token per four
// bytes, rounded up. All chunk budgets in this package use this estimate;
// exact tokenizer counts vary by model and are not worth a tokenizer
// dependency at ingest time.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
