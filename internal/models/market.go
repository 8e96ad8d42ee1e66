package models

// SearchResult is a symbol lookup hit
type SearchResult struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

// Quote is the latest price of a ticker and its change over the previous close
type Quote struct {
	CurrentPrice  float64 `json:"c"`
	PercentChange float64 `json:"dp"`
}
