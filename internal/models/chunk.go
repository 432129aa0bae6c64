package models

// Chunk is the atomic retrievable unit: one bounded slice of one page's text.
// VectorIndex ties the chunk to row VectorIndex of the embedding matrix; the two
// are parallel arrays and must never desynchronize.
type Chunk struct {
	Doc         string
	Page        int
	Text        string
	VectorIndex int
}

// SearchResult is one ranked hit. Score is the final (possibly length-boosted)
// cosine similarity and may slightly exceed 1 after boosting.
type SearchResult struct {
	Doc   string  `json:"doc"`
	Page  int     `json:"page"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// SearchResponse is the envelope handed to host collaborators.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}
