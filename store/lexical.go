package store

// LexicalSearchOptions are the options for keyword search over the textual
// projection of entities.
type LexicalSearchOptions struct {
	Kind   EntityKind
	Query  string
	Limit  int
	Filter *ScopeFilter
}

// LexicalMatch is a keyword search hit. Rank is 1-based; rank 1 is the best
// match. Score is the driver's relevance score and is only comparable within
// a single result list.
type LexicalMatch struct {
	Entity *Entity
	Score  float64
	Rank   int
}
