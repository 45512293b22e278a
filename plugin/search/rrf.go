package search

import (
	"sort"

	"github.com/mailsense/mailsense/internal/errors"
)

// RRF (Reciprocal Rank Fusion) constants.
const (
	// RRFDampingFactor is k in 1/(k+rank). k = 60 is a common default.
	RRFDampingFactor = 60
	// AbsentRank is the rank charged to a candidate missing from one of the
	// two lists. Large enough that single-path hits still score, small
	// enough that they stay comparable.
	AbsentRank = 1000
)

// Candidate is one entry of a ranked single-path result list. Rank is
// 1-based; Score is the path's native score (cosine similarity for the
// vector path, relevance for the keyword path).
type Candidate struct {
	ID    int32
	Rank  int
	Score float64
}

// FusedCandidate is one entry of the fused list. A rank of AbsentRank means
// the candidate did not appear in that path.
type FusedCandidate struct {
	ID               int32
	RRFScore         float64
	VectorRank       int
	KeywordRank      int
	VectorSimilarity float64
	KeywordScore     float64
}

// FuseRRF fuses the vector and keyword candidate lists with weighted
// Reciprocal Rank Fusion:
//
//	score(d) = vectorWeight/(k + vectorRank(d)) + (1-vectorWeight)/(k + keywordRank(d))
//
// Candidates absent from one list are charged AbsentRank on that side, so
// appearing in both lists always beats appearing in one. Results are ordered
// by score descending, ties broken by id ascending. A non-positive k gets
// the default damping factor.
func FuseRRF(vector, keyword []Candidate, vectorWeight float64, k int) ([]FusedCandidate, error) {
	if vectorWeight < 0 || vectorWeight > 1 {
		return nil, errors.InvalidArgumentf("vector weight %v outside [0,1]", vectorWeight)
	}
	if k <= 0 {
		k = RRFDampingFactor
	}

	fused := map[int32]*FusedCandidate{}
	lookup := func(id int32) *FusedCandidate {
		if c, ok := fused[id]; ok {
			return c
		}
		c := &FusedCandidate{ID: id, VectorRank: AbsentRank, KeywordRank: AbsentRank}
		fused[id] = c
		return c
	}

	for _, candidate := range vector {
		c := lookup(candidate.ID)
		c.VectorRank = candidate.Rank
		c.VectorSimilarity = candidate.Score
	}
	for _, candidate := range keyword {
		c := lookup(candidate.ID)
		c.KeywordRank = candidate.Rank
		c.KeywordScore = candidate.Score
	}

	list := make([]FusedCandidate, 0, len(fused))
	for _, c := range fused {
		c.RRFScore = vectorWeight/float64(k+c.VectorRank) + (1-vectorWeight)/float64(k+c.KeywordRank)
		list = append(list, *c)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].RRFScore != list[j].RRFScore {
			return list[i].RRFScore > list[j].RRFScore
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}
