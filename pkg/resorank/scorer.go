package resorank

import (
	"sort"
)

// Scorer is a BM25F index with a segment-overlap proximity boost. It is not
// safe for concurrent mutation; callers serialize writes.
type Scorer struct {
	Config      ResoRankConfig
	CorpusStats CorpusStatistics

	DocumentIndex map[string]DocumentMetadata         `json:"documentIndex"`
	TokenIndex    map[string]map[string]TokenMetadata `json:"tokenIndex"` // term -> docID -> meta

	// running sums behind CorpusStats
	tokenSum    int
	fieldLenSum map[string]int
}

// NewScorer creates a new scorer
func NewScorer(config ResoRankConfig) *Scorer {
	return &Scorer{
		Config:        config,
		CorpusStats:   CorpusStatistics{AverageFieldLengths: make(map[string]float64)},
		DocumentIndex: make(map[string]DocumentMetadata),
		TokenIndex:    make(map[string]map[string]TokenMetadata),
		fieldLenSum:   make(map[string]int),
	}
}

// Len returns the number of indexed documents.
func (s *Scorer) Len() int { return len(s.DocumentIndex) }

// IndexFields tokenizes fields and indexes them under docID.
func (s *Scorer) IndexFields(docID string, fields map[string]string) {
	meta, tokens := Analyze(fields, s.Config.MaxSegments)
	s.IndexDocument(docID, meta, tokens)
}

// IndexDocument adds a document, replacing any previous version with the
// same id, and refreshes corpus statistics.
func (s *Scorer) IndexDocument(docID string, meta DocumentMetadata, tokens map[string]TokenMetadata) {
	s.RemoveDocument(docID)

	s.DocumentIndex[docID] = meta
	for term, tMeta := range tokens {
		if s.TokenIndex[term] == nil {
			s.TokenIndex[term] = make(map[string]TokenMetadata)
		}
		s.TokenIndex[term][docID] = tMeta
	}

	s.tokenSum += meta.TotalTokenCount
	for f, n := range meta.FieldLengths {
		s.fieldLenSum[f] += n
	}
	s.refreshStats()
}

// RemoveDocument drops docID from the index. Unknown ids are ignored.
func (s *Scorer) RemoveDocument(docID string) {
	meta, ok := s.DocumentIndex[docID]
	if !ok {
		return
	}
	delete(s.DocumentIndex, docID)
	for term, docs := range s.TokenIndex {
		if _, ok := docs[docID]; !ok {
			continue
		}
		delete(docs, docID)
		if len(docs) == 0 {
			delete(s.TokenIndex, term)
		}
	}

	s.tokenSum -= meta.TotalTokenCount
	for f, n := range meta.FieldLengths {
		s.fieldLenSum[f] -= n
	}
	s.refreshStats()
}

func (s *Scorer) refreshStats() {
	n := len(s.DocumentIndex)
	s.CorpusStats.TotalDocuments = n
	s.CorpusStats.AverageFieldLengths = make(map[string]float64, len(s.fieldLenSum))
	if n == 0 {
		s.CorpusStats.AverageDocLength = 0
		return
	}
	s.CorpusStats.AverageDocLength = float64(s.tokenSum) / float64(n)
	for f, sum := range s.fieldLenSum {
		s.CorpusStats.AverageFieldLengths[f] = float64(sum) / float64(n)
	}
}

// SearchText tokenizes query and searches.
func (s *Scorer) SearchText(query string, limit int) []SearchResult {
	return s.Search(Tokenize(query), limit)
}

// Search scores every document containing a query term. Results are
// ordered by score, ties by document id.
func (s *Scorer) Search(query []string, limit int) []SearchResult {
	candidates := make(map[string]bool)
	for _, term := range query {
		for docID := range s.TokenIndex[term] {
			candidates[docID] = true
		}
	}

	var results []SearchResult
	for docID := range candidates {
		if score := s.Score(query, docID); score > 0 {
			results = append(results, SearchResult{DocID: docID, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Score calculates BM25F relevance for a doc, boosted by term proximity and
// phrase adjacency.
func (s *Scorer) Score(query []string, docID string) float64 {
	docMeta, ok := s.DocumentIndex[docID]
	if !ok {
		return 0.0
	}

	totalScore := 0.0
	var termData []TermWithIDF
	docTermMasks := make(map[string]uint32)

	for _, term := range query {
		tMeta, ok := s.TokenIndex[term][docID]
		if !ok {
			continue
		}
		idf := CalculateIDF(float64(s.CorpusStats.TotalDocuments), len(s.TokenIndex[term]))
		totalScore += s.scoreTermBM25F(tMeta, idf)

		termData = append(termData, TermWithIDF{Mask: tMeta.SegmentMask, IDF: idf})
		docTermMasks[term] = tMeta.SegmentMask
	}

	if len(termData) > 0 {
		totalScore *= IDFWeightedProximityMultiplier(
			termData,
			s.Config.ProximityAlpha,
			s.Config.MaxSegments,
			docMeta.TotalTokenCount,
			s.CorpusStats.AverageDocLength,
			s.Config.ProximityDecay,
			5.0, // IDF scale default
		)
	}

	if len(query) > 1 && s.Config.PhraseBoost > 0 && DetectPhraseMatch(query, docTermMasks) {
		totalScore *= s.Config.PhraseBoost
	}
	return totalScore
}

func (s *Scorer) scoreTermBM25F(meta TokenMetadata, idf float64) float64 {
	weightedFreq := 0.0

	for field, data := range meta.FieldOccurrences {
		weight := 1.0
		b := s.Config.B
		if p, ok := s.Config.FieldParams[field]; ok {
			weight = p.Weight
			b = p.B
		} else if w, ok := s.Config.FieldWeights[field]; ok {
			weight = w
		}

		avgLen := s.CorpusStats.AverageFieldLengths[field]
		if avgLen == 0 {
			avgLen = 100.0
		}
		weightedFreq += weight * NormalizedTermFrequency(data.TF, data.FieldLength, avgLen, b)
	}

	return idf * Saturate(weightedFreq, s.Config.K1)
}
