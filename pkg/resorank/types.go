package resorank

// ResoRankConfig holds scoring parameters
type ResoRankConfig struct {
	K1             float64               `json:"k1" yaml:"k1"`
	B              float64               `json:"b" yaml:"b"`
	ProximityAlpha float64               `json:"proximityAlpha" yaml:"proximity_alpha"`
	ProximityDecay float64               `json:"proximityDecayLambda" yaml:"proximity_decay"`
	MaxSegments    uint32                `json:"maxSegments" yaml:"max_segments"`
	PhraseBoost    float64               `json:"phraseBoost" yaml:"phrase_boost"`
	FieldWeights   map[string]float64    `json:"fieldWeights" yaml:"field_weights"`
	FieldParams    map[string]FieldParam `json:"fieldParams" yaml:"field_params"`
}

type FieldParam struct {
	Weight float64 `json:"weight" yaml:"weight"`
	B      float64 `json:"b" yaml:"b"` // Field-specific b
}

func DefaultConfig() ResoRankConfig {
	return ResoRankConfig{
		K1:             1.2,
		B:              0.75,
		ProximityAlpha: 0.5,
		ProximityDecay: 0.1,
		MaxSegments:    32,
		PhraseBoost:    1.5,
		FieldWeights:   make(map[string]float64),
		FieldParams:    make(map[string]FieldParam),
	}
}

// TokenMetadata tracks one term inside one document
type TokenMetadata struct {
	FieldOccurrences map[string]FieldOccurrence `json:"fieldOccurrences"`
	SegmentMask      uint32                     `json:"segmentMask"`
}

// FieldOccurrence tracks term hits in a field
type FieldOccurrence struct {
	TF          int `json:"tf"`
	FieldLength int `json:"fieldLength"`
}

// DocumentMetadata tracks document structure
type DocumentMetadata struct {
	FieldLengths    map[string]int `json:"fieldLengths"`
	TotalTokenCount int            `json:"totalTokenCount"`
}

// SearchResult represents a scored match
type SearchResult struct {
	DocID string  `json:"docId"`
	Score float64 `json:"score"`
}

// CorpusStatistics tracks global stats
type CorpusStatistics struct {
	TotalDocuments      int                `json:"totalDocuments"`
	AverageDocLength    float64            `json:"averageDocumentLength"`
	AverageFieldLengths map[string]float64 `json:"averageFieldLengths"`
}
