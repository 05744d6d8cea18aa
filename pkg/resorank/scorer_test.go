package resorank

import (
	"math"
	"reflect"
	"testing"
)

func TestScorerFieldWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FieldWeights["title"] = 10.0
	cfg.FieldWeights["body"] = 1.0

	scorer := NewScorer(cfg)
	scorer.IndexFields("doc1", map[string]string{"title": "hello world", "body": "nothing here"})
	scorer.IndexFields("doc2", map[string]string{"title": "greetings", "body": "hello there friends"})

	results := scorer.SearchText("hello", 10)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	// Doc 1 should score higher due to Title weight (10.0)
	if results[0].DocID != "doc1" {
		t.Errorf("Expected doc1 first, got %s", results[0].DocID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("Expected doc1 (%f) > doc2 (%f)", results[0].Score, results[1].Score)
	}
}

func TestScorerCorpusStats(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	scorer.IndexFields("a", map[string]string{"title": "login bug"})
	scorer.IndexFields("b", map[string]string{"title": "signup page broken again"})

	if scorer.CorpusStats.TotalDocuments != 2 {
		t.Fatalf("Expected 2 docs, got %d", scorer.CorpusStats.TotalDocuments)
	}
	if scorer.CorpusStats.AverageDocLength != 3 {
		t.Errorf("Expected avg doc length 3, got %f", scorer.CorpusStats.AverageDocLength)
	}

	// Replacing a document must not double count it
	scorer.IndexFields("a", map[string]string{"title": "login bug fixed today"})
	if scorer.Len() != 2 {
		t.Fatalf("Expected 2 docs after replace, got %d", scorer.Len())
	}
	if scorer.CorpusStats.AverageDocLength != 4 {
		t.Errorf("Expected avg doc length 4, got %f", scorer.CorpusStats.AverageDocLength)
	}

	scorer.RemoveDocument("b")
	scorer.RemoveDocument("missing")
	if scorer.Len() != 1 {
		t.Fatalf("Expected 1 doc after remove, got %d", scorer.Len())
	}
	if _, ok := scorer.TokenIndex["signup"]; ok {
		t.Error("Expected signup to leave the token index")
	}
	if got := scorer.SearchText("broken", 10); len(got) != 0 {
		t.Errorf("Expected no hits for removed doc, got %v", got)
	}
}

func TestScorerPhraseBoost(t *testing.T) {
	cfg := DefaultConfig()
	scorer := NewScorer(cfg)
	scorer.IndexFields("ordered", map[string]string{"body": "quick brown fox"})
	scorer.IndexFields("scrambled", map[string]string{"body": "brown dog quick"})

	results := scorer.SearchText("quick brown", 10)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].DocID != "ordered" {
		t.Fatalf("Expected ordered first, got %s", results[0].DocID)
	}

	ratio := results[0].Score / results[1].Score
	if math.Abs(ratio-cfg.PhraseBoost) > 1e-9 {
		t.Errorf("Expected phrase ratio %f, got %f", cfg.PhraseBoost, ratio)
	}
}

func TestScorerTiesAndLimit(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	for _, id := range []string{"c", "a", "b"} {
		scorer.IndexFields(id, map[string]string{"title": "deploy pipeline"})
	}
	scorer.IndexFields("z", map[string]string{"title": "unrelated"})

	results := scorer.SearchText("deploy", 2)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.DocID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v", ids)
	}

	if got := scorer.SearchText("", 10); len(got) != 0 {
		t.Errorf("Expected empty query to return nothing, got %v", got)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The Login-Page is BROKEN, again!")
	want := []string{"login", "page", "broken", "again"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestAnalyzeSegments(t *testing.T) {
	meta, tokens := Analyze(map[string]string{"title": "alpha beta", "body": "gamma"}, 32)
	if meta.TotalTokenCount != 3 {
		t.Fatalf("Expected 3 tokens, got %d", meta.TotalTokenCount)
	}
	// body sorts before title
	if tokens["gamma"].SegmentMask != 1 || tokens["alpha"].SegmentMask != 2 || tokens["beta"].SegmentMask != 4 {
		t.Errorf("Unexpected masks: gamma=%b alpha=%b beta=%b",
			tokens["gamma"].SegmentMask, tokens["alpha"].SegmentMask, tokens["beta"].SegmentMask)
	}
	if occ := tokens["alpha"].FieldOccurrences["title"]; occ.TF != 1 || occ.FieldLength != 2 {
		t.Errorf("Unexpected occurrence %+v", occ)
	}

	// 64 tokens squeeze into 32 segments
	long := ""
	for i := 0; i < 63; i++ {
		long += "w "
	}
	long += "last"
	_, tokens = Analyze(map[string]string{"body": long}, 32)
	if tokens["last"].SegmentMask != 1<<31 {
		t.Errorf("Expected last token in segment 31, got %b", tokens["last"].SegmentMask)
	}
	if tokens["w"].FieldOccurrences["body"].TF != 63 {
		t.Errorf("Expected TF 63, got %d", tokens["w"].FieldOccurrences["body"].TF)
	}
}

func TestBM25Math(t *testing.T) {
	if CalculateIDF(10, 0) != 0 {
		t.Error("Expected zero IDF for unseen term")
	}
	if CalculateIDF(10, 1) <= CalculateIDF(10, 5) {
		t.Error("Expected rare terms to have higher IDF")
	}
	if got := Saturate(1, 1.2); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Expected saturate(1) = 1, got %f", got)
	}
	if got := NormalizedTermFrequency(2, 10, 10, 0.75); got != 2 {
		t.Errorf("Expected tf 2 at average length, got %f", got)
	}
	if !DetectPhraseMatch([]string{"a", "b"}, map[string]uint32{"a": 1, "b": 2}) {
		t.Error("Expected adjacent segments to form a phrase")
	}
	if DetectPhraseMatch([]string{"a", "b"}, map[string]uint32{"a": 2, "b": 1}) {
		t.Error("Expected reversed order not to form a phrase")
	}
}
