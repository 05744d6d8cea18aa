package vector

import (
	"errors"
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
)

func TestStore_RoundTrip(t *testing.T) {
	fs, err := mem.NewFS()
	if err != nil {
		t.Fatal(err)
	}

	// 1. Create and Record
	{
		s, err := NewStore(fs, "index.bin")
		if err != nil {
			t.Fatal(err)
		}

		if err := s.Add("task-1", []float32{0.1, 0.2, 0.3, 0.0}); err != nil {
			t.Fatal(err)
		}
		if err := s.Add("task-2", []float32{0.9, 0.8, 0.9, 0.0}); err != nil {
			t.Fatal(err)
		}
		if err := s.Add("task-3", []float32{0.1, 0.21, 0.31, 0.0}); err != nil {
			t.Fatal(err)
		}

		if err := s.Save(); err != nil {
			t.Fatal(err)
		}
	}

	// 2. Load and Query
	{
		s2, err := NewStore(fs, "index.bin")
		if err != nil {
			t.Fatal(err)
		}
		if s2.Len() != 3 {
			t.Fatalf("expected 3 ids after load, got %d", s2.Len())
		}

		results, err := s2.Search([]float32{0.1, 0.2, 0.3, 0.0}, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		if results[0] != "task-1" {
			t.Errorf("expected top result task-1, got %s", results[0])
		}
		if results[1] != "task-3" {
			t.Errorf("expected second result task-3, got %s", results[1])
		}
	}
}

func TestStore_ReplaceAndRemove(t *testing.T) {
	fs, err := mem.NewFS()
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(fs, "index.bin")
	if err != nil {
		t.Fatal(err)
	}

	_ = s.Add("a", []float32{1, 0, 0})
	_ = s.Add("b", []float32{0, 1, 0})
	// moving a next to b leaves a retired key behind
	_ = s.Add("a", []float32{0, 0.9, 0.1})

	results, err := s.Search([]float32{0, 1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 live ids, got %v", results)
	}

	s.Remove("b")
	results, _ = s.Search([]float32{0, 1, 0}, 5)
	if len(results) != 1 || results[0] != "a" {
		t.Errorf("expected only a, got %v", results)
	}

	if err := s.Add("c", []float32{1, 2}); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}

func TestStore_EmptySearch(t *testing.T) {
	fs, _ := mem.NewFS()
	s, err := NewStore(fs, "missing.bin")
	if err != nil {
		t.Fatal(err)
	}
	results, err := s.Search([]float32{1, 0}, 3)
	if err != nil || len(results) != 0 {
		t.Errorf("expected no results, got %v %v", results, err)
	}
}

func TestSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	cases := []struct {
		b        []float32
		min, max float64
	}{
		{[]float32{1, 0, 0}, 0.999, 1.001},
		{[]float32{0, 1, 0}, -0.001, 0.001},
		{[]float32{0.707, 0.707, 0}, 0.706, 0.708},
		{[]float32{1, 0}, 0, 0},
		{[]float32{0, 0, 0}, 0, 0},
	}
	for _, c := range cases {
		if got := Similarity(a, c.b); got < c.min || got > c.max {
			t.Errorf("Similarity(%v, %v) = %f, want in [%f, %f]", a, c.b, got, c.min, c.max)
		}
	}
}
