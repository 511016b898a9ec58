package model

import (
	"context"
	"math"
	"testing"

	"github.com/mbenito/stemtune/pkg/feature"
	"github.com/mbenito/stemtune/pkg/mix"
)

type memStore struct {
	params map[string][]byte
	saves  int
}

func newMemStore() *memStore {
	return &memStore{params: map[string][]byte{}}
}

func (s *memStore) LoadParams(_ context.Context, user string) ([]byte, error) {
	return s.params[user], nil
}

func (s *memStore) SaveParams(_ context.Context, user string, b []byte) error {
	s.params[user] = b
	s.saves++
	return nil
}

func input(seed float64) []float64 {
	in := make([]float64, feature.InputSize)
	for i := range in {
		in[i] = math.Mod(seed+float64(i)*0.37, 1)
	}
	return in
}

func TestDBRoundTrip(t *testing.T) {
	for db := mix.MinDB; db <= mix.MaxDB; db++ {
		if got := fromUnit(toUnit(db)); got != db {
			t.Errorf("fromUnit(toUnit(%d)) = %d; want %d", db, got, db)
		}
	}
}

func TestPredictBounds(t *testing.T) {
	m := New("alex", newMemStore())
	for seed := 0.0; seed < 1; seed += 0.13 {
		g, err := m.Predict(context.Background(), input(seed))
		if err != nil {
			t.Fatalf("Predict() err = %v", err)
		}
		for _, db := range g.Values() {
			if db < mix.MinDB || db > mix.MaxDB {
				t.Errorf("Predict() gain = %d; want within [%d,%d]", db, mix.MinDB, mix.MaxDB)
			}
		}
	}
}

func TestPredictDefaultCenter(t *testing.T) {
	// With a zero-initialized output layer the bounded output is 0, which
	// maps to -6 dB on every stem.
	m := New("alex", newMemStore())
	g, err := m.Predict(context.Background(), make([]float64, feature.InputSize))
	if err != nil {
		t.Fatalf("Predict() err = %v", err)
	}
	want := mix.Gains{Vocals: -6, Drums: -6, Bass: -6, Other: -6}
	if g != want {
		t.Errorf("Predict(zeros) = %v; want %v", g, want)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := New("alex", store)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() err = %v", err)
	}
	target := mix.Gains{Vocals: 9, Drums: -9, Bass: 3, Other: 0}
	for i := 0; i < 50; i++ {
		if err := m.Train(ctx, input(0.2), target); err != nil {
			t.Fatalf("Train() err = %v", err)
		}
	}
	before, err := m.Predict(ctx, input(0.2))
	if err != nil {
		t.Fatalf("Predict() err = %v", err)
	}
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() again err = %v", err)
	}
	after, err := m.Predict(ctx, input(0.2))
	if err != nil {
		t.Fatalf("Predict() err = %v", err)
	}
	if before != after {
		t.Errorf("Predict() after re-Initialize = %v; want %v", after, before)
	}
}

func TestTrainMovesTowardTarget(t *testing.T) {
	ctx := context.Background()
	m := New("alex", newMemStore())
	in := input(0.7)
	target := mix.Gains{Vocals: 12, Drums: -24, Bass: 6, Other: -12}

	start, err := m.Predict(ctx, in)
	if err != nil {
		t.Fatalf("Predict() err = %v", err)
	}
	for i := 0; i < 200; i++ {
		if err := m.Train(ctx, in, target); err != nil {
			t.Fatalf("Train() err = %v", err)
		}
	}
	got, err := m.Predict(ctx, in)
	if err != nil {
		t.Fatalf("Predict() err = %v", err)
	}
	if dist(got, target) >= dist(start, target) {
		t.Errorf("Predict() after training = %v; no closer to %v than start %v", got, target, start)
	}
}

func TestPersistenceAcrossModels(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := New("alex", store)
	target := mix.Gains{Vocals: 10, Drums: 10, Bass: 10, Other: 10}
	in := input(0.4)
	for i := 0; i < 100; i++ {
		if err := m.Train(ctx, in, target); err != nil {
			t.Fatalf("Train() err = %v", err)
		}
	}
	want, err := m.Predict(ctx, in)
	if err != nil {
		t.Fatalf("Predict() err = %v", err)
	}

	// A fresh model for the same user must load the trained parameters.
	reloaded := New("alex", store)
	got, err := reloaded.Predict(ctx, in)
	if err != nil {
		t.Fatalf("Predict() on reloaded model err = %v", err)
	}
	if got != want {
		t.Errorf("reloaded Predict() = %v; want %v", got, want)
	}
	stats := reloaded.Stats()
	if !stats.Persisted || !stats.Initialized {
		t.Errorf("Stats() = %+v; want persisted and initialized", stats)
	}

	// A different user gets fresh parameters.
	other := New("sam", store)
	g, err := other.Predict(ctx, make([]float64, feature.InputSize))
	if err != nil {
		t.Fatalf("Predict() for other user err = %v", err)
	}
	if g != (mix.Gains{Vocals: -6, Drums: -6, Bass: -6, Other: -6}) {
		t.Errorf("other user Predict(zeros) = %v; want untrained center", g)
	}
}

func TestBatchTrainEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := New("alex", store)
	if err := m.BatchTrain(ctx, nil); err != nil {
		t.Fatalf("BatchTrain(nil) err = %v", err)
	}
	// Examples without input vectors don't qualify either.
	if err := m.BatchTrain(ctx, []Example{{Gains: mix.Gains{Vocals: 3}}}); err != nil {
		t.Fatalf("BatchTrain(no inputs) err = %v", err)
	}
	if store.saves != 0 {
		t.Errorf("store saves = %d; want 0 after no-op batch training", store.saves)
	}
}

func TestBatchTrainFitsExamples(t *testing.T) {
	ctx := context.Background()
	m := New("alex", newMemStore())
	examples := []Example{
		{Input: input(0.1), Gains: mix.Gains{Vocals: 9, Drums: -3, Bass: 0, Other: -6}},
		{Input: input(0.9), Gains: mix.Gains{Vocals: -12, Drums: 6, Bass: 3, Other: 0}},
	}
	if err := m.BatchTrain(ctx, examples); err != nil {
		t.Fatalf("BatchTrain() err = %v", err)
	}
	for _, ex := range examples {
		got, err := m.Predict(ctx, ex.Input)
		if err != nil {
			t.Fatalf("Predict() err = %v", err)
		}
		center := mix.Gains{Vocals: -6, Drums: -6, Bass: -6, Other: -6}
		if dist(got, ex.Gains) >= dist(center, ex.Gains) {
			t.Errorf("Predict(%v) = %v; no closer to %v than untrained center", ex.Input[:2], got, ex.Gains)
		}
	}
}

func TestFitConvergesOnBatch(t *testing.T) {
	n := newNetwork(feature.InputSize)
	inputs := [][]float64{input(0.1), input(0.5), input(0.9)}
	targets := [][]float64{
		{0.8, -0.2, 0.1, -0.5},
		{-0.6, 0.4, 0.3, 0.0},
		{0.2, -0.8, -0.4, 0.6},
	}
	n.fit(inputs, targets, 500)
	for i, in := range inputs {
		got := n.predict(in)
		for j, want := range targets[i] {
			if math.Abs(got[j]-want) > 0.15 {
				t.Errorf("predict(inputs[%d])[%d] = %.3f; want within 0.15 of %.3f", i, j, got[j], want)
			}
		}
	}
}

func TestStatsReadOnly(t *testing.T) {
	store := newMemStore()
	m := New("alex", store)
	stats := m.Stats()
	if stats.Initialized || stats.Persisted {
		t.Errorf("Stats() before init = %+v; want zero state", stats)
	}
	if store.saves != 0 {
		t.Errorf("Stats() wrote to the store")
	}
}

func dist(a, b mix.Gains) float64 {
	av, bv := a.Values(), b.Values()
	var sum float64
	for i := range av {
		d := float64(av[i] - bv[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
