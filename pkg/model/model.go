package model

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/mbenito/stemtune/pkg/feature"
	"github.com/mbenito/stemtune/pkg/mix"
)

// ParamsStore persists serialized model parameters keyed by user identity.
// Load returns (nil, nil) when no parameters exist for the user.
type ParamsStore interface {
	LoadParams(ctx context.Context, user string) ([]byte, error)
	SaveParams(ctx context.Context, user string, params []byte) error
}

// Example is one trainable (input, gains) pair from a saved song.
type Example struct {
	Input []float64
	Gains mix.Gains
}

// Stats reports the model's persistence and initialization state.
type Stats struct {
	User        string
	Initialized bool
	Persisted   bool
}

// Model maps 23-float audio inputs to per-stem gain suggestions for a single
// user. It supports online single-example updates and full batch retraining,
// persisting parameters after every training call.
type Model struct {
	mu          sync.Mutex
	user        string
	store       ParamsStore
	reg         regressor
	initialized bool
	persisted   bool
}

// New creates a model owned by the given user identity.
func New(user string, store ParamsStore) *Model {
	return &Model{
		user:  user,
		store: store,
		reg:   newNetwork(feature.InputSize),
	}
}

// Initialize loads persisted parameters if present, otherwise keeps the
// fresh ones. Calling it again is a no-op.
func (m *Model) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialize(ctx)
}

func (m *Model) initialize(ctx context.Context) error {
	if m.initialized {
		return nil
	}
	b, err := m.store.LoadParams(ctx, m.user)
	if err != nil {
		return fmt.Errorf("model: couldn't load parameters for %q: %w", m.user, err)
	}
	if b != nil {
		if err := m.reg.unmarshal(b); err != nil {
			// Unreadable parameters are replaced by fresh ones rather than
			// blocking the user.
			log.Printf("model: discarding corrupt parameters for %q: %v\n", m.user, err)
			m.reg = newNetwork(feature.InputSize)
		} else {
			m.persisted = true
		}
	}
	m.initialized = true
	return nil
}

// Predict runs the forward mapping and converts the bounded outputs to
// integer decibel gains in [-24, 12].
func (m *Model) Predict(ctx context.Context, input []float64) (mix.Gains, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.initialize(ctx); err != nil {
		return mix.Gains{}, err
	}
	if len(input) != feature.InputSize {
		return mix.Gains{}, fmt.Errorf("model: input length %d; want %d", len(input), feature.InputSize)
	}
	out := m.reg.predict(input)
	var vs [4]int
	for i, r := range out {
		vs[i] = fromUnit(r)
	}
	return mix.FromValues(vs), nil
}

// Train performs one incremental update toward the given gains and persists
// the parameters.
func (m *Model) Train(ctx context.Context, input []float64, gains mix.Gains) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.initialize(ctx); err != nil {
		return err
	}
	if len(input) != feature.InputSize {
		return fmt.Errorf("model: input length %d; want %d", len(input), feature.InputSize)
	}
	m.reg.step(input, toUnits(gains))
	return m.persist(ctx)
}

// Batch training pass count.
const batchEpochs = 50

// BatchTrain retrains over every example carrying an input vector and
// persists the result. It logs and does nothing when no example qualifies.
func (m *Model) BatchTrain(ctx context.Context, examples []Example) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.initialize(ctx); err != nil {
		return err
	}
	var inputs, targets [][]float64
	for _, ex := range examples {
		if len(ex.Input) != feature.InputSize {
			continue
		}
		inputs = append(inputs, ex.Input)
		targets = append(targets, toUnits(ex.Gains))
	}
	if len(inputs) == 0 {
		log.Printf("model: no trainable songs for %q, skipping batch training\n", m.user)
		return nil
	}
	m.reg.fit(inputs, targets, batchEpochs)
	return m.persist(ctx)
}

// Stats is read-only and side-effect free.
func (m *Model) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		User:        m.user,
		Initialized: m.initialized,
		Persisted:   m.persisted,
	}
}

// User returns the owning identity.
func (m *Model) User() string {
	return m.user
}

func (m *Model) persist(ctx context.Context) error {
	b, err := m.reg.marshal()
	if err != nil {
		return err
	}
	if err := m.store.SaveParams(ctx, m.user, b); err != nil {
		return fmt.Errorf("model: couldn't save parameters for %q: %w", m.user, err)
	}
	m.persisted = true
	return nil
}

// toUnit maps a decibel value in [-24,12] to the model's bounded range.
func toUnit(db int) float64 {
	return (float64(db) + 6) / 18
}

// fromUnit maps a bounded output back to an integer decibel value, clamped.
func fromUnit(r float64) int {
	return mix.ClampDB(int(math.Round(r*18 - 6)))
}

func toUnits(g mix.Gains) []float64 {
	vs := g.Values()
	out := make([]float64, len(vs))
	for i, db := range vs {
		out[i] = toUnit(db)
	}
	return out
}
