package mix

import (
	"fmt"
	"strconv"
	"strings"
)

// Gain bounds in decibels.
const (
	MinDB = -24
	MaxDB = 12
)

// Stem identifies one separated instrument track.
type Stem string

const (
	Vocals Stem = "vocals"
	Drums  Stem = "drums"
	Bass   Stem = "bass"
	Other  Stem = "other"
)

// Stems lists all stems in their fixed order.
var Stems = []Stem{Vocals, Drums, Bass, Other}

// Gains holds the per-stem gain in decibels.
type Gains struct {
	Vocals int `json:"vocals"`
	Drums  int `json:"drums"`
	Bass   int `json:"bass"`
	Other  int `json:"other"`
}

// Default returns gains with every stem at 0 dB.
func Default() Gains {
	return Gains{}
}

// ClampDB limits a decibel value to [MinDB, MaxDB].
func ClampDB(db int) int {
	if db < MinDB {
		return MinDB
	}
	if db > MaxDB {
		return MaxDB
	}
	return db
}

// Clamped returns a copy with every stem limited to [MinDB, MaxDB].
func (g Gains) Clamped() Gains {
	return Gains{
		Vocals: ClampDB(g.Vocals),
		Drums:  ClampDB(g.Drums),
		Bass:   ClampDB(g.Bass),
		Other:  ClampDB(g.Other),
	}
}

// Get returns the gain for the given stem.
func (g Gains) Get(s Stem) (int, error) {
	switch s {
	case Vocals:
		return g.Vocals, nil
	case Drums:
		return g.Drums, nil
	case Bass:
		return g.Bass, nil
	case Other:
		return g.Other, nil
	default:
		return 0, fmt.Errorf("mix: unknown stem %q", s)
	}
}

// WithStem returns a copy with the given stem set to db, clamped.
func (g Gains) WithStem(s Stem, db int) (Gains, error) {
	db = ClampDB(db)
	switch s {
	case Vocals:
		g.Vocals = db
	case Drums:
		g.Drums = db
	case Bass:
		g.Bass = db
	case Other:
		g.Other = db
	default:
		return g, fmt.Errorf("mix: unknown stem %q", s)
	}
	return g, nil
}

// Values returns the gains in fixed stem order.
func (g Gains) Values() [4]int {
	return [4]int{g.Vocals, g.Drums, g.Bass, g.Other}
}

// FromValues builds gains from fixed stem order values, clamped.
func FromValues(vs [4]int) Gains {
	return Gains{
		Vocals: ClampDB(vs[0]),
		Drums:  ClampDB(vs[1]),
		Bass:   ClampDB(vs[2]),
		Other:  ClampDB(vs[3]),
	}
}

// Summary renders a short human-readable form like "V+6 D0 B-3 O0".
// Saved songs use it together with the title to detect duplicates.
func (g Gains) Summary() string {
	return fmt.Sprintf("V%s D%s B%s O%s",
		signed(g.Vocals), signed(g.Drums), signed(g.Bass), signed(g.Other))
}

func signed(db int) string {
	if db > 0 {
		return fmt.Sprintf("+%d", db)
	}
	return strconv.Itoa(db)
}

// Parse reads gains from a string like "vocals=6,drums=0,bass=-3,other=0".
// Missing stems default to 0 dB.
func Parse(s string) (Gains, error) {
	var g Gains
	if strings.TrimSpace(s) == "" {
		return g, nil
	}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return g, fmt.Errorf("mix: invalid gain %q", part)
		}
		db, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return g, fmt.Errorf("mix: invalid gain value %q: %w", kv[1], err)
		}
		g, err = g.WithStem(Stem(strings.TrimSpace(kv[0])), db)
		if err != nil {
			return g, err
		}
	}
	return g, nil
}
