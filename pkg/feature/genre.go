package feature

// Genre is a soft membership vector over the known genre slots. Scores are
// non-negative and sum loosely to at most 1.
type Genre [10]float64

// Genre slot order.
var GenreNames = []string{
	"rock",
	"pop",
	"electronic",
	"hiphop",
	"jazz",
	"classical",
	"metal",
	"acoustic",
	"ambient",
	"other",
}

const (
	genreRock = iota
	genrePop
	genreElectronic
	genreHipHop
	genreJazz
	genreClassical
	genreMetal
	genreAcoustic
	genreAmbient
	genreOther
)

// Dominant genre confidence and the fallback score when no rule matches.
const (
	dominantScore = 0.8
	fallbackScore = 0.3
)

// ClassifyGenre assigns a dominant score to one slot using fixed threshold
// rules over tempo, spectral centroid, RMS and zero-crossing rate. The rules
// are coarse heuristics; the vector is only an auxiliary model input.
func ClassifyGenre(v *Vector) Genre {
	var g Genre
	switch {
	case v.Tempo > 0.75 && v.RMS > 0.6 && v.ZeroCrossingRate > 0.5:
		g[genreMetal] = dominantScore
	case v.Tempo > 0.7 && v.SpectralCentroid > 0.5:
		g[genreElectronic] = dominantScore
	case v.Tempo > 0.55 && v.RMS > 0.5:
		g[genreRock] = dominantScore
	case v.Tempo > 0.45 && v.ZeroCrossingRate > 0.4:
		g[genreHipHop] = dominantScore
	case v.Tempo > 0.4 && v.SpectralCentroid > 0.35:
		g[genrePop] = dominantScore
	case v.RMS < 0.2 && v.SpectralCentroid < 0.2:
		g[genreAmbient] = dominantScore
	case v.Tempo < 0.25 && v.ZeroCrossingRate < 0.2:
		g[genreClassical] = dominantScore
	case v.SpectralCentroid < 0.3 && v.ZeroCrossingRate < 0.35:
		g[genreAcoustic] = dominantScore
	case v.Tempo < 0.5 && v.SpectralFlux > 0.3:
		g[genreJazz] = dominantScore
	default:
		g[genreOther] = fallbackScore
	}
	return g
}

// ModelInput concatenates the 13 feature scalars and the 10 genre scores
// into the fixed-order 23-float model input.
func ModelInput(v *Vector, g Genre) []float64 {
	out := make([]float64, 0, InputSize)
	out = append(out, v.Values()...)
	out = append(out, g[:]...)
	return out
}

// InputSize is the length of the model input vector.
const InputSize = 13 + len(Genre{})
