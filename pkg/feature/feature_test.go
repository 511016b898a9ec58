package feature

import (
	"math"
	"testing"
)

func sine(freq float64, rate, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestExtractRejectsGarbage(t *testing.T) {
	if _, err := Extract([]byte("definitely not audio")); err == nil {
		t.Fatal("Extract() err = nil; want decode error")
	}
	if _, err := Extract(nil); err == nil {
		t.Fatal("Extract(nil) err = nil; want decode error")
	}
}

func TestRootMeanSquare(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"silence", make([]float64, 100), 0},
		{"dc", []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"square wave", []float64{1, -1, 1, -1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rootMeanSquare(tt.samples)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("rootMeanSquare() = %v; want %v", got, tt.want)
			}
		})
	}
	// A full-scale sine has RMS 1/sqrt(2).
	got := rootMeanSquare(sine(440, 44100, 44100, 1))
	if math.Abs(got-1/math.Sqrt2) > 0.01 {
		t.Errorf("rootMeanSquare(sine) = %v; want ~%v", got, 1/math.Sqrt2)
	}
}

func TestZeroCrossingRate(t *testing.T) {
	if got := zeroCrossingRate([]float64{1, 1, 1, 1}); got != 0 {
		t.Errorf("zeroCrossingRate(dc) = %v; want 0", got)
	}
	if got := zeroCrossingRate([]float64{1, -1, 1, -1}); got != 1 {
		t.Errorf("zeroCrossingRate(alternating) = %v; want 1", got)
	}
	// Higher frequency must produce a higher rate.
	low := zeroCrossingRate(sine(100, 44100, 44100, 1))
	high := zeroCrossingRate(sine(1000, 44100, 44100, 1))
	if high <= low {
		t.Errorf("zeroCrossingRate: high freq %v <= low freq %v", high, low)
	}
}

func TestSpectralMeasuresBounded(t *testing.T) {
	samples := sine(440, 44100, 44100, 0.8)
	centroid := spectralCentroid(samples, 44100)
	if centroid < 0 || centroid > 22050 {
		t.Errorf("spectralCentroid = %v; want within [0, nyquist]", centroid)
	}
	rolloff := spectralRolloff(samples, 44100)
	if rolloff < centroid/10 || rolloff > 22050 {
		t.Errorf("spectralRolloff = %v (centroid %v); out of range", rolloff, centroid)
	}
	if got := spectralCentroid(make([]float64, 4096), 44100); got != 0 {
		t.Errorf("spectralCentroid(silence) = %v; want 0", got)
	}
}

func TestSpectralFlux(t *testing.T) {
	// Constant amplitude has no positive frame-to-frame increase.
	if got := spectralFlux(sine(440, 44100, 8192, 0.5)); got > 0.01 {
		t.Errorf("spectralFlux(steady) = %v; want ~0", got)
	}
	// A rising envelope must show positive flux.
	n := 8192
	rising := make([]float64, n)
	for i := range rising {
		rising[i] = float64(i) / float64(n) * math.Sin(float64(i))
	}
	if got := spectralFlux(rising); got <= 0 {
		t.Errorf("spectralFlux(rising) = %v; want > 0", got)
	}
}

func TestEstimateTempoClamped(t *testing.T) {
	// Silence has no peaks: clamp to the minimum.
	if got := estimateTempo(make([]float64, 44100), 44100); got != minTempo {
		t.Errorf("estimateTempo(silence) = %v; want %v", got, minTempo)
	}
	// A dense alternating energy pattern clamps to the maximum.
	n := 44100 * 2
	busy := make([]float64, n)
	for i := range busy {
		if (i/tempoWindow)%2 == 0 {
			busy[i] = 1
		}
	}
	got := estimateTempo(busy, 4410)
	if got < minTempo || got > maxTempo {
		t.Errorf("estimateTempo = %v; want within [%v,%v]", got, minTempo, maxTempo)
	}
}

func TestNormalizeBounds(t *testing.T) {
	raw := rawFeatures{
		duration:   10_000, // way past the 300s scale
		sampleRate: 96_000,
		rms:        4,
		zcr:        0.9,
		centroid:   90_000,
		rolloff:    90_000,
		flux:       3,
		tempo:      240,
		bands:      [bandCount]float64{100, 0, 5, -1, 3},
	}
	v := raw.normalize()
	for i, val := range v.Values() {
		if val < 0 || val > 1 {
			t.Errorf("value %d = %v; want within [0,1]", i, val)
		}
	}
}

func TestNormalizeTempoMapping(t *testing.T) {
	tests := []struct {
		tempo float64
		want  float64
	}{
		{60, 0},
		{120, 0.5},
		{180, 1},
	}
	for _, tt := range tests {
		v := rawFeatures{tempo: tt.tempo}.normalize()
		if math.Abs(v.Tempo-tt.want) > 1e-9 {
			t.Errorf("normalize tempo %v = %v; want %v", tt.tempo, v.Tempo, tt.want)
		}
	}
}

func TestClassifyGenre(t *testing.T) {
	tests := []struct {
		name string
		v    Vector
		want int
	}{
		{"metal", Vector{Tempo: 0.9, RMS: 0.8, ZeroCrossingRate: 0.7}, genreMetal},
		{"electronic", Vector{Tempo: 0.8, SpectralCentroid: 0.6}, genreElectronic},
		{"rock", Vector{Tempo: 0.6, RMS: 0.6}, genreRock},
		{"ambient", Vector{RMS: 0.1, SpectralCentroid: 0.1, Tempo: 0.3}, genreAmbient},
		{"fallback", Vector{Tempo: 0.35, RMS: 0.4, SpectralCentroid: 0.5, ZeroCrossingRate: 0.4}, genreOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ClassifyGenre(&tt.v)
			var sum float64
			for i, score := range g {
				sum += score
				if score < 0 {
					t.Errorf("slot %d = %v; want >= 0", i, score)
				}
				if i == tt.want {
					continue
				}
				if score != 0 {
					t.Errorf("slot %d = %v; want 0", i, score)
				}
			}
			if g[tt.want] == 0 {
				t.Errorf("dominant slot %d = 0; want > 0", tt.want)
			}
			if sum > 1 {
				t.Errorf("score sum = %v; want <= 1", sum)
			}
		})
	}
}

func TestModelInput(t *testing.T) {
	v := &Vector{Duration: 0.1, SampleRate: 0.9, RMS: 0.5}
	g := ClassifyGenre(v)
	in := ModelInput(v, g)
	if len(in) != InputSize {
		t.Fatalf("ModelInput length = %d; want %d", len(in), InputSize)
	}
	if in[0] != v.Duration || in[1] != v.SampleRate || in[2] != v.RMS {
		t.Errorf("ModelInput prefix = %v; want feature values first", in[:3])
	}
	for i, score := range g {
		if in[13+i] != score {
			t.Errorf("ModelInput[%d] = %v; want genre score %v", 13+i, in[13+i], score)
		}
	}
}
