package feature

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// ErrDecode reports that the input bytes could not be decoded as audio.
var ErrDecode = errors.New("feature: couldn't decode audio")

// Analysis window sizes, in samples.
const (
	spectralWindow = 2048
	fluxWindow     = 1024
	tempoWindow    = 4096
	bandCount      = 5
)

// Vector is the normalized fingerprint of one audio file. Most values are
// scaled into [0,1]; see the scale constants in normalize.
type Vector struct {
	Duration         float64 `json:"duration"`
	SampleRate       float64 `json:"sample_rate"`
	RMS              float64 `json:"rms"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`
	SpectralFlux     float64 `json:"spectral_flux"`
	Tempo            float64 `json:"tempo"`
	Bands            [bandCount]float64 `json:"bands"`
}

// Values returns the 13 scalars in fixed order.
func (v *Vector) Values() []float64 {
	out := []float64{
		v.Duration,
		v.SampleRate,
		v.RMS,
		v.ZeroCrossingRate,
		v.SpectralCentroid,
		v.SpectralRolloff,
		v.SpectralFlux,
		v.Tempo,
	}
	return append(out, v.Bands[:]...)
}

// Extract decodes raw audio bytes and computes the feature vector.
// Only the first channel is analyzed, at its native sample rate.
func Extract(b []byte) (*Vector, error) {
	samples, rate, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrDecode)
	}
	duration := float64(len(samples)) / float64(rate)

	raw := rawFeatures{
		duration:   duration,
		sampleRate: float64(rate),
		rms:        rootMeanSquare(samples),
		zcr:        zeroCrossingRate(samples),
		centroid:   spectralCentroid(samples, rate),
		rolloff:    spectralRolloff(samples, rate),
		flux:       spectralFlux(samples),
		tempo:      estimateTempo(samples, rate),
		bands:      bandEnergies(samples),
	}
	return raw.normalize(), nil
}

// decode reads an mp3 stream into first-channel float samples.
func decode(b []byte) ([]float64, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	// go-mp3 always outputs 16-bit little endian stereo frames.
	var samples []float64
	buf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(decoder, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, err
		}
		left := int16(buf[0]) | int16(buf[1])<<8
		samples = append(samples, float64(left)/32768.0)
	}
	return samples, decoder.SampleRate(), nil
}

type rawFeatures struct {
	duration   float64
	sampleRate float64
	rms        float64
	zcr        float64
	centroid   float64
	rolloff    float64
	flux       float64
	tempo      float64
	bands      [bandCount]float64
}

// normalize scales raw measurements into bounded ranges using fixed
// constants: duration/300s, rate/48kHz, rms*10, zcr*100, spectral Hz
// measures /10000, flux*100, tempo mapped from [60,180] to [0,1] and band
// energies /10.
func (r rawFeatures) normalize() *Vector {
	v := &Vector{
		Duration:         clamp01(r.duration / 300),
		SampleRate:       clamp01(r.sampleRate / 48000),
		RMS:              clamp01(r.rms * 10),
		ZeroCrossingRate: clamp01(r.zcr * 100),
		SpectralCentroid: clamp01(r.centroid / 10000),
		SpectralRolloff:  clamp01(r.rolloff / 10000),
		SpectralFlux:     clamp01(r.flux * 100),
		Tempo:            clamp01((r.tempo - minTempo) / (maxTempo - minTempo)),
	}
	for i, b := range r.bands {
		v.Bands[i] = clamp01(b / 10)
	}
	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func rootMeanSquare(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate is the fraction of adjacent sample pairs whose signs
// differ.
func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// spectralCentroid approximates the centroid with an amplitude-weighted scan
// over the first spectralWindow samples, treating each sample index as a
// frequency bin up to Nyquist. Not a true FFT.
func spectralCentroid(samples []float64, rate int) float64 {
	window := firstWindow(samples)
	var weighted, total float64
	for i, s := range window {
		amp := math.Abs(s)
		weighted += binFrequency(i, rate) * amp
		total += amp
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// spectralRolloff is the bin frequency below which 85% of the scanned
// amplitude is contained.
func spectralRolloff(samples []float64, rate int) float64 {
	window := firstWindow(samples)
	var total float64
	for _, s := range window {
		total += math.Abs(s)
	}
	if total == 0 {
		return 0
	}
	threshold := total * 0.85
	var cum float64
	for i, s := range window {
		cum += math.Abs(s)
		if cum >= threshold {
			return binFrequency(i, rate)
		}
	}
	return binFrequency(len(window)-1, rate)
}

func firstWindow(samples []float64) []float64 {
	if len(samples) > spectralWindow {
		return samples[:spectralWindow]
	}
	return samples
}

func binFrequency(i, rate int) float64 {
	return float64(i) * float64(rate) / 2 / spectralWindow
}

// spectralFlux is the mean positive frame-to-frame change of mean amplitude
// over fluxWindow-sample windows.
func spectralFlux(samples []float64) float64 {
	var prev float64
	var sum float64
	var frames int
	for i := 0; i < len(samples); i += fluxWindow {
		end := i + fluxWindow
		if end > len(samples) {
			end = len(samples)
		}
		var amp float64
		for _, s := range samples[i:end] {
			amp += math.Abs(s)
		}
		amp /= float64(end - i)
		if frames > 0 && amp > prev {
			sum += amp - prev
		}
		prev = amp
		frames++
	}
	if frames < 2 {
		return 0
	}
	return sum / float64(frames-1)
}

// Tempo clamp bounds in beats per minute.
const (
	minTempo = 60.0
	maxTempo = 180.0
)

// estimateTempo counts local energy maxima over tempoWindow-sample windows
// and converts the peak rate to beats per minute, clamped to [60,180].
func estimateTempo(samples []float64, rate int) float64 {
	var energies []float64
	for i := 0; i < len(samples); i += tempoWindow {
		end := i + tempoWindow
		if end > len(samples) {
			end = len(samples)
		}
		var e float64
		for _, s := range samples[i:end] {
			e += s * s
		}
		energies = append(energies, e/float64(end-i))
	}
	var peaks int
	for i := 1; i < len(energies)-1; i++ {
		if energies[i] > energies[i-1] && energies[i] > energies[i+1] {
			peaks++
		}
	}
	duration := float64(len(samples)) / float64(rate)
	if duration == 0 {
		return minTempo
	}
	bpm := float64(peaks) / duration * 60
	if bpm < minTempo {
		return minTempo
	}
	if bpm > maxTempo {
		return maxTempo
	}
	return bpm
}

// bandEnergies computes 5 pseudo-cepstral coefficients as log-compressed
// energies over equal-length sample segments.
func bandEnergies(samples []float64) [bandCount]float64 {
	var bands [bandCount]float64
	if len(samples) < bandCount {
		return bands
	}
	segment := len(samples) / bandCount
	for b := 0; b < bandCount; b++ {
		start := b * segment
		end := start + segment
		var e float64
		for _, s := range samples[start:end] {
			e += s * s
		}
		bands[b] = math.Log1p(e / float64(segment) * 1000)
	}
	return bands
}

// DurationSeconds converts the normalized duration back to seconds.
func (v *Vector) DurationSeconds() time.Duration {
	return time.Duration(v.Duration * 300 * float64(time.Second))
}
