// Package baseline fits and scores the statistical model of normal operation.
package baseline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/driftstack/drift-engine/internal/models"
)

const (
	// DefaultVarianceFraction is the share of total variance the retained
	// principal directions must explain.
	DefaultVarianceFraction = 0.90
	// DefaultConfidenceLevel controls the chi-square critical value used as
	// the decision threshold.
	DefaultConfidenceLevel = 0.99

	// scaleFloor guards against zero-variance variables in the fit corpus.
	scaleFloor = 1e-8
	// eigenFloor keeps the inverse-eigenvalue weighting finite for nearly
	// degenerate retained directions.
	eigenFloor = 1e-8
)

// FitOptions tunes the offline fit.
type FitOptions struct {
	VarianceFraction float64
	ConfidenceLevel  float64
}

// Model is the immutable baseline of normal operation: centering and scaling
// parameters, a truncated orthogonal projection basis, the retained
// eigen-spectrum, and the analytic decision threshold. Replace, never mutate.
type Model struct {
	Variables  []string    `json:"variables"`
	Mean       []float64   `json:"mean"`
	Scale      []float64   `json:"scale"`
	Basis      [][]float64 `json:"basis"` // one row per retained component
	Eigen      []float64   `json:"eigen"`
	Retained   float64     `json:"retained_variance"`
	Threshold  float64     `json:"threshold"`
	Confidence float64     `json:"confidence"`
	SampleSize int         `json:"sample_size"`
	FittedAt   time.Time   `json:"fitted_at"`
}

// Fit builds a Model from a corpus of known-normal samples. The fit is
// deterministic: the same corpus and options always produce numerically
// identical parameters. Every sample must carry every variable present in
// the first one; variables are ordered lexicographically.
func Fit(corpus []models.TelemetrySample, opts FitOptions) (*Model, error) {
	if len(corpus) < 3 {
		return nil, fmt.Errorf("fit corpus needs at least 3 samples, got %d", len(corpus))
	}
	if opts.VarianceFraction <= 0 || opts.VarianceFraction > 1 {
		opts.VarianceFraction = DefaultVarianceFraction
	}
	if opts.ConfidenceLevel <= 0 || opts.ConfidenceLevel >= 1 {
		opts.ConfidenceLevel = DefaultConfidenceLevel
	}

	variables := make([]string, 0, len(corpus[0].Values))
	for name := range corpus[0].Values {
		variables = append(variables, name)
	}
	sort.Strings(variables)
	p := len(variables)
	if p == 0 {
		return nil, fmt.Errorf("fit corpus has no variables")
	}

	n := len(corpus)
	data := make([]float64, n*p)
	for i, sample := range corpus {
		for j, name := range variables {
			value, ok := sample.Values[name]
			if !ok {
				return nil, fmt.Errorf("sample seq %d missing variable %q", sample.Seq, name)
			}
			data[i*p+j] = value
		}
	}

	mean := make([]float64, p)
	scale := make([]float64, p)
	for j := 0; j < p; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += data[i*p+j]
		}
		mean[j] = sum / float64(n)

		variance := 0.0
		for i := 0; i < n; i++ {
			d := data[i*p+j] - mean[j]
			variance += d * d
		}
		variance /= float64(n - 1)
		scale[j] = math.Sqrt(variance)
		if scale[j] < scaleFloor {
			scale[j] = scaleFloor
		}
	}

	// Correlation matrix of the standardized corpus.
	corr := mat.NewSymDense(p, nil)
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				za := (data[i*p+a] - mean[a]) / scale[a]
				zb := (data[i*p+b] - mean[b]) / scale[b]
				sum += za * zb
			}
			corr.SetSym(a, b, sum/float64(n-1))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(corr, true) {
		return nil, fmt.Errorf("eigendecomposition failed")
	}
	values := eig.Values(nil) // ascending
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	total := 0.0
	for _, v := range values {
		if v > 0 {
			total += v
		}
	}
	if total <= 0 {
		return nil, fmt.Errorf("correlation matrix has no positive eigenvalues")
	}

	// Retain the largest components until the variance fraction is met.
	retained := 0.0
	k := 0
	eigenvalues := make([]float64, 0, p)
	for idx := p - 1; idx >= 0; idx-- {
		if values[idx] <= 0 {
			break
		}
		eigenvalues = append(eigenvalues, values[idx])
		retained += values[idx] / total
		k++
		if retained >= opts.VarianceFraction {
			break
		}
	}
	if k == 0 {
		return nil, fmt.Errorf("no components retained")
	}

	basis := make([][]float64, k)
	for c := 0; c < k; c++ {
		col := p - 1 - c
		row := make([]float64, p)
		for j := 0; j < p; j++ {
			row[j] = vectors.At(j, col)
		}
		basis[c] = row
	}

	threshold := distuv.ChiSquared{K: float64(k)}.Quantile(opts.ConfidenceLevel)

	return &Model{
		Variables:  variables,
		Mean:       mean,
		Scale:      scale,
		Basis:      basis,
		Eigen:      eigenvalues,
		Retained:   retained,
		Threshold:  threshold,
		Confidence: opts.ConfidenceLevel,
		SampleSize: n,
		FittedAt:   time.Now().UTC(),
	}, nil
}

// Standardize centers and scales one sample into the model's variable order.
func (m *Model) Standardize(values map[string]float64) ([]float64, error) {
	z := make([]float64, len(m.Variables))
	for j, name := range m.Variables {
		value, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("sample missing variable %q", name)
		}
		z[j] = (value - m.Mean[j]) / m.Scale[j]
	}
	return z, nil
}

// Score projects one sample onto the retained basis and returns the
// inverse-eigenvalue weighted sum of squared scores (a T²-style statistic).
func (m *Model) Score(values map[string]float64) (float64, error) {
	z, err := m.Standardize(values)
	if err != nil {
		return 0, err
	}
	score := 0.0
	for c, direction := range m.Basis {
		t := 0.0
		for j, w := range direction {
			t += w * z[j]
		}
		lambda := m.Eigen[c]
		if lambda < eigenFloor {
			lambda = eigenFloor
		}
		score += t * t / lambda
	}
	return score, nil
}

// Components returns the number of retained principal directions.
func (m *Model) Components() int { return len(m.Basis) }
