package search

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// DefaultSourceWeight applies to sources with no configured weight.
const DefaultSourceWeight = 1.0

// Fusion method names.
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Fuser combines named ranked lists into one ranking.
type Fuser interface {
	// Fuse merges the lists and returns at most topK results, best first.
	Fuse(named map[string][]ScoredCandidate, weights map[string]float64, topK int) []FusedResult

	// Method describes the fusion strategy with its parameters.
	// Two fusers with equal Method produce equal output.
	Method() string
}

// Normalizer selects per-source score rescaling before weighting.
type Normalizer string

const (
	// NormalizeNone uses raw scores; callers own scale compatibility.
	NormalizeNone Normalizer = "none"
	// NormalizeMinMax rescales each source to [0, 1].
	NormalizeMinMax Normalizer = "minmax"
)

// ParseNormalizer converts a config string. Empty means none.
func ParseNormalizer(s string) (Normalizer, error) {
	switch Normalizer(strings.ToLower(strings.TrimSpace(s))) {
	case "", NormalizeNone:
		return NormalizeNone, nil
	case NormalizeMinMax:
		return NormalizeMinMax, nil
	default:
		return "", fmt.Errorf("unknown normalization %q (valid: none, minmax)", s)
	}
}

// NewFuser creates the fuser named by method.
func NewFuser(method string, normalization Normalizer, rrfK int) (Fuser, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", FusionWeighted:
		return NewWeightedFusion(normalization), nil
	case FusionRRF:
		return NewRRFFusionWithK(rrfK), nil
	default:
		return nil, fmt.Errorf("unknown fusion method %q (valid: weighted, rrf)", method)
	}
}

// WeightedFusion sums weight * score over the sources a document appears in.
//
//	fused(d) = Σ_s weight(s) * score(s, d)
//
// Sources where d is absent contribute 0. Scores are used raw unless a
// Normalizer is configured.
type WeightedFusion struct {
	Normalization Normalizer
}

var _ Fuser = (*WeightedFusion)(nil)

// NewWeightedFusion creates a weighted-sum fuser.
func NewWeightedFusion(n Normalizer) *WeightedFusion {
	if n == "" {
		n = NormalizeNone
	}
	return &WeightedFusion{Normalization: n}
}

// Method returns "weighted" or "weighted+minmax".
func (f *WeightedFusion) Method() string {
	if f.Normalization == NormalizeMinMax {
		return FusionWeighted + "+" + string(NormalizeMinMax)
	}
	return FusionWeighted
}

// Fuse combines the lists. Sorted score descending, then document ID ascending.
func (f *WeightedFusion) Fuse(named map[string][]ScoredCandidate, weights map[string]float64, topK int) []FusedResult {
	return fuse(named, topK, func(source string, list []ScoredCandidate) []float64 {
		w := weightFor(weights, source)
		scores := make([]float64, len(list))
		for i, c := range list {
			scores[i] = c.Score
		}
		if f.Normalization == NormalizeMinMax {
			minMax(scores)
		}
		for i := range scores {
			scores[i] *= w
		}
		return scores
	})
}

// RRFFusion combines lists by rank rather than score.
//
//	RRF(d) = Σ_s weight(s) / (k + rank(s, d))
//
// rank is 1-indexed. Sources where d is absent contribute 0.
type RRFFusion struct {
	K int
}

var _ Fuser = (*RRFFusion)(nil)

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Method returns "rrf-<k>".
func (f *RRFFusion) Method() string {
	return fmt.Sprintf("%s-%d", FusionRRF, f.K)
}

// Fuse combines the lists by reciprocal rank.
func (f *RRFFusion) Fuse(named map[string][]ScoredCandidate, weights map[string]float64, topK int) []FusedResult {
	return fuse(named, topK, func(source string, list []ScoredCandidate) []float64 {
		w := weightFor(weights, source)
		scores := make([]float64, len(list))
		for i := range list {
			scores[i] = w / float64(f.K+i+1)
		}
		return scores
	})
}

// fuse accumulates per-source contributions computed by contrib.
// Sources are visited in name order so float sums are reproducible.
// A document listed twice by one source counts once, at its best position.
func fuse(named map[string][]ScoredCandidate, topK int, contrib func(source string, list []ScoredCandidate) []float64) []FusedResult {
	if topK <= 0 || len(named) == 0 {
		return []FusedResult{}
	}

	sources := make([]string, 0, len(named))
	capacity := 0
	for name, list := range named {
		sources = append(sources, name)
		capacity += len(list)
	}
	sort.Strings(sources)

	byID := make(map[string]*FusedResult, capacity)
	order := make([]string, 0, capacity)

	for _, source := range sources {
		list := named[source]
		scores := contrib(source, list)
		for i, c := range list {
			r, ok := byID[c.DocumentID]
			if !ok {
				r = &FusedResult{DocumentID: c.DocumentID, SourceScores: make(map[string]float64, len(sources))}
				byID[c.DocumentID] = r
				order = append(order, c.DocumentID)
			}
			if _, seen := r.SourceScores[source]; seen {
				continue
			}
			r.SourceScores[source] = scores[i]
			r.Score += scores[i]
		}
	}

	results := make([]FusedResult, len(order))
	for i, id := range order {
		results[i] = *byID[id]
	}
	sortFused(results)
	return truncateFused(results, topK)
}

// weightFor returns the configured weight or DefaultSourceWeight.
func weightFor(weights map[string]float64, source string) float64 {
	if w, ok := weights[source]; ok {
		return w
	}
	return DefaultSourceWeight
}

// minMax rescales scores to [0, 1] in place. A constant list maps to 1.
func minMax(scores []float64) {
	if len(scores) == 0 {
		return
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	for i, s := range scores {
		if span == 0 {
			scores[i] = 1
			continue
		}
		scores[i] = (s - lo) / span
	}
}

// candidatesToFused converts one source's raw ranking without fusion.
func candidatesToFused(list []ScoredCandidate, limit int) []FusedResult {
	out := make([]FusedResult, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, c := range list {
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		out = append(out, FusedResult{
			DocumentID:   c.DocumentID,
			Score:        c.Score,
			SourceScores: map[string]float64{c.Source: c.Score},
		})
	}
	return truncateFused(out, limit)
}
