package insight

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tinytelemetry/sage/internal/model"
)

// Engine computes statistical summaries over a stream snapshot. Every
// aggregation is a pure function of the samples passed in: the engine
// keeps no incremental state between calls, and order-sensitive kinds
// sort a defensive copy, never the input.
type Engine struct {
	percentile float64 // percentile rank for the percentile kind
	window     int     // window length for the rollingWindow kind
	log        *zap.Logger
}

// NewEngine builds an Engine. Percentile must be in (0, 100] and window
// at least 1; Config validation enforces both before construction.
func NewEngine(percentile float64, window int, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{percentile: percentile, window: window, log: log}
}

// Aggregate computes the enabled kinds over the samples. Unknown kinds
// are reported and skipped; a kind that is undefined on an empty dataset
// fails the whole call with ErrEmptyDataset.
func (e *Engine) Aggregate(metric string, samples []float64, kinds []model.AggregationKind) (model.AggregationResult, error) {
	result := model.AggregationResult{Scalars: make(map[model.AggregationKind]float64, len(kinds))}

	for _, kind := range kinds {
		switch kind {
		case model.AggregationAverage:
			if len(samples) == 0 {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = stat.Mean(samples, nil)
		case model.AggregationSum:
			result.Scalars[kind] = floats.Sum(samples)
		case model.AggregationCount:
			result.Scalars[kind] = float64(len(samples))
		case model.AggregationMin:
			if len(samples) == 0 {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = floats.Min(samples)
		case model.AggregationMax:
			if len(samples) == 0 {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = floats.Max(samples)
		case model.AggregationMedian:
			v, err := median(samples)
			if err != nil {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = v
		case model.AggregationMode:
			values, err := modes(samples)
			if err != nil {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Mode = values
		case model.AggregationStdDev:
			if len(samples) == 0 {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = stat.PopStdDev(samples, nil)
		case model.AggregationPercentile:
			v, err := percentile(samples, e.percentile)
			if err != nil {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = v
		case model.AggregationRange:
			if len(samples) == 0 {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = floats.Max(samples) - floats.Min(samples)
		case model.AggregationWindow:
			result.Windows = rollingWindows(samples, e.window)
		case model.AggregationVariance:
			if len(samples) == 0 {
				return model.AggregationResult{}, e.emptyErr(kind, metric)
			}
			result.Scalars[kind] = stat.PopVariance(samples, nil)
		case model.AggregationSumOfSquares:
			result.Scalars[kind] = sumOfSquares(samples)
		default:
			e.log.Warn("unknown aggregation kind skipped",
				zap.String("kind", string(kind)),
				zap.String("metric", metric))
		}
	}

	return result, nil
}

func (e *Engine) emptyErr(kind model.AggregationKind, metric string) error {
	return fmt.Errorf("aggregate %s for %s: %w", kind, metric, ErrEmptyDataset)
}

// median returns the middle element of the sorted samples, or the mean of
// the two middle elements for even lengths. Sorting happens on a copy.
func median(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptyDataset
	}
	sorted := sortedCopy(samples)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], nil
	}
	return (sorted[mid-1] + sorted[mid]) / 2, nil
}

// modes returns every value tied for the highest frequency, ascending.
func modes(samples []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	freq := make(map[float64]int, len(samples))
	best := 0
	for _, v := range samples {
		freq[v]++
		if freq[v] > best {
			best = freq[v]
		}
	}
	var out []float64
	for v, n := range freq {
		if n == best {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out, nil
}

// percentile picks the element at rank floor(p/100 * len) of the sorted
// samples, clamped to the last index. No interpolation between ranks.
func percentile(samples []float64, p float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptyDataset
	}
	sorted := sortedCopy(samples)
	idx := int(math.Floor(p / 100 * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx], nil
}

// rollingWindows produces every contiguous window of the given length in
// arrival order: max(0, len-size+1) windows.
func rollingWindows(samples []float64, size int) [][]float64 {
	if size < 1 || len(samples) < size {
		return nil
	}
	out := make([][]float64, 0, len(samples)-size+1)
	for i := 0; i+size <= len(samples); i++ {
		window := make([]float64, size)
		copy(window, samples[i:i+size])
		out = append(out, window)
	}
	return out
}

func sumOfSquares(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return floats.Dot(samples, samples)
}

func sortedCopy(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	sort.Float64s(out)
	return out
}
