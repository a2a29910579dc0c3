package analytics

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ShapeClusterer groups markets by the min-max normalized shape of their
// price curves using k-means.
type ShapeClusterer struct {
	K       int
	Seed    uint64
	NInit   int
	MaxIter int
	Tol     float64
}

// NewShapeClusterer returns a clusterer with three groups and fixed seeding.
func NewShapeClusterer() *ShapeClusterer {
	return &ShapeClusterer{K: 3, Seed: 42, NInit: 10, MaxIter: 300, Tol: 1e-4}
}

// Cluster assigns every market a label in [0, K). Labels are numbered by
// first appearance in input order.
func (c *ShapeClusterer) Cluster(series []PriceSeries) (ClusterAssignment, error) {
	if c.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrClusterPrecondition)
	}
	if len(series) < c.K {
		return nil, fmt.Errorf("%w: %d markets for %d clusters", ErrClusterPrecondition, len(series), c.K)
	}
	seen := make(map[string]struct{}, len(series))
	for _, s := range series {
		if _, dup := seen[s.MarketID]; dup {
			return nil, fmt.Errorf("%w: duplicate market %s", ErrClusterPrecondition, s.MarketID)
		}
		seen[s.MarketID] = struct{}{}
	}
	if err := sameDateIndex(series); err != nil {
		return nil, err
	}

	data := make([][]float64, len(series))
	for i, s := range series {
		data[i] = minMax(s.Prices())
	}

	labels := c.kmeans(data)
	out := make(ClusterAssignment, len(series))
	canonical := make(map[int]int, c.K)
	for i, s := range series {
		l, ok := canonical[labels[i]]
		if !ok {
			l = len(canonical)
			canonical[labels[i]] = l
		}
		out[s.MarketID] = l
	}
	return out, nil
}

func sameDateIndex(series []PriceSeries) error {
	ref := series[0]
	if ref.Len() == 0 {
		return fmt.Errorf("%w: %s has no observations", ErrClusterPrecondition, ref.MarketID)
	}
	for _, s := range series[1:] {
		if s.Len() != ref.Len() {
			return fmt.Errorf("%w: %s has %d dates, %s has %d",
				ErrClusterPrecondition, s.MarketID, s.Len(), ref.MarketID, ref.Len())
		}
		for i, p := range s.Points {
			if !p.Date.Equal(ref.Points[i].Date) {
				return fmt.Errorf("%w: %s and %s differ at %s",
					ErrClusterPrecondition, s.MarketID, ref.MarketID, ref.Points[i].Date.Format("2006-01-02"))
			}
		}
	}
	return nil
}

// minMax rescales v onto [0, 1]. A constant input maps to all zeros.
func minMax(v []float64) []float64 {
	out := make([]float64, len(v))
	lo, hi := floats.Min(v), floats.Max(v)
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, x := range v {
		out[i] = (x - lo) / span
	}
	return out
}

func (c *ShapeClusterer) kmeans(data [][]float64) []int {
	rng := rand.New(rand.NewPCG(c.Seed, uint64(c.K)))
	tol := c.Tol * meanVariance(data)

	var best []int
	bestInertia := math.Inf(1)
	for range max(c.NInit, 1) {
		centers := c.seedCenters(data, rng)
		labels, inertia := c.lloyd(data, centers, tol)
		if inertia < bestInertia {
			best, bestInertia = labels, inertia
		}
	}
	return best
}

// seedCenters picks initial centers with k-means++.
func (c *ShapeClusterer) seedCenters(data [][]float64, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, c.K)
	centers = append(centers, clone(data[rng.IntN(len(data))]))

	d2 := make([]float64, len(data))
	for len(centers) < c.K {
		for i, x := range data {
			d2[i] = math.Inf(1)
			for _, ctr := range centers {
				d2[i] = math.Min(d2[i], sqDist(x, ctr))
			}
		}
		total := floats.Sum(d2)
		next := rng.IntN(len(data))
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range d2 {
				target -= w
				if target <= 0 && w > 0 {
					next = i
					break
				}
			}
		}
		centers = append(centers, clone(data[next]))
	}
	return centers
}

func (c *ShapeClusterer) lloyd(data [][]float64, centers [][]float64, tol float64) ([]int, float64) {
	labels := make([]int, len(data))
	dim := len(data[0])
	iters := max(c.MaxIter, 1)
	for range iters {
		assign(data, centers, labels)

		next := make([][]float64, len(centers))
		counts := make([]int, len(centers))
		for k := range next {
			next[k] = make([]float64, dim)
		}
		for i, x := range data {
			floats.Add(next[labels[i]], x)
			counts[labels[i]]++
		}
		var shift float64
		for k := range next {
			if counts[k] == 0 {
				copy(next[k], centers[k])
				continue
			}
			floats.Scale(1/float64(counts[k]), next[k])
			shift += sqDist(next[k], centers[k])
		}
		centers = next
		if shift <= tol {
			break
		}
	}
	inertia := assign(data, centers, labels)
	return labels, inertia
}

// assign labels each point with its nearest center and returns the inertia.
func assign(data, centers [][]float64, labels []int) float64 {
	var inertia float64
	for i, x := range data {
		best, bestD := 0, math.Inf(1)
		for k, ctr := range centers {
			if d := sqDist(x, ctr); d < bestD {
				best, bestD = k, d
			}
		}
		labels[i] = best
		inertia += bestD
	}
	return inertia
}

func meanVariance(data [][]float64) float64 {
	dim := len(data[0])
	col := make([]float64, len(data))
	var total float64
	for j := range dim {
		for i := range data {
			col[i] = data[i][j]
		}
		_, v := stat.PopMeanVariance(col, nil)
		total += v
	}
	return total / float64(dim)
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
