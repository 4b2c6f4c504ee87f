package entropy

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Edge is one directed transfer-entropy estimate.
type Edge struct {
	Src   string  `json:"src"`
	Dst   string  `json:"dst"`
	Score float64 `json:"score"`
}

// Key renders the edge as "src->dst".
func (e Edge) Key() string { return EdgeKey(e.Src, e.Dst) }

// EdgeKey renders a directed pair as "src->dst".
func EdgeKey(src, dst string) string { return fmt.Sprintf("%s->%s", src, dst) }

// Graph is an immutable set of edges built in one pass.
type Graph struct {
	Edges []Edge
}

// Map returns the graph keyed by "src->dst".
func (g *Graph) Map() map[string]float64 {
	if g == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(g.Edges))
	for _, e := range g.Edges {
		out[e.Key()] = e.Score
	}
	return out
}

// Mean returns the average edge score, 0 for an empty graph.
func (g *Graph) Mean() float64 {
	if g == nil || len(g.Edges) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range g.Edges {
		sum += e.Score
	}
	return sum / float64(len(g.Edges))
}

// GraphOptions controls graph construction.
type GraphOptions struct {
	// Bidirectional also estimates dst->src for every pair.
	Bidirectional bool
	// Workers caps concurrent estimator calls; 0 means unlimited.
	Workers int
}

// Graph estimates edges over every pair of named series. Names are sorted and
// for i<j the edge names[i]->names[j] is Score(series[i], series[j]); with
// Bidirectional the reverse is added too. The returned graph is complete or nil.
func (e Engine) Graph(ctx context.Context, series map[string][]float64, opts GraphOptions) (*Graph, error) {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	var jobs []Edge
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			jobs = append(jobs, Edge{Src: names[i], Dst: names[j]})
			if opts.Bidirectional {
				jobs = append(jobs, Edge{Src: names[j], Dst: names[i]})
			}
		}
	}

	edges := make([]Edge, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			job.Score = e.Score(series[job.Src], series[job.Dst])
			edges[i] = job
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("transfer entropy graph: %w", err)
	}
	return &Graph{Edges: edges}, nil
}
