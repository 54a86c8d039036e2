package dedup

import (
	"context"
	"fmt"
	"sort"
)

// Member is one record of a cluster with its similarity confidence.
type Member struct {
	StudyID int64   `json:"id"`
	Score   float64 `json:"score"`
}

// Cluster is a group of records the matcher considers the same work.
type Cluster struct {
	Members []Member `json:"members"`
}

// Matcher clusters a review's records. It must be deterministic for
// identical input and model state.
type Matcher interface {
	Cluster(ctx context.Context, reviewID int64, records []Record) ([]Cluster, error)
}

// BuiltinConfig holds the built-in matcher settings.
type BuiltinConfig struct {
	// Threshold is the minimum pair similarity for two records to share a cluster.
	Threshold float64
	// CandidatesPerRecord is the number of nearest neighbours scored per record.
	CandidatesPerRecord int
}

// Compile-time check that BuiltinMatcher implements Matcher.
var _ Matcher = (*BuiltinMatcher)(nil)

// BuiltinMatcher blocks candidate pairs through a CandidateIndex over title
// embeddings, scores them with Similarity and links pairs above the
// threshold with union-find. Records sharing a DOI are always linked.
type BuiltinMatcher struct {
	embedder TextEmbedder
	index    CandidateIndex
	cfg      BuiltinConfig
}

// NewBuiltinMatcher creates a new BuiltinMatcher.
func NewBuiltinMatcher(embedder TextEmbedder, index CandidateIndex, cfg BuiltinConfig) *BuiltinMatcher {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.85
	}
	if cfg.CandidatesPerRecord <= 0 {
		cfg.CandidatesPerRecord = 10
	}
	return &BuiltinMatcher{embedder: embedder, index: index, cfg: cfg}
}

// Cluster groups records into clusters of two or more members, ordered by
// their lowest study ID.
func (m *BuiltinMatcher) Cluster(ctx context.Context, reviewID int64, records []Record) ([]Cluster, error) {
	byID := make(map[int64]Record, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if _, dup := byID[r.StudyID]; dup {
			return nil, fmt.Errorf("record %d submitted twice", r.StudyID)
		}
		byID[r.StudyID] = r
		ids = append(ids, r.StudyID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	uf := newUnionFind()
	best := make(map[int64]float64)
	link := func(a, b int64, score float64) {
		uf.union(a, b)
		best[a] = max(best[a], score)
		best[b] = max(best[b], score)
	}

	byDOI := make(map[string]int64)
	for _, id := range ids {
		doi := byID[id].DOI
		if doi == "" {
			continue
		}
		if first, ok := byDOI[doi]; ok {
			link(first, id, 1)
			continue
		}
		byDOI[doi] = id
	}

	vectors := make(map[int64][]float32, len(ids))
	for _, id := range ids {
		vec, err := m.embedder.EmbedText(ctx, byID[id].Title)
		if err != nil {
			return nil, fmt.Errorf("embed record %d: %w", id, err)
		}
		if vec != nil {
			vectors[id] = vec
		}
	}
	if err := m.index.Build(ctx, reviewID, vectors); err != nil {
		return nil, err
	}

	type pair struct{ a, b int64 }
	scored := make(map[pair]bool)
	for _, id := range ids {
		vec, ok := vectors[id]
		if !ok {
			continue
		}
		// One extra neighbour because the record finds itself.
		neighbours, err := m.index.Nearest(ctx, reviewID, vec, m.cfg.CandidatesPerRecord+1)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbours {
			other, known := byID[n]
			if !known || n == id {
				continue
			}
			p := pair{min(id, n), max(id, n)}
			if scored[p] {
				continue
			}
			scored[p] = true
			if s := Similarity(byID[id], other); s >= m.cfg.Threshold {
				link(id, n, s)
			}
		}
	}

	groups := make(map[int64][]int64)
	for _, id := range ids {
		if _, linked := best[id]; !linked {
			continue
		}
		root := uf.find(id)
		groups[root] = append(groups[root], id)
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, members := range groups {
		c := Cluster{Members: make([]Member, len(members))}
		for i, id := range members {
			c.Members[i] = Member{StudyID: id, Score: best[id]}
		}
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Members[0].StudyID < clusters[j].Members[0].StudyID
	})
	return clusters, nil
}

// unionFind is a disjoint-set forest over study IDs.
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) find(x int64) int64 {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

// union links the sets of a and b, keeping the lower root.
func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
