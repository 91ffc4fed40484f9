package services

import (
	"sort"

	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/logger"
)

// Cluster is one candidate group of answers. Representatives are the members
// closest to the centroid, in ascending distance with ties broken by lowest
// answer id, so repeated runs over the same vectors pick the same answers.
type Cluster struct {
	ID              int
	MemberIDs       []uuid.UUID
	Centroid        []float32
	Representatives []uuid.UUID
}

type ClusteringResult struct {
	Clusters []Cluster
	Noise    []uuid.UUID
}

// ClusteringEngine groups answer vectors with a density-based method. Density
// is used instead of a centroid method because the number of natural groups
// is unknown up front and off-topic answers must land in noise, not be forced
// into a nearest cluster.
type ClusteringEngine interface {
	Cluster(vectors []AnswerVector, cfg AlgorithmConfig) (*ClusteringResult, error)
}

type clusteringEngine struct {
	log *logger.Logger
}

func NewClusteringEngine(baseLog *logger.Logger) ClusteringEngine {
	return &clusteringEngine{log: baseLog.With("service", "ClusteringEngine")}
}

func (e *clusteringEngine) Cluster(vectors []AnswerVector, cfg AlgorithmConfig) (*ClusteringResult, error) {
	eligible := make([]AnswerVector, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Vector) > 0 {
			eligible = append(eligible, v)
		}
	}

	minClusterSize := cfg.MinClusterSize
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	minSamples := cfg.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	eps := cfg.Epsilon
	if eps <= 0 {
		eps = 0.35
	}

	if len(eligible) < minClusterSize {
		return nil, NewClusteringError("insufficient data: %d eligible answers, need at least %d", len(eligible), minClusterSize)
	}

	// Stable input order regardless of caller ordering.
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].AnswerID.String() < eligible[j].AnswerID.String()
	})

	labels := dbscan(eligible, eps, minSamples)

	byLabel := map[int][]int{}
	for i, lb := range labels {
		byLabel[lb] = append(byLabel[lb], i)
	}

	result := &ClusteringResult{}
	labelIDs := make([]int, 0, len(byLabel))
	for lb := range byLabel {
		if lb >= 0 {
			labelIDs = append(labelIDs, lb)
		}
	}
	sort.Ints(labelIDs)

	nextID := 0
	for _, lb := range labelIDs {
		members := byLabel[lb]
		if len(members) < minClusterSize {
			// Sub-threshold groups dissolve into noise rather than surviving as
			// tiny codes.
			for _, idx := range members {
				result.Noise = append(result.Noise, eligible[idx].AnswerID)
			}
			continue
		}

		memberIDs := make([]uuid.UUID, 0, len(members))
		memberVecs := make([][]float32, 0, len(members))
		for _, idx := range members {
			memberIDs = append(memberIDs, eligible[idx].AnswerID)
			memberVecs = append(memberVecs, eligible[idx].Vector)
		}
		center := centroid(memberVecs)

		cl := Cluster{
			ID:        nextID,
			MemberIDs: memberIDs,
			Centroid:  center,
		}
		cl.Representatives = pickRepresentatives(memberIDs, memberVecs, center, cfg.RepresentativeCount)
		result.Clusters = append(result.Clusters, cl)
		nextID++
	}

	for _, idx := range byLabel[-1] {
		result.Noise = append(result.Noise, eligible[idx].AnswerID)
	}
	sort.Slice(result.Noise, func(i, j int) bool {
		return result.Noise[i].String() < result.Noise[j].String()
	})

	if len(result.Clusters) == 0 {
		return nil, NewClusteringError("no cluster reached min_cluster_size=%d (%d answers, all noise)", minClusterSize, len(eligible))
	}

	e.log.Debug("Clustering finished",
		"eligible", len(eligible),
		"clusters", len(result.Clusters),
		"noise", len(result.Noise),
	)
	return result, nil
}

// dbscan labels each point with a cluster id or -1 for noise. Neighborhood
// membership uses cosine distance <= eps; expansion order is the stable input
// order, which makes the labeling deterministic.
func dbscan(points []AnswerVector, eps float64, minSamples int) []int {
	const (
		unvisited = -2
		noise     = -1
	)

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighborsOf := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if cosineDistance(points[i].Vector, points[j].Vector) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	clusterID := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		neighbors := neighborsOf(i)
		if len(neighbors)+1 < minSamples {
			labels[i] = noise
			continue
		}

		labels[i] = clusterID
		queue := append([]int(nil), neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == noise {
				labels[j] = clusterID
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			jNeighbors := neighborsOf(j)
			if len(jNeighbors)+1 >= minSamples {
				queue = append(queue, jNeighbors...)
			}
		}
		clusterID++
	}

	return labels
}

func pickRepresentatives(memberIDs []uuid.UUID, memberVecs [][]float32, center []float32, count int) []uuid.UUID {
	if count <= 0 {
		count = 5
	}
	type scored struct {
		id   uuid.UUID
		dist float64
	}
	items := make([]scored, 0, len(memberIDs))
	for i, id := range memberIDs {
		items = append(items, scored{id: id, dist: cosineDistance(memberVecs[i], center)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].id.String() < items[j].id.String()
	})
	if count > len(items) {
		count = len(items)
	}
	out := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, items[i].id)
	}
	return out
}
