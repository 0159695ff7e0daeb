package reduce

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Linkage selects how the distance between two clusters is derived from the
// distances between their members.
type Linkage int

const (
	CompleteLinkage Linkage = iota
	AverageLinkage
	SingleLinkage
)

type node struct {
	left, right int // child node ids, -1 for leaves
	leaf        int
}

// ClusterOrder performs agglomerative clustering of the rows of x under the
// euclidean metric and returns the leaf order of the resulting dendrogram,
// as drawn along a clustered heatmap axis.
func ClusterOrder(x mat.Matrix, linkage Linkage) []int {
	n, _ := x.Dims()
	if n == 0 {
		return nil
	}
	sq := squaredDistances(x)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = math.Sqrt(sq[i][j])
		}
	}

	nodes := make([]node, n, 2*n-1)
	size := make([]int, n, 2*n-1)
	for i := range nodes {
		nodes[i] = node{left: -1, right: -1, leaf: i}
		size[i] = 1
	}
	// active maps a slot in dist to the node id currently held there
	active := make([]int, n)
	alive := make([]bool, n)
	for i := range active {
		active[i] = i
		alive[i] = true
	}

	for merges := 0; merges < n-1; merges++ {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && dist[i][j] < best {
					best, bi, bj = dist[i][j], i, j
				}
			}
		}
		left, right := active[bi], active[bj]
		if left > right {
			left, right = right, left
		}
		id := len(nodes)
		nodes = append(nodes, node{left: left, right: right, leaf: -1})
		si, sj := size[active[bi]], size[active[bj]]
		size = append(size, si+sj)

		for k := 0; k < n; k++ {
			if !alive[k] || k == bi || k == bj {
				continue
			}
			var d float64
			switch linkage {
			case SingleLinkage:
				d = math.Min(dist[bi][k], dist[bj][k])
			case AverageLinkage:
				d = (float64(si)*dist[bi][k] + float64(sj)*dist[bj][k]) / float64(si+sj)
			default:
				d = math.Max(dist[bi][k], dist[bj][k])
			}
			dist[bi][k], dist[k][bi] = d, d
		}
		active[bi] = id
		alive[bj] = false
	}

	order := make([]int, 0, n)
	var walk func(id int)
	walk = func(id int) {
		nd := nodes[id]
		if nd.leaf >= 0 {
			order = append(order, nd.leaf)
			return
		}
		walk(nd.left)
		walk(nd.right)
	}
	walk(len(nodes) - 1)
	return order
}
