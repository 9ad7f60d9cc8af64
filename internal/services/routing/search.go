package routing

import (
	"container/heap"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type candidate struct {
	center string
	dist   decimal.Decimal
	order  int
}

type candidateQueue []candidate

func (q candidateQueue) Len() int { return len(q) }
func (q candidateQueue) Less(i, j int) bool {
	if q[i].dist.Equal(q[j].dist) {
		return q[i].order < q[j].order
	}
	return q[i].dist.LessThan(q[j].dist)
}
func (q candidateQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *candidateQueue) Push(x any) { *q = append(*q, x.(candidate)) }
func (q *candidateQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// SearchOutward visits every center except source, nearest to source first,
// and stops at the first one for which visit returns true. It reports the
// matching center, or ok=false when all centers were exhausted.
//
// Only the nearest match is needed, so this is a best-first walk over the
// complete distance table and not a shortest-path search.
func SearchOutward(net Network, source string, visit func(center string) (bool, error)) (string, bool, error) {
	q := &candidateQueue{}
	for i, c := range net.Centers() {
		if c == source {
			continue
		}
		d, err := net.Distance(source, c)
		if err != nil {
			return "", false, errors.Wrap(err, "search outward")
		}
		heap.Push(q, candidate{center: c, dist: d, order: i})
	}

	visited := make(map[string]struct{}, q.Len())
	for q.Len() > 0 {
		c := heap.Pop(q).(candidate)
		if _, ok := visited[c.center]; ok {
			continue
		}
		visited[c.center] = struct{}{}

		found, err := visit(c.center)
		if err != nil {
			return "", false, err
		}
		if found {
			return c.center, true, nil
		}
	}
	return "", false, nil
}
