package reconcile

import (
	"sort"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

type orderTally struct {
	orderID int
	sum     float64
	count   int
}

func (t orderTally) avg() float64 {
	return t.sum / float64(t.count)
}

// Pick chooses the single order a receipt most likely belongs to.
//
// Matched lines are grouped by their best order and ranked by mean score.
// The top order is accepted only if its coverage, mean score and lead over
// the runner-up order all clear their thresholds. With a single matched
// order the runner-up mean counts as zero. On rejection the metrics are
// still returned.
func (e *Engine) Pick(assignments []models.LineAssignment) models.OrderPickResult {
	var tallies []orderTally
	index := make(map[int]int)

	for _, a := range assignments {
		if a.Best == nil {
			continue
		}
		i, ok := index[a.Best.OrderID]
		if !ok {
			i = len(tallies)
			index[a.Best.OrderID] = i
			tallies = append(tallies, orderTally{orderID: a.Best.OrderID})
		}
		tallies[i].sum += float64(a.Best.Score)
		tallies[i].count++
	}

	if len(tallies) == 0 {
		return models.OrderPickResult{}
	}

	sort.SliceStable(tallies, func(i, j int) bool {
		return tallies[i].avg() > tallies[j].avg()
	})

	top := tallies[0]
	secondAvg := 0.0
	if len(tallies) > 1 {
		secondAvg = tallies[1].avg()
	}

	res := models.OrderPickResult{
		Coverage:      float64(top.count) / float64(max(1, len(assignments))),
		AvgScore:      top.avg(),
		SecondBestGap: top.avg() - secondAvg,
	}
	if res.Coverage >= e.opts.MinCoverage &&
		res.AvgScore >= e.opts.MinAvgScore &&
		res.SecondBestGap >= e.opts.MinGap {
		id := top.orderID
		res.OrderID = &id
	}
	return res
}
