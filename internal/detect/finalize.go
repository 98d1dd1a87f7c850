package detect

import "sort"

// Finalize orders kept candidates by confidence, caps them at maxDet (when
// positive) and converts them to predictions. Labels are attached when given.
func Finalize(candidates []Candidate, maxDet int, labels []string) []Prediction {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if maxDet > 0 && len(sorted) > maxDet {
		sorted = sorted[:maxDet]
	}

	predictions := make([]Prediction, 0, len(sorted))
	for _, c := range sorted {
		conf := widen(c.Score)
		p := Prediction{
			XYXY:       c.Box.xyxy(),
			Confidence: &conf,
		}
		if c.HasClass {
			class := c.Class
			p.Class = &class
			if len(labels) > 0 {
				p.Name = Label(labels, class)
			}
		}
		predictions = append(predictions, p)
	}
	return predictions
}

// GroupByClass returns candidate indices bucketed by class, in first-seen
// class order, so suppression can run per class. Candidates without a class
// share one bucket.
func GroupByClass(candidates []Candidate) [][]int {
	var order []int
	buckets := map[int][]int{}
	for i, c := range candidates {
		key := -1
		if c.HasClass {
			key = c.Class
		}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], i)
	}
	groups := make([][]int, 0, len(order))
	for _, k := range order {
		groups = append(groups, buckets[k])
	}
	return groups
}
