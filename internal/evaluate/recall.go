package evaluate

// Recall is |set(approx) ∩ set(reference)| / |set(reference)|, and 0 for an
// empty reference.
func Recall(approx, reference []int64) float64 {
	ref := make(map[int64]struct{}, len(reference))
	for _, id := range reference {
		ref[id] = struct{}{}
	}
	if len(ref) == 0 {
		return 0
	}

	hits := 0
	seen := make(map[int64]struct{}, len(approx))
	for _, id := range approx {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := ref[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(ref))
}

// Accumulator holds the running sums of an evaluation.
type Accumulator struct {
	Processed    int
	RecallSum    float64
	ANNSeconds   float64
	ExactSeconds float64
}

// Means are per-query averages over the processed count.
type Means struct {
	Recall       float64
	ANNSeconds   float64
	ExactSeconds float64
}

// Add records one processed query.
func (a *Accumulator) Add(recall, annSeconds, exactSeconds float64) {
	a.Processed++
	a.RecallSum += recall
	a.ANNSeconds += annSeconds
	a.ExactSeconds += exactSeconds
}

// Means averages over the queries actually processed; all zero when none were.
func (a Accumulator) Means() Means {
	if a.Processed == 0 {
		return Means{}
	}
	n := float64(a.Processed)
	return Means{
		Recall:       a.RecallSum / n,
		ANNSeconds:   a.ANNSeconds / n,
		ExactSeconds: a.ExactSeconds / n,
	}
}

// Speedup is mean exact latency over mean approximate latency, 0 when the
// approximate mean is 0.
func (a Accumulator) Speedup() float64 {
	m := a.Means()
	if m.ANNSeconds <= 0 {
		return 0
	}
	return m.ExactSeconds / m.ANNSeconds
}
