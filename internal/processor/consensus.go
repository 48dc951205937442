package processor

// Tally counts validated candidates across attempts.
type Tally struct {
	counts map[string]int
	order  []string
	total  int
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[string]int)}
}

// Add records one observation of each candidate.
func (t *Tally) Add(candidates ...string) {
	for _, c := range candidates {
		if _, seen := t.counts[c]; !seen {
			t.order = append(t.order, c)
		}
		t.counts[c]++
		t.total++
	}
}

// Total is the number of observations recorded.
func (t *Tally) Total() int {
	return t.total
}

// Count returns how many times c was observed.
func (t *Tally) Count(c string) int {
	return t.counts[c]
}

// Winner returns the most frequent candidate and its share of all
// observations as a percentage. Ties go to the candidate seen first.
// An empty tally yields ("", 0).
func (t *Tally) Winner() (string, float64) {
	if t.total == 0 {
		return "", 0
	}
	best, bestCount := "", 0
	for _, c := range t.order {
		if n := t.counts[c]; n > bestCount {
			best, bestCount = c, n
		}
	}
	return best, float64(bestCount) / float64(t.total) * 100
}
