package timing

// Range is a closed interval in seconds
type Range struct {
	Min float64
	Max float64
}

// Profile weights the behaviors a human reader alternates between
type Profile struct {
	MinDelay float64
	MaxDelay float64

	ProbQuickScan   float64
	ProbReading     float64
	ProbDistraction float64

	QuickScan   Range
	Reading     Range
	Distraction Range

	// Seconds, indexed by attempt
	Backoff429 []float64
	Backoff403 Range
	Backoff5xx Range
	// Any other error status
	BackoffOther Range
}

// DefaultProfile is used for sources without a dedicated profile
func DefaultProfile() Profile {
	return Profile{
		MinDelay:        2,
		MaxDelay:        5,
		ProbQuickScan:   0.10,
		ProbReading:     0.20,
		ProbDistraction: 0.05,
		QuickScan:       Range{0.8, 1.5},
		Reading:         Range{5, 12},
		Distraction:     Range{15, 45},
		Backoff429:      []float64{30, 60, 120, 240, 300},
		Backoff403:      Range{60, 180},
		Backoff5xx:      Range{5, 15},
		BackoffOther:    Range{10, 30},
	}
}

// ProfileFor returns the timing profile of a source
func ProfileFor(source string) Profile {
	p := DefaultProfile()
	switch source {
	case "pap":
		p.MinDelay, p.MaxDelay = 2, 4
		p.ProbReading = 0.15
		p.ProbDistraction = 0.03
	case "paruvendu", "entreparticuliers":
		p.MinDelay, p.MaxDelay = 2, 4
		p.ProbReading = 0.15
	case "leboncoin":
		// heavily monitored
		p.MinDelay, p.MaxDelay = 3, 7
		p.ProbReading = 0.25
		p.ProbDistraction = 0.10
		p.Backoff429 = []float64{60, 120, 240, 300, 600}
	case "figaro", "moteurimmo":
		p.MinDelay, p.MaxDelay = 2.5, 5
		p.ProbReading = 0.20
	}
	return p
}
