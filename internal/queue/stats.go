package queue

import "math"

// Stats holds job counts per state, optionally scoped to a session.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// TotalJobs is the number of jobs across all states.
func (s Stats) TotalJobs() int {
	return s.Waiting + s.Active + s.Completed + s.Failed
}

// IsProcessingComplete is true when nothing is waiting or running.
func (s Stats) IsProcessingComplete() bool {
	return s.Waiting == 0 && s.Active == 0
}

// Progress is the completed share of all jobs as a rounded percentage.
func (s Stats) Progress() int {
	total := s.TotalJobs()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(s.Completed) / float64(total) * 100))
}

func (s *Stats) add(state State, n int) {
	switch state {
	case StateWaiting:
		s.Waiting += n
	case StateActive:
		s.Active += n
	case StateCompleted:
		s.Completed += n
	case StateFailed:
		s.Failed += n
	}
}
