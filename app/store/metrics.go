package store

import (
	"math"
	"time"
)

// Metrics holds aggregate statistics derived from a job collection. Values
// are recomputed from the input list on every call, nothing is cached.
type Metrics struct {
	TotalApplications  int            `json:"total_applications"`
	ConversionRate     float64        `json:"conversion_rate"` // percent, one decimal place
	AvgResponseDays    int            `json:"avg_response_days"`
	ActiveApplications int            `json:"active_applications"`
	StatusDistribution map[string]int `json:"status_distribution"`
}

// CalcMetrics folds the given list into aggregate statistics. The list is
// expected to be pre-filtered by date range, see FilterByRange. Pure function,
// no store access.
func CalcMetrics(jobs []JobRecord, now time.Time) Metrics {
	res := Metrics{StatusDistribution: make(map[string]int, len(statusNames))}
	for _, st := range AllStatuses() {
		res.StatusDistribution[st.String()] = 0
	}

	var accepted, responseCount int
	var responseDays float64

	for _, j := range jobs {
		res.StatusDistribution[j.Status.String()]++

		switch j.Status {
		case StatusApplied, StatusInterviewing, StatusAccepted, StatusRejected:
			res.TotalApplications++
		}
		if j.Status == StatusApplied || j.Status == StatusInterviewing {
			res.ActiveApplications++
		}
		if j.Status == StatusAccepted {
			accepted++
		}
		if !j.DateApplied.IsZero() && j.Status != StatusBookmarked {
			responseDays += now.Sub(j.DateApplied).Hours() / 24
			responseCount++
		}
	}

	if res.TotalApplications > 0 {
		rate := float64(accepted) / float64(res.TotalApplications) * 100
		res.ConversionRate = math.Round(rate*10) / 10
	}
	if responseCount > 0 {
		res.AvgResponseDays = int(math.Round(responseDays / float64(responseCount)))
	}
	return res
}

// FilterByRange returns the records saved within [from, to]. Zero bounds are
// open ended.
func FilterByRange(jobs []JobRecord, from, to time.Time) []JobRecord {
	res := make([]JobRecord, 0, len(jobs))
	for _, j := range jobs {
		if !from.IsZero() && j.DateSaved.Before(from) {
			continue
		}
		if !to.IsZero() && j.DateSaved.After(to) {
			continue
		}
		res = append(res, j)
	}
	return res
}
