package model

import "time"

// DailyActivations counts records acquired on one UTC day.
type DailyActivations struct {
	Date  time.Time `json:"date"`
	Count int64     `json:"count"`
}

type ActivationStatistics struct {
	TotalMachines    int64              `json:"total_machines"`
	TotalRecords     int64              `json:"total_records"`
	RecordsByProduct map[string]int64   `json:"records_by_product"`
	DailyActivations []DailyActivations `json:"daily_activations"`
}

// AverageRecordsPerMachine is zero when no machine exists yet.
func (s *ActivationStatistics) AverageRecordsPerMachine() float64 {
	if s.TotalMachines == 0 {
		return 0
	}
	return float64(s.TotalRecords) / float64(s.TotalMachines)
}
