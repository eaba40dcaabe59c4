package model

// RawRecord is one inventory record as supplied by the ingestion collaborator
// (spreadsheet row, CSV line, database row). The engine is agnostic to its
// origin.
type RawRecord struct {
	Item           string  `json:"item"`
	InitialBalance float64 `json:"initial_balance"`
	Incoming       float64 `json:"incoming"`
	Outgoing       float64 `json:"outgoing"`
	FinalBalance   float64 `json:"final_balance"`
	StorageDays    int     `json:"storage_days"`
	SurplusRate    float64 `json:"surplus_rate"`

	// IncompletePeriod marks a record whose boundaries are not both genuine
	// inventory counts (unaccounted movement in between).
	IncompletePeriod bool `json:"incomplete_period,omitempty"`

	// Preliminary marks a record with only the start boundary known. For such
	// records StorageDays holds the elapsed days so far and FinalBalance and
	// Outgoing are ignored.
	Preliminary bool `json:"preliminary,omitempty"`
}

// QualityAnnotation scores a record's trustworthiness and period completeness.
type QualityAnnotation struct {
	InventoryConfidence   float64 `json:"inventory_confidence"`
	IsValidPeriod         bool    `json:"is_valid_period"`
	IsPreliminary         bool    `json:"is_preliminary"`
	HumanErrorProbability float64 `json:"human_error_probability"`
	ManualReviewRequired  bool    `json:"manual_review_required"`
}

// Observation is one validated inventory-to-inventory interval for one item.
// Created per input record, consumed immediately, never mutated.
type Observation struct {
	Item              string            `json:"item"`
	Category          Category          `json:"category"`
	InitialBalance    float64           `json:"initial_balance"`
	CorrectedIncoming float64           `json:"corrected_incoming"`
	Outgoing          float64           `json:"outgoing"`
	FinalBalance      float64           `json:"final_balance"`
	ExpectedBalance   float64           `json:"expected_balance"`
	StorageDays       int               `json:"storage_days"`
	SurplusRate       float64           `json:"surplus_rate"`
	Quality           QualityAnnotation `json:"quality"`

	// ShrinkageAmount and ObservedRate are undefined for preliminary
	// observations (Quality.IsPreliminary).
	ShrinkageAmount float64 `json:"shrinkage_amount"`
	ObservedRate    float64 `json:"observed_rate"` // clamped to [0,1]

	// RawRate is the observed rate before clamping; negative values signal a
	// recorded surplus the model cannot explain.
	RawRate float64 `json:"raw_rate"`
}

// Clamp01 clamps v to the [0,1] interval.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
