package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrgID identifies the organization scope of a call. It is always passed
// explicitly; there is no ambient organization context.
type OrgID int64

// DataType classifies market data entities.
type DataType string

const (
	DataTypePrice      DataType = "price"
	DataTypeFXRate     DataType = "fx_rate"
	DataTypeYieldCurve DataType = "yield_curve"
	DataTypeIndexValue DataType = "index_value"
)

// SelectionReason records why an observation became canonical.
type SelectionReason string

const (
	// SelectionAutoPolicy means the priority policy selected the winner.
	SelectionAutoPolicy SelectionReason = "auto_policy"
	// SelectionManualOverride means an operator selected the observation
	// explicitly. Automatic passes must not silently replace it.
	SelectionManualOverride SelectionReason = "manual_override"
	// SelectionOnlyAvailable means exactly one eligible observation existed.
	SelectionOnlyAvailable SelectionReason = "only_available"
)

// Observation is one source's reported value for an entity on a date.
// Observations are immutable; a correction is a new observation with a
// higher revision, never an edit.
type Observation struct {
	ID         uuid.UUID       `json:"id"`
	OrgID      OrgID           `json:"org_id"`
	DataType   DataType        `json:"data_type"`
	EntityKey  string          `json:"entity_key"` // instrument ID, "EUR/XAF" pair, curve tenor key, index code
	Date       time.Time       `json:"date"`
	SourceCode string          `json:"source_code"`
	Value      decimal.Decimal `json:"value"`
	Revision   int             `json:"revision"`
	ObservedAt time.Time       `json:"observed_at"`
}

// CanonicalRecord is the single authoritative value per (entity, date).
// Created and replaced only by the canonicalization engine.
type CanonicalRecord struct {
	OrgID                  OrgID           `json:"org_id"`
	DataType               DataType        `json:"data_type"`
	EntityKey              string          `json:"entity_key"`
	Date                   time.Time       `json:"date"`
	Value                  decimal.Decimal `json:"value"`
	ChosenSource           string          `json:"chosen_source"`
	ObservationID          uuid.UUID       `json:"observation_id"`
	SelectionReason        SelectionReason `json:"selection_reason"`
	SelectedAt             time.Time       `json:"selected_at"`
	IsOfficialSource       bool            `json:"is_official_source"`
	PublicationDateAssumed bool            `json:"publication_date_assumed"`
}

// Source is a registered market data source with its global priority.
// Lower priority number means higher priority.
type Source struct {
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	Priority   int        `json:"priority"`
	DataTypes  []DataType `json:"data_types"`
	IsActive   bool       `json:"is_active"`
	IsOfficial bool       `json:"is_official"` // designated official publisher, e.g. a central bank feed
}

// Supports reports whether the source provides the given data type.
func (s Source) Supports(dt DataType) bool {
	for _, d := range s.DataTypes {
		if d == dt {
			return true
		}
	}
	return false
}

// SourcePriority is one entry of a resolved ranking.
type SourcePriority struct {
	SourceCode string
	Priority   int
}
