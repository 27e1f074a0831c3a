package astro

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ImpactCategory buckets a potential impact by the scale of its effects.
type ImpactCategory string

const (
	ImpactLocal    ImpactCategory = "local"
	ImpactRegional ImpactCategory = "regional"
	ImpactGlobal   ImpactCategory = "global"
)

// IsValid reports whether c is one of the three recognized categories.
func (c ImpactCategory) IsValid() bool {
	switch c {
	case ImpactLocal, ImpactRegional, ImpactGlobal:
		return true
	}
	return false
}

// Threat level names derived from the Torino and Palermo scales.
const (
	ThreatLevelZero     = "zero"
	ThreatLevelVeryLow  = "very low"
	ThreatLevelLow      = "low"
	ThreatLevelMedium   = "medium"
	ThreatLevelElevated = "elevated"
	ThreatLevelHigh     = "high"
	ThreatLevelCritical = "critical"
)

// YearList is a list of potential impact years, stored as a JSON array so
// it round-trips identically on every supported backend.
type YearList []int

// Value implements driver.Valuer.
func (y YearList) Value() (driver.Value, error) {
	if y == nil {
		y = YearList{}
	}
	return json.Marshal(y)
}

// Scan implements sql.Scanner.
func (y *YearList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*y = nil
		return nil
	case []byte:
		if len(v) == 0 {
			*y = nil
			return nil
		}
		return json.Unmarshal(v, y)
	case string:
		if v == "" {
			*y = nil
			return nil
		}
		return json.Unmarshal([]byte(v), y)
	default:
		return fmt.Errorf("cannot scan %T into YearList", src)
	}
}

// ThreatAssessment is the per-asteroid impact-risk summary, one-to-one
// with Asteroid. Fields mirror the impact-risk feed; ThreatLevel,
// EnergyMegatons and ImpactCategory are derived locally when the feed
// omits them.
type ThreatAssessment struct {
	ID             int64          `db:"id" json:"id"`
	AsteroidID     int64          `db:"asteroid_id" json:"asteroid_id"`
	Designation    string         `db:"designation" json:"designation"`
	Fullname       string         `db:"fullname" json:"fullname"`
	IP             float64        `db:"ip" json:"ip"`
	TSMax          int            `db:"ts_max" json:"ts_max"`
	PSMax          float64        `db:"ps_max" json:"ps_max"`
	Diameter       float64        `db:"diameter" json:"diameter"`
	VInf           float64        `db:"v_inf" json:"v_inf"`
	H              float64        `db:"h" json:"h"`
	NImp           int            `db:"n_imp" json:"n_imp"`
	ImpactYears    YearList       `db:"impact_years" json:"impact_years,omitempty"`
	LastObs        string         `db:"last_obs" json:"last_obs,omitempty"`
	ThreatLevel    string         `db:"threat_level" json:"threat_level"`
	EnergyMegatons float64        `db:"energy_megatons" json:"energy_megatons"`
	ImpactCategory ImpactCategory `db:"impact_category" json:"impact_category"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// Normalize derives the fields the feed leaves empty: threat level from
// the Torino/Palermo scales, impact energy from diameter and velocity,
// and category from energy.
func (t *ThreatAssessment) Normalize() {
	if t.Fullname == "" {
		t.Fullname = t.Designation
	}
	if t.ThreatLevel == "" {
		t.ThreatLevel = ThreatLevelFromScales(t.TSMax, t.PSMax)
	}
	if t.EnergyMegatons == 0 && t.Diameter > 0 && t.VInf > 0 {
		t.EnergyMegatons = ImpactEnergyMegatons(t.Diameter, t.VInf)
	}
	if !t.ImpactCategory.IsValid() {
		t.ImpactCategory = ImpactCategoryFromEnergy(t.EnergyMegatons)
	}
}

// Validate checks the invariants the store also enforces.
func (t *ThreatAssessment) Validate() error {
	if t.AsteroidID <= 0 {
		return fmt.Errorf("asteroid_id is required")
	}
	if t.Designation == "" {
		return fmt.Errorf("designation is required")
	}
	if t.Fullname == "" {
		return fmt.Errorf("fullname is required")
	}
	if t.IP < 0 {
		return fmt.Errorf("ip cannot be negative (got %g)", t.IP)
	}
	if t.TSMax < 0 || t.TSMax > 10 {
		return fmt.Errorf("ts_max must be in [0, 10] (got %d)", t.TSMax)
	}
	if t.Diameter < 0 {
		return fmt.Errorf("diameter cannot be negative (got %g)", t.Diameter)
	}
	if t.VInf < 0 {
		return fmt.Errorf("v_inf cannot be negative (got %g)", t.VInf)
	}
	if t.H < 0 {
		return fmt.Errorf("h cannot be negative (got %g)", t.H)
	}
	if t.NImp < 0 {
		return fmt.Errorf("n_imp cannot be negative (got %d)", t.NImp)
	}
	if t.EnergyMegatons < 0 {
		return fmt.Errorf("energy_megatons cannot be negative (got %g)", t.EnergyMegatons)
	}
	if !t.ImpactCategory.IsValid() {
		return fmt.Errorf("invalid impact category: %s", t.ImpactCategory)
	}
	return nil
}
