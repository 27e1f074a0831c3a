package feeds

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/astro"
)

const (
	impactRiskListPath   = "/sentry.api"
	impactRiskDetailPath = "/sentry.api"
)

// ImpactRiskClient fetches per-asteroid impact-risk summaries.
type ImpactRiskClient struct {
	core *httpCore
}

// NewImpactRiskClient builds the client. Zero option values take the
// impact-risk defaults (120s timeout, concurrency 1, queue 2). This is the
// slowest and most rate-sensitive endpoint, hence the smallest bulkhead.
func NewImpactRiskClient(opts Options) *ImpactRiskClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImpactRiskTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultImpactRiskConcurrency
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultImpactRiskQueue
	}
	return &ImpactRiskClient{core: newHTTPCore("impactrisk", opts)}
}

// Acquire opens a scoped session. Callers must Close it on all exits.
func (c *ImpactRiskClient) Acquire() *ImpactRiskSession {
	return &ImpactRiskSession{Session: newSession(c.core)}
}

// ImpactRiskSession is one scoped use of the impact-risk client.
type ImpactRiskSession struct {
	*Session
}

// impactRiskListResponse is the list endpoint's envelope.
type impactRiskListResponse struct {
	Count any              `json:"count"`
	Data  []map[string]any `json:"data"`
}

// impactRiskDetailResponse is the per-designation envelope. The summary
// holds the fields we need; the per-scenario data rows supply the impact
// years.
type impactRiskDetailResponse struct {
	Summary map[string]any   `json:"summary"`
	Data    []map[string]any `json:"data"`
	Error   string           `json:"error"`
}

// FetchAll returns every monitored object's threat record. Records that
// fail to parse are skipped, counted, and logged once for the batch.
func (s *ImpactRiskSession) FetchAll(ctx context.Context) ([]astro.ThreatAssessment, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var resp impactRiskListResponse
	if err := s.core.getJSON(ctx, impactRiskListPath, nil, &resp); err != nil {
		return nil, err
	}

	records := make([]astro.ThreatAssessment, 0, len(resp.Data))
	skipped := 0
	for _, raw := range resp.Data {
		rec, ok := parseThreatRecord(raw)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed threat records",
			zap.Int("skipped", skipped),
			zap.Int("kept", len(records)))
	}
	return records, nil
}

// FetchOne returns the threat record for one designation, or nil when the
// object is not monitored.
func (s *ImpactRiskSession) FetchOne(ctx context.Context, designation string) (*astro.ThreatAssessment, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("des", designation)

	var resp impactRiskDetailResponse
	found, err := s.core.getJSONOptional(ctx, impactRiskDetailPath, params, &resp, true)
	if err != nil {
		return nil, err
	}
	// The feed reports unmonitored objects either as a 404 or as a 200
	// with an error message in the body.
	if !found || resp.Error != "" || resp.Summary == nil {
		return nil, nil
	}

	rec, ok := parseThreatRecord(resp.Summary)
	if !ok {
		return nil, &Error{Feed: s.core.feed, Kind: KindParse, Msg: "malformed threat record for " + designation}
	}
	if len(rec.ImpactYears) == 0 {
		rec.ImpactYears = impactYearsFromScenarios(resp.Data)
	}
	return &rec, nil
}

// parseThreatRecord normalizes one raw summary record. A record without a
// designation is unusable and reports !ok; every other field degrades to
// its zero value, which Normalize then derives where it can.
func parseThreatRecord(raw map[string]any) (astro.ThreatAssessment, bool) {
	des := asString(raw["des"])
	if des == "" {
		des = asString(raw["designation"])
	}
	if des == "" || len(des) > astro.MaxDesignationLen {
		return astro.ThreatAssessment{}, false
	}

	rec := astro.ThreatAssessment{
		Designation: des,
		Fullname:    strings.TrimSpace(asString(raw["fullname"])),
		LastObs:     asString(raw["last_obs"]),
	}
	if v, ok := astro.ParseMagnitude(raw["ip"]); ok && v >= 0 {
		rec.IP = v
	}
	if v, ok := astro.ParseMagnitude(raw["ts_max"]); ok && v >= 0 && v <= 10 {
		rec.TSMax = int(v)
	}
	if v, ok := astro.ParseMagnitude(raw["ps_max"]); ok {
		rec.PSMax = v
	}
	if v, ok := astro.ParseLengthKm(raw["diameter"]); ok && v >= 0 {
		rec.Diameter = v
	}
	if v, ok := astro.ParseSpeedKmS(raw["v_inf"]); ok && v >= 0 {
		rec.VInf = v
	}
	if v, ok := astro.ParseMagnitude(raw["h"]); ok && v >= 0 {
		rec.H = v
	}
	if v, ok := astro.ParseMagnitude(raw["n_imp"]); ok && v >= 0 {
		rec.NImp = int(v)
	}
	if years := parseYearRange(asString(raw["range"])); len(years) > 0 {
		rec.ImpactYears = years
	}

	rec.Normalize()
	return rec, true
}

// parseYearRange parses the feed's "2040-2087" (or single "2040") impact
// year range into the bounding years. The full per-year list comes from
// the scenario rows when the caller fetched them.
func parseYearRange(s string) astro.YearList {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "-", 2)
	first, ok := parseYear(parts[0])
	if !ok {
		return nil
	}
	if len(parts) == 1 {
		return astro.YearList{first}
	}
	last, ok := parseYear(parts[1])
	if !ok || last == first {
		return astro.YearList{first}
	}
	return astro.YearList{first, last}
}

func parseYear(s string) (int, bool) {
	v, ok := astro.ParseMagnitude(strings.TrimSpace(s))
	if !ok || v < 1900 || v > 3000 {
		return 0, false
	}
	return int(v), true
}

// impactYearsFromScenarios extracts the distinct calendar years from
// per-scenario rows, whose "date" field is "YYYY-MM-DD.ff".
func impactYearsFromScenarios(rows []map[string]any) astro.YearList {
	seen := map[int]bool{}
	var years astro.YearList
	for _, row := range rows {
		date := asString(row["date"])
		if len(date) < 4 {
			continue
		}
		y, ok := parseYear(date[:4])
		if !ok || seen[y] {
			continue
		}
		seen[y] = true
		years = append(years, y)
	}
	return years
}
