package feeds

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/timeutil"
)

const (
	smallBodyListPath   = "/sbdb_query.api"
	smallBodyDetailPath = "/sbdb.api"
)

// measuredRefKeywords mark a reported diameter as directly observed.
// Case-sensitive entries are instrument acronyms; the matcher treats
// all-lowercase keywords case-insensitively.
var measuredRefKeywords = []string{
	"radar", "IRAS", "WISE", "NEOWISE", "Spitzer", "thermal",
	"occultation", "adaptive optics", "HST", "Hubble", "Keck", "VLT",
	"Arecibo",
}

// computedRefKeywords mark a reported diameter as upstream-derived.
var computedRefKeywords = []string{
	"assumed", "typical", "standard", "default", "estimated from",
	"derived from",
}

// SmallBodyClient fetches the hazardous-asteroid list and per-designation
// physical parameters from the small-body database.
type SmallBodyClient struct {
	core              *httpCore
	detailBatchSize   int
	detailBatchDelay  time.Duration
	detailConcurrency int
}

// NewSmallBodyClient builds the client. Zero option values take the
// small-body defaults (30s timeout, concurrency 5, queue 10, batches of 50
// with a 1s delay).
func NewSmallBodyClient(opts Options) *SmallBodyClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSmallBodyTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultSmallBodyConcurrency
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultSmallBodyQueue
	}
	batch := opts.DetailBatchSize
	if batch <= 0 {
		batch = DefaultDetailBatchSize
	}
	delay := opts.DetailBatchDelay
	if delay <= 0 {
		delay = DefaultDetailBatchDelay
	}
	return &SmallBodyClient{
		core:              newHTTPCore("smallbody", opts),
		detailBatchSize:   batch,
		detailBatchDelay:  delay,
		detailConcurrency: int(opts.MaxConcurrent),
	}
}

// Acquire opens a scoped session. Callers must Close it on all exits.
func (c *SmallBodyClient) Acquire() *SmallBodySession {
	return &SmallBodySession{Session: newSession(c.core), client: c}
}

// SmallBodySession is one scoped use of the small-body client.
type SmallBodySession struct {
	*Session
	client *SmallBodyClient
}

// FetchHazardous returns normalized records for up to limit potentially
// hazardous asteroids (default 3000). It issues one list query for the
// designations, then resolves physical parameters in batches, pausing
// between batches. A failed per-designation lookup degrades to a fallback
// record (H 18.0, derived diameter, assumed albedo) rather than failing
// the fetch.
func (s *SmallBodySession) FetchHazardous(ctx context.Context, limit int) ([]astro.Asteroid, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	designations, err := s.listHazardous(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(designations) == 0 {
		return nil, nil
	}
	s.logger.Info("hazardous list fetched", zap.Int("designations", len(designations)))

	records := make([]astro.Asteroid, len(designations))
	batchSize := s.client.detailBatchSize

	for start := 0; start < len(designations); start += batchSize {
		end := min(start+batchSize, len(designations))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.client.detailConcurrency)
		for i := start; i < end; i++ {
			idx := i
			des := designations[i]
			g.Go(func() error {
				rec, err := s.fetchDetail(gctx, des)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.logger.Warn("physical lookup failed, using fallback record",
						zap.String("designation", des),
						zap.Error(err))
					rec = fallbackAsteroid(des)
				}
				records[idx] = rec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if end < len(designations) {
			if err := timeutil.Sleep(ctx, s.client.detailBatchDelay); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}

// listHazardous issues the hazard-group list query and extracts the
// primary designations.
func (s *SmallBodySession) listHazardous(ctx context.Context, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("sb-group", "pha")
	params.Set("fields", "pdes,full_name")
	params.Set("limit", strconv.Itoa(limit))

	var resp tableResponse
	if err := s.core.getJSON(ctx, smallBodyListPath, params, &resp); err != nil {
		return nil, err
	}

	cols := columnIndex(resp.Fields)
	desCol, ok := cols["pdes"]
	if !ok {
		desCol, ok = cols["des"]
	}
	if !ok {
		return nil, &Error{Feed: s.core.feed, Kind: KindParse, Msg: "list response missing designation column"}
	}

	designations := make([]string, 0, len(resp.Data))
	for _, row := range resp.Data {
		if desCol >= len(row) {
			continue
		}
		if des := asString(row[desCol]); des != "" {
			designations = append(designations, des)
		}
	}
	return designations, nil
}

// fetchDetail resolves one designation's physical and orbital parameters
// into a normalized record.
func (s *SmallBodySession) fetchDetail(ctx context.Context, designation string) (astro.Asteroid, error) {
	params := url.Values{}
	params.Set("sstr", designation)
	params.Set("phys-par", "true")

	var raw map[string]any
	if err := s.core.getJSON(ctx, smallBodyDetailPath, params, &raw); err != nil {
		return astro.Asteroid{}, err
	}
	return parseSmallBodyDetail(raw, designation), nil
}

// fallbackAsteroid is the record used when a physical lookup fails: H
// 18.0, assumed albedo, diameter derived from both.
func fallbackAsteroid(designation string) astro.Asteroid {
	a := astro.Asteroid{
		Designation:       designation,
		AbsoluteMagnitude: astro.DefaultAbsoluteMagnitude,
		Albedo:            astro.DefaultAlbedo,
		DiameterSource:    astro.DiameterCalculated,
	}
	a.EstimatedDiameterKm = astro.DiameterFromH(astro.DefaultAbsoluteMagnitude)
	return a
}

// parseSmallBodyDetail normalizes one detail response. The response is
// opaque JSON; every numeric field goes through the tolerant unit parsers.
func parseSmallBodyDetail(raw map[string]any, designation string) astro.Asteroid {
	rec := astro.Asteroid{Designation: designation}

	obj, _ := raw["object"].(map[string]any)
	if obj != nil {
		if des := asString(obj["des"]); des != "" {
			rec.Designation = des
		} else if des := asString(obj["pdes"]); des != "" {
			rec.Designation = des
		}
		if full := strings.TrimSpace(asString(obj["fullname"])); full != "" && full != rec.Designation {
			if len(full) > astro.MaxNameLen {
				full = full[:astro.MaxNameLen]
			}
			rec.Name = &full
		}
		if orbitID := asString(obj["orbit_id"]); orbitID != "" {
			rec.OrbitID = &orbitID
		}
		switch oc := obj["orbit_class"].(type) {
		case string:
			if oc != "" {
				rec.OrbitClass = &oc
			}
		case map[string]any:
			if code := asString(oc["code"]); code != "" {
				rec.OrbitClass = &code
			} else if name := asString(oc["name"]); name != "" {
				rec.OrbitClass = &name
			}
		}
	}

	orbit, _ := raw["orbit"].(map[string]any)
	elements := elementLookup(orbit)

	// Perihelion and aphelion: explicit q/ad win, else derive from a and e.
	q, qOK := astro.ParseDistanceAU(elements("q"))
	ad, adOK := astro.ParseDistanceAU(elements("ad"))
	if !qOK || !adOK {
		a, aOK := astro.ParseDistanceAU(elements("a"))
		e, eOK := astro.ParseMagnitude(elements("e"))
		if aOK && eOK && a > 0 && e >= 0 && e < 1 {
			if !qOK {
				q, qOK = a*(1-e), true
			}
			if !adOK {
				ad, adOK = a*(1+e), true
			}
		}
	}
	if qOK && q > 0 {
		rec.PerihelionAU = &q
	}
	if adOK && ad > 0 {
		rec.AphelionAU = &ad
	}

	if moid, ok := lookupEarthMOID(orbit, elements); ok && moid >= 0 {
		rec.EarthMOIDAU = &moid
	}

	// Physical parameters: H, first in-range albedo, first positive
	// reported diameter.
	hSeen := false
	albedoAssumed := true
	diameterReported := false
	var diameterRef, diameterNotes string

	for _, entry := range physParEntries(raw) {
		name := strings.ToLower(asString(entry["name"]))
		if name == "" {
			name = strings.ToLower(asString(entry["title"]))
		}
		switch name {
		case "h":
			if v, ok := astro.ParseMagnitude(entry["value"]); ok && !hSeen {
				rec.AbsoluteMagnitude = v
				hSeen = true
			}
		case "albedo":
			if v, ok := astro.ParseMagnitude(entry["value"]); ok && albedoAssumed && v > 0 && v <= 1 {
				rec.Albedo = v
				albedoAssumed = false
			}
		case "diameter":
			if v, ok := astro.ParseLengthKm(entry["value"]); ok && !diameterReported && v > 0 {
				rec.EstimatedDiameterKm = v
				diameterReported = true
				diameterRef = asString(entry["ref"])
				diameterNotes = asString(entry["notes"])
			}
		}
	}

	if !hSeen {
		rec.AbsoluteMagnitude = astro.DefaultAbsoluteMagnitude
	}
	if albedoAssumed {
		rec.Albedo = astro.DefaultAlbedo
	}

	if diameterReported {
		refText := diameterRef + " " + diameterNotes
		switch {
		case matchAnyKeyword(refText, measuredRefKeywords):
			rec.DiameterSource = astro.DiameterMeasured
			rec.AccurateDiameter = true
		case matchAnyKeyword(refText, computedRefKeywords):
			rec.DiameterSource = astro.DiameterComputed
		default:
			rec.DiameterSource = astro.DiameterComputed
		}
	}

	// Normalize derives the diameter from H and albedo when nothing was
	// reported, and repairs any remaining out-of-range field.
	rec.Normalize()
	return rec
}

// elementLookup returns an accessor over the orbit's element list, which
// arrives either as [{"name": "a", "value": ...}, ...] or as a flat map.
func elementLookup(orbit map[string]any) func(string) any {
	if orbit == nil {
		return func(string) any { return nil }
	}
	flat := map[string]any{}
	switch elems := orbit["elements"].(type) {
	case []any:
		for _, e := range elems {
			if m, ok := e.(map[string]any); ok {
				if name := asString(m["name"]); name != "" {
					flat[name] = m["value"]
				}
			}
		}
	case map[string]any:
		flat = elems
	}
	return func(name string) any {
		if v, ok := flat[name]; ok {
			return v
		}
		return orbit[name]
	}
}

// lookupEarthMOID prefers a nested {"moid": {"earth": ...}} value, then
// the flat alternatives the feed has used over time.
func lookupEarthMOID(orbit map[string]any, elements func(string) any) (float64, bool) {
	if orbit != nil {
		if nested, ok := orbit["moid"].(map[string]any); ok {
			if v, ok := astro.ParseDistanceAU(nested["earth"]); ok {
				return v, true
			}
		}
	}
	for _, key := range []string{"moid", "moid_au", "earth_moid"} {
		if v, ok := astro.ParseDistanceAU(elements(key)); ok {
			return v, true
		}
	}
	return 0, false
}

// physParEntries extracts the physical-parameter entry maps from a detail
// response.
func physParEntries(raw map[string]any) []map[string]any {
	list, _ := raw["phys_par"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// matchAnyKeyword reports whether text contains any keyword. All-lowercase
// keywords match case-insensitively; keywords carrying uppercase (the
// instrument acronyms) must match exactly, so "WISE" does not fire on
// "otherwise".
func matchAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == strings.ToLower(kw) {
			if strings.Contains(lower, kw) {
				return true
			}
		} else if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
