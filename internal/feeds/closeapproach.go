package feeds

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/timeutil"
)

const closeApproachPath = "/cad.api"

// Window is the time range of a close-approach query.
type Window struct {
	Start time.Time
	End   time.Time
}

// ApproachFetch is the result of one window query: records grouped by
// designation, plus the count of malformed rows that were skipped.
type ApproachFetch struct {
	ByDesignation map[string][]astro.CloseApproach
	ParseErrors   int
}

// CloseApproachClient fetches predicted near-Earth encounters.
type CloseApproachClient struct {
	core *httpCore
}

// NewCloseApproachClient builds the client. Zero option values take the
// close-approach defaults (60s timeout, concurrency 3, queue 6).
func NewCloseApproachClient(opts Options) *CloseApproachClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCloseApproachTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultCloseApproachConcurrency
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultCloseApproachQueue
	}
	return &CloseApproachClient{core: newHTTPCore("closeapproach", opts)}
}

// Acquire opens a scoped session. Callers must Close it on all exits.
func (c *CloseApproachClient) Acquire() *CloseApproachSession {
	return &CloseApproachSession{Session: newSession(c.core)}
}

// CloseApproachSession is one scoped use of the close-approach client.
type CloseApproachSession struct {
	*Session
}

// FetchApproaches issues one window query and returns the parsed records
// grouped by designation. When ids is non-empty only those designations
// are kept. Records farther than maxAU are dropped; records at exactly
// maxAU are kept. Rows with malformed timestamps or numbers are skipped
// and counted, never fabricated.
func (s *CloseApproachSession) FetchApproaches(ctx context.Context, ids []string, window Window, maxAU float64) (*ApproachFetch, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if maxAU <= 0 {
		maxAU = DefaultMaxDistanceAU
	}

	params := url.Values{}
	params.Set("date-min", window.Start.UTC().Format("2006-01-02"))
	params.Set("date-max", window.End.UTC().Format("2006-01-02"))
	params.Set("dist-max", strconv.FormatFloat(maxAU, 'f', -1, 64))
	params.Set("body", "Earth")
	params.Set("sort", "dist")
	params.Set("fullname", "true")

	var resp tableResponse
	if err := s.core.getJSON(ctx, closeApproachPath, params, &resp); err != nil {
		return nil, err
	}

	cols := columnIndex(resp.Fields)
	desCol, desOK := cols["des"]
	timeCol, timeOK := cols["cd"]
	distCol, distOK := cols["dist"]
	velCol, velOK := cols["v_rel"]
	if !desOK || !timeOK || !distOK || !velOK {
		return nil, &Error{Feed: s.core.feed, Kind: KindParse, Msg: "window response missing required columns"}
	}
	nameCol, nameOK := cols["fullname"]

	var keep map[string]bool
	if len(ids) > 0 {
		keep = make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
	}

	out := &ApproachFetch{ByDesignation: make(map[string][]astro.CloseApproach)}
	for _, row := range resp.Data {
		des := asString(cell(row, desCol))
		if des == "" {
			out.ParseErrors++
			continue
		}
		if keep != nil && !keep[des] {
			continue
		}

		approachTime, err := timeutil.ParseApproachTime(asString(cell(row, timeCol)))
		if err != nil {
			out.ParseErrors++
			continue
		}
		dist, ok := astro.ParseDistanceAU(cell(row, distCol))
		if !ok || dist < 0 {
			out.ParseErrors++
			continue
		}
		if dist > maxAU {
			continue
		}
		vel, ok := astro.ParseSpeedKmS(cell(row, velCol))
		if !ok || vel < 0 {
			out.ParseErrors++
			continue
		}

		rec := astro.CloseApproach{
			ApproachTime:        approachTime,
			DistanceAU:          dist,
			VelocityKmS:         vel,
			AsteroidDesignation: des,
			DataSource:          astro.DefaultApproachDataSource,
		}
		if nameOK {
			if name := asString(cell(row, nameCol)); name != "" && name != des {
				if len(name) > astro.MaxNameLen {
					name = name[:astro.MaxNameLen]
				}
				rec.AsteroidName = &name
			}
		}
		rec.Normalize()
		out.ByDesignation[des] = append(out.ByDesignation[des], rec)
	}

	// One log line per window query covers every skipped row.
	if out.ParseErrors > 0 {
		s.logger.Warn("skipped malformed approach rows",
			zap.Int("skipped", out.ParseErrors),
			zap.Int("kept", len(resp.Data)-out.ParseErrors))
	}
	return out, nil
}
