package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/perigee-sky/perigee/internal/ingest"
	"github.com/perigee-sky/perigee/internal/query"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	hazardStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

// stdoutIsTTY reports whether pretty output makes sense. Piped output
// gets plain text regardless of styling.
func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderReport prints an ingestion report, styled for terminals.
func renderReport(r *ingest.Report) error {
	if jsonOutput {
		return printJSON(r)
	}

	status := okStyle.Render(r.Status)
	if r.Status != ingest.StatusSuccess {
		status = errorStyle.Render(r.Status)
	}
	if !stdoutIsTTY() {
		status = r.Status
	}

	fmt.Println(titleStyle.Render("Ingestion run " + r.UpdateID))
	fmt.Printf("  %s %s\n", labelStyle.Render("status:"), status)
	if r.Error != "" {
		fmt.Printf("  %s %s\n", labelStyle.Render("error:"), r.Error)
	}
	fmt.Printf("  %s %.1fs (%.1f asteroids/s)\n",
		labelStyle.Render("duration:"), r.DurationSeconds, r.AsteroidsPerSecond)
	fmt.Printf("  %s %d fetched, %d hazardous, %d created, %d updated\n",
		labelStyle.Render("asteroids:"),
		r.Asteroids.Total, r.Asteroids.PHACount, r.Asteroids.Created, r.Asteroids.Updated)
	fmt.Printf("  %s %d computed, %d saved, %d with threats\n",
		labelStyle.Render("approaches:"),
		r.Approaches.Computed, r.Approaches.Saved, r.Approaches.WithThreats)
	fmt.Printf("  %s %d past, %d far-future\n",
		labelStyle.Render("pruned:"), r.Pruned.Past, r.Pruned.Future)
	if r.ParseErrors > 0 {
		fmt.Printf("  %s %d malformed upstream rows skipped\n",
			labelStyle.Render("parse errors:"), r.ParseErrors)
	}
	return nil
}

// table prints rows under a styled header with aligned columns.
func table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	header := strings.TrimRight(b.String(), " ")
	if stdoutIsTTY() {
		header = headerStyle.Render(header)
	}
	fmt.Println(header)

	for _, row := range rows {
		b.Reset()
		for i, cell := range row {
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		fmt.Println(strings.TrimRight(b.String(), " "))
	}
}

func renderAsteroids(asteroids []query.AsteroidDTO) error {
	if jsonOutput {
		return printJSON(asteroids)
	}
	if len(asteroids) == 0 {
		fmt.Println("no asteroids found")
		return nil
	}

	rows := make([][]string, len(asteroids))
	for i, a := range asteroids {
		name := ""
		if a.Name != nil {
			name = *a.Name
		}
		moid := "-"
		if a.EarthMOIDAU != nil {
			moid = fmt.Sprintf("%.4f", *a.EarthMOIDAU)
		}
		hazard := ""
		if a.PotentiallyHazardous {
			hazard = "PHA"
			if stdoutIsTTY() {
				hazard = hazardStyle.Render(hazard)
			}
		}
		rows[i] = []string{
			a.Designation, name,
			fmt.Sprintf("%.1f", a.AbsoluteMagnitude),
			fmt.Sprintf("%.3f", a.EstimatedDiameterKm),
			a.DiameterSource, moid, hazard,
		}
	}
	table([]string{"DESIGNATION", "NAME", "H", "DIAM KM", "SOURCE", "MOID AU", ""}, rows)
	return nil
}

func renderApproaches(approaches []query.ApproachDTO) error {
	if jsonOutput {
		return printJSON(approaches)
	}
	if len(approaches) == 0 {
		fmt.Println("no close approaches found")
		return nil
	}

	rows := make([][]string, len(approaches))
	for i, c := range approaches {
		rows[i] = []string{
			c.ApproachTime,
			c.AsteroidDesignation,
			fmt.Sprintf("%.4f", c.DistanceAU),
			fmt.Sprintf("%.1f", c.DistanceLunar),
			fmt.Sprintf("%.2f", c.VelocityKmS),
		}
	}
	table([]string{"TIME", "DESIGNATION", "DIST AU", "DIST LD", "VEL KM/S"}, rows)
	return nil
}

func renderThreats(threats []query.ThreatDTO) error {
	if jsonOutput {
		return printJSON(threats)
	}
	if len(threats) == 0 {
		fmt.Println("no threat assessments found")
		return nil
	}

	rows := make([][]string, len(threats))
	for i, t := range threats {
		level := t.ThreatLevel
		if stdoutIsTTY() && (t.TSMax > 0 || t.PSMax > -2) {
			level = hazardStyle.Render(level)
		}
		rows[i] = []string{
			t.Designation, level,
			fmt.Sprintf("%d", t.TSMax),
			fmt.Sprintf("%.2f", t.PSMax),
			fmt.Sprintf("%.2e", t.IP),
			fmt.Sprintf("%.1f", t.EnergyMegatons),
			t.ImpactCategory,
		}
	}
	table([]string{"DESIGNATION", "LEVEL", "TS", "PS", "IP", "ENERGY MT", "CATEGORY"}, rows)
	return nil
}

func renderStats(s *query.Stats) error {
	if jsonOutput {
		return printJSON(s)
	}
	fmt.Println(titleStyle.Render("Catalog"))
	fmt.Printf("  %s %d\n", labelStyle.Render("asteroids:"), s.Asteroids)
	fmt.Printf("  %s %d\n", labelStyle.Render("close approaches:"), s.Approaches)
	fmt.Printf("  %s %d\n", labelStyle.Render("threat assessments:"), s.Threats)
	fmt.Printf("  %s %s\n", labelStyle.Render("generated:"), s.GeneratedAt)
	return nil
}
