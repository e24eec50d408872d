// Command exposure-report renders an HTML report of recorded UV dose
// sessions: daily dose, peak UV index, and the individual sessions with the
// lock transitions that bounded them.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/daylight-data/exposure.report/internal/api"
	"github.com/daylight-data/exposure.report/internal/db"
	"github.com/daylight-data/exposure.report/internal/session"
	"github.com/daylight-data/exposure.report/internal/units"
)

var (
	dbPath  = flag.String("db", "exposure.db", "Path to the sqlite database")
	server  = flag.String("server", "", "Base URL of a running daemon; fetch over HTTP instead of opening the database")
	days    = flag.Int("days", 7, "How many days back to report on")
	outPath = flag.String("out", "exposure-report.html", "Output HTML file")
)

func main() {
	flag.Parse()
	if *days < 1 {
		log.Fatal("days must be at least 1")
	}

	summaries, sessions, transitions, err := loadData()
	if err != nil {
		log.Fatal(err)
	}

	page := components.NewPage()
	page.PageTitle = "UV Exposure Report"
	page.AddCharts(
		dailyDoseChart(summaries),
		peakUVIChart(summaries),
		sessionChart(sessions),
		lockTimelineChart(transitions),
	)

	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer out.Close()
	if err := page.Render(out); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s: %d days, %d sessions", *outPath, len(summaries), len(sessions))
}

// loadData reads from the daemon's HTTP API when -server is set, otherwise
// straight from the sqlite file. The API path avoids contending with the
// daemon's writer connection on a live database.
func loadData() ([]db.DaySummary, []session.Session, []session.Transition, error) {
	if *server != "" {
		client := api.NewClient(*server, nil)
		summaries, err := client.Summary(*days)
		if err != nil {
			return nil, nil, nil, err
		}
		sessions, err := client.Sessions(*days)
		if err != nil {
			return nil, nil, nil, err
		}
		transitions, err := client.Transitions(*days)
		if err != nil {
			return nil, nil, nil, err
		}
		return summaries, sessions, transitions, nil
	}

	store, err := db.Open(*dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -*days)

	summaries, err := store.SummarizeDays(since, now.Add(time.Minute))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to summarize days: %w", err)
	}
	sessions, err := store.ListSessions(since, now.Add(time.Minute))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	transitions, err := store.ListTransitions(since, now.Add(time.Minute))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return summaries, sessions, transitions, nil
}

func dailyDoseChart(summaries []db.DaySummary) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Daily erythemal dose",
			Subtitle: "standard erythemal doses (1 SED = 100 J/m²)",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	axis := make([]string, 0, len(summaries))
	doses := make([]opts.BarData, 0, len(summaries))
	for _, d := range summaries {
		axis = append(axis, d.Day)
		doses = append(doses, opts.BarData{Value: round2(units.SED(d.DoseJoules))})
	}
	bar.SetXAxis(axis).AddSeries("SED", doses)
	return bar
}

func peakUVIChart(summaries []db.DaySummary) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Peak UV index per day"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	axis := make([]string, 0, len(summaries))
	peaks := make([]opts.LineData, 0, len(summaries))
	for _, d := range summaries {
		axis = append(axis, d.Day)
		peaks = append(peaks, opts.LineData{Value: round2(d.PeakUVI)})
	}
	line.SetXAxis(axis).AddSeries("peak UVI", peaks,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

// sessionChart plots each session as start time vs minutes outdoors, sized
// readably by dose via the tooltip label.
func sessionChart(sessions []session.Session) components.Charter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Sessions", Subtitle: "start time vs duration"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "minutes"}),
	)

	axis := make([]string, 0, len(sessions))
	points := make([]opts.ScatterData, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- { // oldest first
		s := sessions[i]
		end := s.EndedAt
		if end.IsZero() {
			continue // still open
		}
		axis = append(axis, s.StartedAt.Format("01-02 15:04"))
		points = append(points, opts.ScatterData{
			Value: round2(end.Sub(s.StartedAt).Minutes()),
			Name:  fmt.Sprintf("%.2f SED (%.2f MED), %s", s.SED(), units.MED(s.DoseJoules), s.EndReason),
		})
	}
	scatter.SetXAxis(axis).AddSeries("sessions", points)
	return scatter
}

// lockTimelineChart plots each lock transition: 1 for activation, 0 for
// release, with the lock kind and trigger in the tooltip.
func lockTimelineChart(transitions []session.Transition) components.Charter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Lock transitions", Subtitle: "1 = lock acquired, 0 = released"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	axis := make([]string, 0, len(transitions))
	points := make([]opts.ScatterData, 0, len(transitions))
	for _, tr := range transitions {
		state := 0
		if tr.Active {
			state = 1
		}
		axis = append(axis, tr.Time.Format("01-02 15:04"))
		points = append(points, opts.ScatterData{
			Value: state,
			Name:  fmt.Sprintf("%s: %s (%s)", tr.Lock, tr.Mode, tr.Reason),
		})
	}
	scatter.SetXAxis(axis).AddSeries("transitions", points)
	return scatter
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
