// check_syncs prints the latest sync runs and the per-user sync configurations.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/config"
	"github.com/david/grant-tracker/internal/db"
)

func main() {
	limit := flag.Int("limit", 10, "rows per table")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	runs, err := store.ListSyncRuns(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Sync runs")
	t.AppendHeader(table.Row{"Term", "Trigger", "Outcome", "Total", "Imported", "Skipped", "Failed", "Duration", "Started At"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.SearchTerm, r.Trigger, r.Outcome, r.Total, r.Imported, r.Skipped, r.Failed,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			r.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()

	configs, err := store.ListSyncConfigs(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}
	c := table.NewWriter()
	c.SetOutputMirror(os.Stdout)
	c.SetTitle("Sync configs")
	c.AppendHeader(table.Row{"User", "Enabled", "Frequency", "Terms", "Auto Import", "Last Sync", "Next Sync"})
	for _, sc := range configs {
		c.AppendRow(table.Row{
			sc.UserID, sc.Enabled, sc.Frequency, strings.Join(sc.SearchTerms, ", "), sc.AutoImport,
			formatTime(sc.LastSync), formatTime(sc.NextSync),
		})
	}
	c.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
