package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomhq/fathom/press/async"
	"github.com/fathomhq/fathom/press/schedule"
)

// StatusCmd shows job queue and schedule status
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job queue and schedule status",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		jobStore := async.NewStore(database)
		counts, err := jobStore.CountByStatus()
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Jobs")
		jobRows := pterm.TableData{{"Status", "Count"}}
		total := 0
		for _, status := range []async.JobStatus{
			async.JobStatusPending,
			async.JobStatusQueued,
			async.JobStatusRunning,
			async.JobStatusSucceeded,
			async.JobStatusFailed,
			async.JobStatusCancelled,
		} {
			count := counts[status]
			total += count
			jobRows = append(jobRows, []string{string(status), fmt.Sprintf("%d", count)})
		}
		jobRows = append(jobRows, []string{"total", fmt.Sprintf("%d", total)})
		if err := pterm.DefaultTable.WithHasHeader().WithData(jobRows).Render(); err != nil {
			return err
		}

		schedStore := schedule.NewStore(database)
		schedules, err := schedStore.List(context.Background())
		if err != nil {
			return err
		}

		pterm.DefaultSection.Println("Schedules")
		if len(schedules) == 0 {
			pterm.Info.Println("No schedules configured")
			return nil
		}

		now := time.Now()
		schedRows := pterm.TableData{{"Name", "Interval", "Active", "Next run", "Last status", "Runs"}}
		for _, s := range schedules {
			next := s.NextRunAt.Format("2006-01-02 15:04:05")
			if s.IsDue(now) {
				next = "due now"
			}
			lastStatus := s.LastRunStatus
			if lastStatus == "" {
				lastStatus = "-"
			}
			schedRows = append(schedRows, []string{
				s.Name,
				fmt.Sprintf("%dm", s.IntervalMinutes),
				fmt.Sprintf("%t", s.Active),
				next,
				lastStatus,
				fmt.Sprintf("%d", s.RunCount),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(schedRows).Render()
	},
}
