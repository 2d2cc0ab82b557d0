package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomhq/fathom/press/schedule"
)

// ScheduleCmd manages recurring report schedules
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring report schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		connectionID, _ := cmd.Flags().GetString("connection")
		interval, _ := cmd.Flags().GetInt("interval")

		sched, err := schedule.NewSchedule(args[0], templateID, connectionID, interval)
		if err != nil {
			return err
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		store := schedule.NewStore(database)
		if err := store.Create(context.Background(), sched); err != nil {
			return err
		}

		fmt.Printf("Created schedule %s (%s)\n", sched.Name, sched.ID)
		fmt.Printf("  First run: %s\n", sched.NextRunAt.Format(time.RFC3339))
		return nil
	},
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleSchedule(args[0], false)
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleSchedule(args[0], true)
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		store := schedule.NewStore(database)
		if err := store.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted schedule %s\n", args[0])
		return nil
	},
}

func toggleSchedule(id string, active bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	store := schedule.NewStore(database)
	sched, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	if active {
		sched.Resume(time.Now())
	} else {
		sched.Pause()
	}
	if err := store.Save(ctx, sched); err != nil {
		return err
	}

	if active {
		fmt.Printf("Resumed schedule %s, next run %s\n", sched.Name, sched.NextRunAt.Format(time.RFC3339))
	} else {
		fmt.Printf("Paused schedule %s\n", sched.Name)
	}
	return nil
}

func init() {
	scheduleCreateCmd.Flags().String("template", "", "Report template ID")
	scheduleCreateCmd.Flags().String("connection", "", "Data connection ID")
	scheduleCreateCmd.Flags().Int("interval", 60, "Run interval in minutes")
	scheduleCreateCmd.MarkFlagRequired("template")
	scheduleCreateCmd.MarkFlagRequired("connection")

	ScheduleCmd.AddCommand(scheduleCreateCmd)
	ScheduleCmd.AddCommand(schedulePauseCmd)
	ScheduleCmd.AddCommand(scheduleResumeCmd)
	ScheduleCmd.AddCommand(scheduleDeleteCmd)
}
