package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/identity"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Attendance reports",
}

var attendanceTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List identities marked present today",
	RunE:  runAttendanceToday,
}

var attendanceSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Per-identity attendance over all tracked days",
	Long: `Per-identity attendance over all tracked days.

Every identity of the project's current version is listed, including
those that were never marked present.`,
	RunE: runAttendanceSummary,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceTodayCmd, attendanceSummaryCmd)

	for _, c := range []*cobra.Command{attendanceTodayCmd, attendanceSummaryCmd} {
		c.Flags().String("project", "", "Project ID (required)")
		c.Flags().Bool("json", false, "Output as JSON")
		_ = c.MarkFlagRequired("project")
	}
}

func runAttendanceToday(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	projectID := mustGetString(cmd, "project")

	env, err := setupEngineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	entries, err := env.backend.Today(ctx, projectID, time.Now())
	if err != nil {
		return fmt.Errorf("loading today's attendance: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(struct {
			ProjectID string                  `json:"project_id"`
			Count     int                     `json:"count"`
			Present   []attendance.TodayEntry `json:"present"`
		}{projectID, len(entries), entries})
	}

	if len(entries) == 0 {
		fmt.Printf("No one marked present today in project %s\n", projectID)
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Name, e.FirstSeen.In(env.loc).Format("15:04:05")})
	}
	fmt.Println(renderTable([]string{"Name", "First seen"}, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Printf("%d present\n", len(entries))
	return nil
}

func runAttendanceSummary(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	projectID := mustGetString(cmd, "project")

	env, err := setupEngineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	summary, err := env.backend.Summary(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading attendance summary: %w", err)
	}
	_, roster, err := env.backend.LoadLatestIdentities(ctx, projectID)
	switch {
	case errors.Is(err, identity.ErrNotTrained):
	case err != nil:
		return fmt.Errorf("loading identities: %w", err)
	default:
		names := make([]string, len(roster))
		for i, v := range roster {
			names[i] = v.Name
		}
		summary = summary.WithRoster(names)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(summary)
	}

	rows := make([][]string, 0, len(summary.Identities))
	for _, st := range summary.Identities {
		rows = append(rows, []string{
			st.Name,
			strconv.Itoa(st.PresentDays),
			strconv.Itoa(st.TotalDays),
			fmt.Sprintf("%.1f%%", st.Percentage),
		})
	}
	fmt.Println(renderTable(
		[]string{"Name", "Present", "Days", "Rate"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))
	fmt.Printf("%d identities over %d days\n", len(summary.Identities), summary.TotalDays)
	return nil
}
