package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/urfave/cli/v3"
)

var (
	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	statusColors = map[models.JobStatus]lipgloss.Color{
		models.JobQueued:    lipgloss.Color("12"),
		models.JobRunning:   lipgloss.Color("11"),
		models.JobCompleted: lipgloss.Color("10"),
		models.JobFailed:    lipgloss.Color("9"),
		models.JobCancelled: lipgloss.Color("8"),
	}
)

// statusBadge renders a job status as a colored badge.
func statusBadge(status models.JobStatus) string {
	color, ok := statusColors[status]
	if !ok {
		color = lipgloss.Color("7")
	}
	return badgeStyle.Foreground(color).Render(strings.ToUpper(string(status)))
}

func count(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

// JobsGet shows one job.
func (r *Runner) JobsGet(ctx context.Context, cmd *cli.Command) error {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return fmt.Errorf("%w: job id", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	job, err := r.ledger.Get(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(job, cmd.Bool("pretty"))
	}

	r.writePlain("%s %s\n", statusBadge(job.Status), job.JobID)
	r.writePlain("Namespace:  %s\n", job.NamespaceID)
	r.writePlain("Operation:  %s\n", job.OperationType)
	r.writePlain("Progress:   %s/%s processed, %s errors\n", count(job.ProcessedKeys), count(job.TotalKeys), count(job.ErrorCount))
	r.writePlain("Started:    %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		r.writePlain("Completed:  %s (%s)\n", job.CompletedAt.Format(time.RFC3339), job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond))
	} else if !job.Status.Terminal() {
		r.writePlain("Running for %s\n", dimStyle.Render(r.clock.Since(job.StartedAt).Round(time.Second).String()))
	}
	r.writePlain("User:       %s\n", job.UserEmail)
	return nil
}

// JobsList lists jobs, newest first.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	list, err := r.ledger.List(ctx, models.JobFilter{
		NamespaceID:   cmd.String("namespace"),
		Status:        models.JobStatus(cmd.String("status")),
		OperationType: models.OperationType(cmd.String("operation")),
		Limit:         cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(list, cmd.Bool("pretty"))
	}

	if len(list) == 0 {
		r.writePlain("No jobs found\n")
		return nil
	}
	for _, job := range list {
		r.writePlain("%s %-48s %-12s %-16s %s/%s (%s errors) %s\n",
			statusBadge(job.Status), job.JobID, job.NamespaceID, job.OperationType,
			count(job.ProcessedKeys), count(job.TotalKeys), count(job.ErrorCount),
			dimStyle.Render(job.StartedAt.Format(time.RFC3339)))
	}
	return nil
}
