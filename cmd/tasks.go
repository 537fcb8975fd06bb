package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tracker-mirror/internal/jobs"
)

type taskSpec struct {
	use   string
	short string
	job   string
}

var tasks = []taskSpec{
	{use: "discover", short: "List the tracker index and queue imports of new entries", job: jobs.DiscoverIndex},
	{use: "schedule-feeds", short: "Queue feed renders for categories changed since the watermark", job: jobs.UpdateFeeds},
	{use: "rebuild-map", short: "Publish the category map", job: jobs.RebuildMap},
	{use: "sweep-dirty", short: "Queue feed renders for every dirty category", job: jobs.SweepDirty},
}

// newTaskCmds builds one subcommand per payload-less pipeline job.
func newTaskCmds() []*cobra.Command {
	out := make([]*cobra.Command, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, &cobra.Command{
			Use:   task.use,
			Short: task.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) (err error) {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				defer func() {
					err = errors.Join(err, appInstance.Close(context.WithoutCancel(cmd.Context())))
				}()
				return appInstance.RunTask(cmd.Context(), task.job)
			},
		})
	}
	return out
}
