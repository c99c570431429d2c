package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// NewTasksCommand creates the tasks command group.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Read and write the local task cache",
	}

	cmd.AddCommand(newTasksListCommand(rootOpts))
	cmd.AddCommand(newTasksGetCommand(rootOpts))
	cmd.AddCommand(newTasksPutCommand(rootOpts))

	return cmd
}

// TaskListing is the result of tasks list.
type TaskListing struct {
	Tasks []model.Task `json:"tasks"`
}

// RenderText writes one line per task.
func (l TaskListing) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Tasks: %d\n", len(l.Tasks))
	for _, t := range l.Tasks {
		fmt.Fprintf(w, "%s  %-11s  %s", t.ID, t.Status, t.ScheduledAt.UTC().Format(time.RFC3339))
		if t.AssignedTo != "" {
			fmt.Fprintf(w, "  @%s", t.AssignedTo)
		}
		if t.Title != "" {
			fmt.Fprintf(w, "  %s", t.Title)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func newTasksListCommand(rootOpts *RootOptions) *cobra.Command {
	var status, assignee string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List cached tasks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && assignee != "" {
				return NewExitError(ExitCommandError, "--status and --assignee are mutually exclusive")
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			var tasks []model.Task
			switch {
			case status != "":
				tasks, err = a.store.ListTasksByStatus(ctx, model.TaskStatus(status))
			case assignee != "":
				tasks, err = a.store.ListTasksByAssignee(ctx, assignee)
			default:
				tasks, err = a.engine.GetAllTasks(ctx)
			}
			if err != nil {
				return a.fail(CodeStorage, "failed to list tasks", err)
			}
			return a.out.Success(TaskListing{Tasks: tasks})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only tasks with this status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "only tasks assigned to this user")

	return cmd
}

func newTasksGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <id>",
		Short:         "Show one cached task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.engine.GetTask(commandContext(cmd), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return a.fail(CodeNotFound, fmt.Sprintf("task %s not found", args[0]), err)
			}
			if err != nil {
				return a.fail(CodeStorage, "failed to read task", err)
			}
			return a.out.Success(TaskListing{Tasks: []model.Task{task}})
		},
	}
}

func newTasksPutCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Save a task snapshot to the local cache",
		Long: `Save a task snapshot to the local cache, replacing any stored copy.

The snapshot is read from --data (inline JSON, @file, or - for stdin).`,
		Example:       `  fieldsync tasks put --data '{"id":"42","status":"pending","scheduled_at":"2024-05-01T08:00:00Z"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			raw, err := readJSONArg(data, cmd.InOrStdin())
			if err != nil {
				_ = out.Error(CodeInput, "invalid --data", err.Error())
				return WrapExitError(ExitCommandError, "invalid --data", err)
			}
			var task model.Task
			if err := json.Unmarshal(raw, &task); err != nil {
				_ = out.Error(CodeInput, "invalid task", err.Error())
				return WrapExitError(ExitCommandError, "invalid task", err)
			}
			if task.ID == "" {
				_ = out.Error(CodeInput, "invalid task", "id is required")
				return NewExitError(ExitCommandError, "invalid task: id is required")
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if task.UpdatedAt.IsZero() {
				task.UpdatedAt = a.now().UTC()
			}
			if err := a.engine.SaveTask(commandContext(cmd), task); err != nil {
				return a.fail(CodeStorage, "failed to save task", err)
			}
			return a.out.Success(fmt.Sprintf("Saved task %s", task.ID))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "-", "task JSON, @file, or - for stdin")

	return cmd
}
