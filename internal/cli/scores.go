package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
)

// NewScoresCommand creates the scores command group.
func NewScoresCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Read and write cached quality scores",
	}

	cmd.AddCommand(newScoresListCommand(rootOpts))
	cmd.AddCommand(newScoresPutCommand(rootOpts))

	return cmd
}

// ScoreListing is the result of scores list.
type ScoreListing struct {
	Scores []model.QualityScore `json:"scores"`
}

// RenderText writes one line per score.
func (l ScoreListing) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Quality scores: %d\n", len(l.Scores))
	for _, q := range l.Scores {
		fmt.Fprintf(w, "%s  task=%s  score=%.2f  %s", q.ID, q.TaskID, q.Score, q.RecordedAt.UTC().Format(time.RFC3339))
		if q.Location != "" {
			fmt.Fprintf(w, "  %s", q.Location)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func newScoresListCommand(rootOpts *RootOptions) *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List cached quality scores",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			var scores []model.QualityScore
			if taskID != "" {
				scores, err = a.store.ListQualityScoresByTask(ctx, taskID)
			} else {
				scores, err = a.engine.GetAllQualityScores(ctx)
			}
			if err != nil {
				return a.fail(CodeStorage, "failed to list quality scores", err)
			}
			return a.out.Success(ScoreListing{Scores: scores})
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "only scores for this task")

	return cmd
}

func newScoresPutCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:           "put",
		Short:         "Save a quality score to the local cache",
		Example:       `  fieldsync scores put --data '{"id":"q1","task_id":"42","score":0.93}'`,
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
			var score model.QualityScore
			if err := json.Unmarshal(raw, &score); err != nil {
				_ = out.Error(CodeInput, "invalid quality score", err.Error())
				return WrapExitError(ExitCommandError, "invalid quality score", err)
			}
			if score.ID == "" || score.TaskID == "" {
				_ = out.Error(CodeInput, "invalid quality score", "id and task_id are required")
				return NewExitError(ExitCommandError, "invalid quality score: id and task_id are required")
			}
			if score.Score < 0 || score.Score > 1 {
				_ = out.Error(CodeInput, "invalid quality score", "score must be between 0 and 1")
				return NewExitError(ExitCommandError, "invalid quality score: score must be between 0 and 1")
			}

			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if score.RecordedAt.IsZero() {
				score.RecordedAt = a.now().UTC()
			}
			if err := a.engine.SaveQualityScore(commandContext(cmd), score); err != nil {
				return a.fail(CodeStorage, "failed to save quality score", err)
			}
			return a.out.Success(fmt.Sprintf("Saved quality score %s", score.ID))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "-", "score JSON, @file, or - for stdin")

	return cmd
}
