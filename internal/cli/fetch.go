package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Data    string
	Headers []string
	Offline bool
}

// FetchResult is the result of fetch.
type FetchResult struct {
	Status    int             `json:"status"`
	Queued    bool            `json:"queued"`
	PendingID int64           `json:"pending_id,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Text      string          `json:"text,omitempty"`
}

func newFetchResult(resp *model.Response) FetchResult {
	r := FetchResult{
		Status:    resp.Status,
		Queued:    resp.Queued,
		PendingID: resp.PendingID,
	}
	if json.Valid(resp.Body) {
		r.Body = resp.Body
	} else if len(resp.Body) > 0 {
		r.Text = string(resp.Body)
	}
	return r
}

// RenderText writes the status line and the body.
func (r FetchResult) RenderText(w io.Writer) error {
	if r.Queued {
		fmt.Fprintf(w, "Queued as #%d (offline)\n", r.PendingID)
		return nil
	}
	fmt.Fprintf(w, "HTTP %d\n", r.Status)
	switch {
	case len(r.Body) > 0:
		fmt.Fprintln(w, string(r.Body))
	case r.Text != "":
		fmt.Fprintln(w, r.Text)
	}
	return nil
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <method> <url>",
		Short: "Send a request, queueing it if the API is unreachable",
		Long: `Send one HTTP request through the offline-aware engine.

If the API is reachable the server's response is printed, whatever its
status. If it is not, the request is stored in the local queue and replayed
by "fieldsync queue sync" or "fieldsync run".

A url starting with "/" is resolved against api.base_url. The bearer token
from FIELDSYNC_TOKEN is attached unless an Authorization header is given.`,
		Example: `  fieldsync fetch POST /tasks/42/complete --data '{"notes":"done"}'
  fieldsync fetch GET https://api.example.com/tasks -H 'Accept: application/json'
  fieldsync fetch PUT /tasks/42 --data @task.json --offline`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "JSON request body, or @file")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "request header \"Key: value\" (repeatable)")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "queue without trying the network")

	return cmd
}

func runFetch(opts *FetchOptions, method, target string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		_ = out.Error(CodeInput, "invalid header", err.Error())
		return WrapExitError(ExitCommandError, "invalid header", err)
	}
	body, err := readJSONArg(opts.Data, cmd.InOrStdin())
	if err != nil {
		_ = out.Error(CodeInput, "invalid --data", err.Error())
		return WrapExitError(ExitCommandError, "invalid --data", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Token != "" {
		if headers == nil {
			headers = map[string]string{}
		}
		if !hasHeader(headers, "Authorization") {
			headers["Authorization"] = "Bearer " + a.cfg.Token
		}
	}

	ctx := commandContext(cmd)
	if opts.Offline {
		a.monitor.SetPlatformOnline(false)
	} else {
		a.probe(ctx)
	}

	req := model.Request{
		URL:     a.resolveURL(target),
		Method:  method,
		Headers: headers,
		Body:    body,
	}
	a.out.VerboseLog("%s %s (online=%t)", strings.ToUpper(method), req.URL, a.engine.Online())

	resp, err := a.engine.FetchWithOfflineSupport(ctx, req)
	if err != nil {
		if model.IsStorage(err) {
			return a.fail(CodeStorage, "failed to queue request", err)
		}
		return a.fail(CodeNetwork, "request failed", err)
	}
	return a.out.Success(newFetchResult(resp))
}

// readJSONArg reads a JSON value given inline, as @file, or as "-" for
// stdin. Empty means no body.
func readJSONArg(arg string, stdin io.Reader) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}

	var data []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	case strings.HasPrefix(arg, "@"):
		path := strings.TrimPrefix(arg, "@")
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		data = b
	default:
		data = []byte(arg)
	}

	if !json.Valid(data) {
		return nil, errors.New("not valid JSON")
	}
	return json.RawMessage(data), nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
