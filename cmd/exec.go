package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/tsq/protocol"
)

var extractPath string

var ExecCmd = &cobra.Command{
	Use:   "exec <verb> [key=value]... [-option]...",
	Short: "Run one query command and print its records as JSON",
	Long: `Run one query command and print its records as a JSON array.

Arguments of the form key=value become parameters, arguments starting
with a dash become option flags. Values are escaped automatically.

Option flags must come after a -- separator so they are not mistaken
for tsq's own flags.

Usage
	tsq exec whoami
	tsq exec clientlist -- -uid -away
	tsq exec clientkick reasonid=5 clid=12

A nonzero server status makes the command exit 1 with the status
message on stderr.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		q, err := buildQuery(args)
		if err != nil {
			return err
		}

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		resp, err := s.conn.Exec(ctx, q)
		if err != nil {
			return err
		}
		if err := resp.Status.Err(); err != nil {
			return err
		}

		out, err := renderRecords(resp.All())
		if err != nil {
			return err
		}

		if extractPath != "" {
			out = gjson.Get(out, extractPath).String()
		}

		fmt.Println(out)
		return nil
	},
}

func init() {
	flags := ExecCmd.Flags()
	flags.StringVar(&extractPath, "extract", "", "A path query applied to the JSON output, e.g. '0.client_nickname' or '#.clid'")
}

// buildQuery turns CLI arguments into a protocol query. Repeating a key
// pipelines it: `clid=1 clid=2` becomes `clid=1|clid=2`.
func buildQuery(args []string) (*protocol.Query, error) {
	q := protocol.NewQuery(args[0])

	values := map[string][]interface{}{}
	order := []string{}

	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "-") {
			q.Option(strings.TrimPrefix(arg, "-"))
			continue
		}

		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("argument %q is neither key=value nor -option", arg)
		}
		if _, ok := values[parts[0]]; !ok {
			order = append(order, parts[0])
		}
		values[parts[0]] = append(values[parts[0]], parts[1])
	}

	for _, key := range order {
		if vs := values[key]; len(vs) == 1 {
			q.Param(key, vs[0])
		} else {
			q.ParamList(key, vs...)
		}
	}

	return q, nil
}

// renderRecords builds the JSON array output document.
func renderRecords(records []protocol.Record) (string, error) {
	out := "[]"

	for i, record := range records {
		// Arrays grow on demand; setting index i on a shorter array
		// appends.
		path := fmt.Sprintf("%d", i)
		var err error
		if out, err = sjson.SetRaw(out, path, "{}"); err != nil {
			return "", err
		}
		for key, value := range record {
			if out, err = sjson.Set(out, path+"."+escapeJSONPath(key), value); err != nil {
				return "", err
			}
		}
	}

	return out, nil
}

// escapeJSONPath protects dots in record keys from being treated as
// path separators. Query keys are [a-z0-9_] in practice, but event
// payloads can be looser.
func escapeJSONPath(key string) string {
	key = strings.ReplaceAll(key, "\\", "\\\\")
	return strings.ReplaceAll(key, ".", "\\.")
}
