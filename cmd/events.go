package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/tsq/client"
	"github.com/luma/tsq/protocol"
)

var (
	eventSources []string
	eventChannel int
)

var EventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream server notifications as JSON lines",
	Long: `Register for server notifications and print each one as a JSON
line until interrupted. The connection keeps itself alive, so this can
run for as long as you care to watch.

Usage
	tsq events
	tsq events --source server --source textserver
	tsq events --source channel --channel 42
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		for _, source := range eventSources {
			if err := s.conn.ServerNotifyRegister(ctx, source, eventChannel); err != nil {
				return fmt.Errorf("failed to register for %q events: %w", source, err)
			}
		}

		s.log.Info("Listening for events", zap.Strings("sources", eventSources))

		for {
			event, err := s.conn.WaitForEvent(ctx)
			if err != nil {
				// An interrupt cancels the context; that is a clean exit.
				if ctx.Err() != nil || errors.Is(err, client.ErrClosed) {
					return nil
				}
				return err
			}

			line, err := renderEvent(event)
			if err != nil {
				return err
			}
			fmt.Println(line)
		}
	},
}

func init() {
	flags := EventsCmd.Flags()
	flags.StringArrayVar(&eventSources, "source", []string{"server"},
		"An event source to register: server, channel, textserver, textchannel or textprivate")
	flags.IntVar(&eventChannel, "channel", 0, "The channel id for channel-scoped sources")
}

func renderEvent(event *protocol.Event) (string, error) {
	out, err := sjson.Set("{}", "event", event.Name)
	if err != nil {
		return "", err
	}

	for key, value := range event.Data {
		if out, err = sjson.Set(out, "data."+escapeJSONPath(key), value); err != nil {
			return "", err
		}
	}

	return out, nil
}
