package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tsq/client"
	"github.com/luma/tsq/cmd/gen"
	"github.com/luma/tsq/internal/env"
	"github.com/luma/tsq/internal/meta"
)

var (
	// Connection flags. Anything left at its zero value falls back to
	// the TSQ_* environment (see internal/env).
	host     string
	port     int
	user     string
	password string
	serverID int
	debug    bool
)

var RootCmd = &cobra.Command{
	Use:   "tsq",
	Short: "Administer a voice server over its query protocol",
	Long: `tsq talks to the ServerQuery interface of a voice-conferencing
server: run administrative commands, stream server notifications and
move files in and out of channels.

Connection parameters come from flags or from the environment
(TSQ_HOST, TSQ_PORT, TSQ_USER, TSQ_PASSWORD, TSQ_SERVER_ID), with a
.env.local file honoured in the working directory.
`,
	Version: meta.GetInfo().Version,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&host, "host", "a", "", "The host running the query service")
	flags.IntVarP(&port, "port", "p", 0, "The query service port")
	flags.StringVar(&user, "user", "", "The query login name")
	flags.StringVar(&password, "password", "", "The query login password")
	flags.IntVar(&serverID, "sid", 0, "The virtual server to select after login")
	flags.BoolVar(&debug, "debug", false, "Log protocol traffic")

	RootCmd.AddCommand(ExecCmd)
	RootCmd.AddCommand(EventsCmd)
	RootCmd.AddCommand(UploadCmd)
	RootCmd.AddCommand(DownloadCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is an established, logged-in query connection plus the bits
// every subcommand needs to tear it down again.
type session struct {
	conn *client.Conn
	log  *zap.Logger
}

func (s *session) close() {
	if err := s.conn.Close(); err != nil {
		s.log.Warn("Failed to close the connection cleanly", zap.Error(err))
	}
	_ = s.log.Sync()
}

// newSession merges flags over the environment config, connects, logs
// in when credentials are present and selects the virtual server.
func newSession(ctx context.Context) (*session, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if host != "" {
		conf.Host = host
	}
	if port != 0 {
		conf.Port = port
	}
	if user != "" {
		conf.User = user
	}
	if password != "" {
		conf.Password = password
	}
	if serverID != 0 {
		conf.ServerID = serverID
	}

	log, err := env.MakeLogger(debug || conf.Debug)
	if err != nil {
		return nil, err
	}

	conn := client.New(log.Named("client"),
		client.WithKeepaliveInterval(5*time.Minute))

	addr := net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := conn.Connect(dialCtx, addr); err != nil {
		return nil, err
	}

	if conf.User != "" {
		if err := conn.Login(dialCtx, conf.User, conf.Password); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}

	if conf.ServerID != 0 {
		if err := conn.Use(dialCtx, conf.ServerID); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to select virtual server %d: %w", conf.ServerID, err)
		}
	}

	return &session{conn: conn, log: log}, nil
}
