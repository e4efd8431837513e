package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tsq/filetransfer"
)

var (
	downloadChannel  int
	downloadPassword string
	downloadLocal    string
	downloadSeek     int64
)

var DownloadCmd = &cobra.Command{
	Use:   "download <remote file>",
	Short: "Download a file from a channel",
	Long: `Download a file from a channel's file repository.

Usage
	tsq download /backups/monday.tar --cid 42
	tsq download /backups/monday.tar --cid 42 --to monday.tar
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		local := downloadLocal
		if local == "" {
			local = path.Base(args[0])
		}

		flag := os.O_WRONLY | os.O_CREATE
		if downloadSeek > 0 {
			flag |= os.O_APPEND
		} else {
			flag |= os.O_TRUNC
		}
		file, err := os.OpenFile(local, flag, 0o644)
		if err != nil {
			return err
		}
		defer file.Close()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		ft := filetransfer.New(s.conn, s.log.Named("filetransfer"))

		result, err := ft.Download(ctx, filetransfer.DownloadRequest{
			Name:            args[0],
			ChannelID:       downloadChannel,
			ChannelPassword: downloadPassword,
			Seek:            downloadSeek,
			Sink:            file,
		})
		if err != nil {
			return err
		}

		s.log.Info("Download complete",
			zap.String("name", args[0]),
			zap.Int64("size", result.Size),
			zap.Uint32("crc32", result.Checksum))

		fmt.Printf("downloaded %s (%d bytes, crc32 %08x)\n", local, result.Size, result.Checksum)
		return nil
	},
}

func init() {
	flags := DownloadCmd.Flags()
	flags.IntVar(&downloadChannel, "cid", 0, "The channel holding the file")
	flags.StringVar(&downloadPassword, "cpw", "", "The channel password, if any")
	flags.StringVar(&downloadLocal, "to", "", "The local path (defaults to the remote basename)")
	flags.Int64Var(&downloadSeek, "seek", 0, "Byte offset to resume the download from")

	if err := DownloadCmd.MarkFlagRequired("cid"); err != nil {
		panic(err)
	}
}
