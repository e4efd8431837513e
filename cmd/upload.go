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
	uploadChannel   int
	uploadPassword  string
	uploadRemote    string
	uploadOverwrite bool
	uploadResume    bool
)

var UploadCmd = &cobra.Command{
	Use:   "upload <local file>",
	Short: "Upload a file into a channel",
	Long: `Upload a local file into a channel's file repository.

Usage
	tsq upload backup.tar --cid 42
	tsq upload backup.tar --cid 42 --to /backups/monday.tar --overwrite
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			return err
		}

		remote := uploadRemote
		if remote == "" {
			remote = "/" + path.Base(args[0])
		}

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		ft := filetransfer.New(s.conn, s.log.Named("filetransfer"))

		result, err := ft.Upload(ctx, filetransfer.UploadRequest{
			Name:            remote,
			ChannelID:       uploadChannel,
			ChannelPassword: uploadPassword,
			Size:            info.Size(),
			Overwrite:       uploadOverwrite,
			Resume:          uploadResume,
			Source:          file,
		})
		if err != nil {
			return err
		}

		s.log.Info("Upload complete",
			zap.String("name", remote),
			zap.Int64("size", result.Size),
			zap.Uint32("crc32", result.Checksum))

		fmt.Printf("uploaded %s (%d bytes, crc32 %08x)\n", remote, result.Size, result.Checksum)
		return nil
	},
}

func init() {
	flags := UploadCmd.Flags()
	flags.IntVar(&uploadChannel, "cid", 0, "The channel to upload into")
	flags.StringVar(&uploadPassword, "cpw", "", "The channel password, if any")
	flags.StringVar(&uploadRemote, "to", "", "The remote path (defaults to /<basename>)")
	flags.BoolVar(&uploadOverwrite, "overwrite", false, "Replace an existing remote file")
	flags.BoolVar(&uploadResume, "resume", false, "Resume a partial upload")

	if err := UploadCmd.MarkFlagRequired("cid"); err != nil {
		panic(err)
	}
}
