package cmd

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/bucketview/pkg/batch"
)

var putName string

var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <dest-folder-uri>",
	Short: "Upload a file into a folder",
	Long: `Upload a local file, or stdin with "-", into a folder. The object is
named after the local file unless --name is given; --name is required for
stdin.

Examples:
  bucketview put ./report.pdf s3://my-bucket/reports/
  cat data.csv | bucketview put - s3://my-bucket/in/ --name data.csv`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
	addStorageFlags(putCmd)
	putCmd.Flags().StringVar(&putName, "name", "", "Object name inside the folder")
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src := args[0]

	uri, err := ParseURI(args[1])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	name := putName
	var (
		body io.Reader
		size int64 = -1
	)
	if src == "-" {
		if name == "" {
			return exitError(foundry.ExitInvalidArgument, "--name is required when reading stdin", ErrInvalidURI)
		}
		body = cmd.InOrStdin()
	} else {
		f, err := os.Open(src)
		if err != nil {
			return exitError(foundry.ExitFileNotFound, "Cannot open "+src, err)
		}
		defer func() { _ = f.Close() }()
		info, err := f.Stat()
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Cannot stat "+src, err)
		}
		if name == "" {
			name = filepath.Base(src)
		}
		body, size = f, info.Size()
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	start := time.Now()
	outcome := batch.Outcome{Status: batch.StatusSuccess}
	key, err := a.svc.Upload(ctx, uri.Bucket, uri.Key, name, body, size)
	if err != nil {
		outcome = batch.Outcome{Status: batch.StatusFailed, Err: err}
	}
	outcome.DestKey = key
	res := &batch.Result{
		Op:       batch.OpUpload,
		Outcomes: map[string]batch.Outcome{src: outcome},
		Duration: time.Since(start),
	}

	w := newWriter(cmd.OutOrStdout(), a.typ)
	defer func() { _ = w.Close() }()
	return writeResult(ctx, w, uri.Bucket, res)
}
