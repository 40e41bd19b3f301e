package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/observability"
)

var catDest string

var catCmd = &cobra.Command{
	Use:   "cat <uri>",
	Short: "Write a file's content to stdout",
	Long: `Stream the content of a single file to stdout, or to a local file with
--dest.

Examples:
  bucketview cat s3://my-bucket/reports/q1.csv | head
  bucketview cat s3://my-bucket/reports/q1.csv --dest ./q1.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
	addStorageFlags(catCmd)
	catCmd.Flags().StringVar(&catDest, "dest", "", "Write to this local file instead of stdout")
}

func runCat(cmd *cobra.Command, args []string) error {
	uri, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if uri.Key == "" || uri.IsFolder() {
		return exitError(foundry.ExitInvalidArgument, "cat requires a file key", fmt.Errorf("%w: %s names a folder", ErrInvalidURI, uri))
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	body, size, err := a.svc.Open(cmd.Context(), uri.Bucket, uri.Key)
	if err != nil {
		return storeExitError("Failed to open "+uri.String(), err)
	}
	defer func() { _ = body.Close() }()

	var w io.Writer = cmd.OutOrStdout()
	if catDest != "" {
		f, err := os.Create(catDest)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot create "+catDest, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return storeExitError("Failed to read "+uri.String(), err)
	}
	if size >= 0 && n != size {
		return exitError(foundry.ExitExternalServiceUnavailable, "Short read", fmt.Errorf("read %d of %d bytes from %s", n, size, uri))
	}
	observability.CLILogger.Debug("Object streamed", zap.String("uri", uri.String()), zap.Int64("bytes", n))
	return nil
}
