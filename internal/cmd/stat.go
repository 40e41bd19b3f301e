package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/observability"
	"github.com/3leaps/bucketview/pkg/hierarchy"
)

var statCmd = &cobra.Command{
	Use:   "stat <uri>",
	Short: "Describe one file or folder",
	Long: `Print metadata for a single key. A URI ending in "/" names a folder,
which exists when it has a marker object or any content.

Examples:
  bucketview stat s3://my-bucket/reports/q1.csv
  bucketview stat s3://my-bucket/reports/ --output table`,
	Args: cobra.ExactArgs(1),
	RunE: runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
	addStorageFlags(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	uri, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if uri.Key == "" {
		return exitError(foundry.ExitInvalidArgument, "stat requires a key", ErrInvalidURI)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	node, err := a.svc.Stat(cmd.Context(), uri.Bucket, uri.Key)
	if err != nil {
		observability.CLILogger.Debug("Stat failed", zap.String("uri", uri.String()), zap.Error(err))
		return storeExitError("Failed to stat "+uri.String(), err)
	}
	return writeNodes(cmd, a, []hierarchy.Node{node})
}
