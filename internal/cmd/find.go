package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/bucketview/internal/observability"
	"go.uber.org/zap"
)

var findCmd = &cobra.Command{
	Use:   "find <uri> [pattern]",
	Short: "Find files below a folder by name",
	Long: `Search every file below a folder. A pattern with glob characters
(* ? [ {) is matched against the path relative to the folder, with ** crossing
folders. Any other pattern matches case-insensitively as a substring. An empty
pattern lists every file.

Examples:
  bucketview find s3://my-bucket/logs/ '**/*.gz'
  bucketview find s3://my-bucket/ invoice`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFind,
}

func init() {
	rootCmd.AddCommand(findCmd)
	addStorageFlags(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	uri, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	pattern := ""
	if len(args) == 2 {
		pattern = args[1]
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	nodes, err := a.svc.Find(cmd.Context(), uri.Bucket, uri.Key, pattern)
	if err != nil {
		observability.CLILogger.Error("Find failed", zap.String("uri", uri.String()), zap.String("pattern", pattern), zap.Error(err))
		return storeExitError("Failed to search "+uri.String(), err)
	}
	return writeNodes(cmd, a, nodes)
}
