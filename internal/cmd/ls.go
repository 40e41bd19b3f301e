package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/observability"
	"github.com/3leaps/bucketview/pkg/hierarchy"
)

var lsCmd = &cobra.Command{
	Use:   "ls <uri>",
	Short: "List the folders and files directly inside a folder",
	Long: `List one level of the folder hierarchy. Folders come first, then files,
each group ordered by name.

Examples:
  bucketview ls s3://my-bucket
  bucketview ls s3://my-bucket/reports/2024/ --output table`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
	addStorageFlags(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	uri, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	nodes, err := a.svc.GetChildren(ctx, uri.Bucket, uri.Key)
	if err != nil {
		observability.CLILogger.Error("Listing failed", zap.String("uri", uri.String()), zap.Error(err))
		return storeExitError("Failed to list "+uri.String(), err)
	}
	return writeNodes(cmd, a, nodes)
}

func writeNodes(cmd *cobra.Command, a *app, nodes []hierarchy.Node) error {
	ctx := cmd.Context()
	w := newWriter(cmd.OutOrStdout(), a.typ)
	for _, n := range nodes {
		if err := w.WriteNode(ctx, nodeRecord(n)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	if err := w.Close(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to flush output", fmt.Errorf("close writer: %w", err))
	}
	return nil
}
