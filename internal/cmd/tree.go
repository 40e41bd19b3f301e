package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketview/internal/observability"
	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/output"
)

var treeCmd = &cobra.Command{
	Use:   "tree <uri>",
	Short: "Show the folder tree below a folder",
	Long: `Walk the folder hierarchy below a folder, listing each level in the
same order as ls. --depth bounds how many levels below the folder are
expanded; 0 shows only the direct children.

Examples:
  bucketview tree s3://my-bucket/
  bucketview tree s3://my-bucket/reports/ --depth 1 --output table
  bucketview tree s3://my-bucket/ --depth 5 --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

var (
	treeDepth    int
	treeTimeout  time.Duration
	treeMaxNodes int
)

// errTreeTruncated stops a walk that reached --max-nodes.
var errTreeTruncated = errors.New("tree truncated")

func init() {
	rootCmd.AddCommand(treeCmd)
	addStorageFlags(treeCmd)
	treeCmd.Flags().IntVar(&treeDepth, "depth", 2, "Levels below the folder to expand (0=direct children only)")
	treeCmd.Flags().DurationVar(&treeTimeout, "timeout", 10*time.Minute, "Walk timeout")
	treeCmd.Flags().IntVar(&treeMaxNodes, "max-nodes", 100_000, "Stop after this many nodes (0=unlimited)")
}

func runTree(cmd *cobra.Command, args []string) error {
	uri, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	if treeDepth < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --depth value", fmt.Errorf("depth must be >= 0, got %d", treeDepth))
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	if treeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, treeTimeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	var (
		visit  func(hierarchy.Node) error
		finish func() error
	)
	if outputFormat == "table" {
		visit, finish = treeTextVisitor(out, uri.Key)
	} else {
		w := output.NewJSONLWriter(out, uuid.NewString(), string(a.typ))
		visit = func(n hierarchy.Node) error { return w.WriteNode(ctx, nodeRecord(n)) }
		finish = w.Close
	}

	var folders, files int
	var bytes int64
	err = a.svc.Walk(ctx, uri.Bucket, uri.Key, treeDepth, func(n hierarchy.Node) error {
		if treeMaxNodes > 0 && folders+files >= treeMaxNodes {
			return errTreeTruncated
		}
		if n.IsFolder() {
			folders++
		} else {
			files++
			bytes += n.Size
		}
		return visit(n)
	})

	truncated := errors.Is(err, errTreeTruncated)
	if err != nil && !truncated {
		observability.CLILogger.Error("Tree walk failed", zap.String("uri", uri.String()), zap.Error(err))
		return storeExitError("Failed to walk "+uri.String(), err)
	}
	if err := finish(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	observability.CLILogger.Info("Tree complete",
		zap.String("uri", uri.String()),
		zap.Int("folders", folders),
		zap.Int("files", files),
		zap.String("bytes", humanize.IBytes(uint64(bytes))),
		zap.Bool("truncated", truncated))
	return nil
}

// treeTextVisitor renders nodes as an indented tree below root.
func treeTextVisitor(w io.Writer, root string) (func(hierarchy.Node) error, func() error) {
	rootDepth := 0
	if root = strings.Trim(root, "/"); root != "" {
		rootDepth = strings.Count(root, "/") + 1
	}

	visit := func(n hierarchy.Node) error {
		indent := strings.Repeat("    ", n.Depth-rootDepth)
		line := indent + n.Name
		if n.IsFolder() {
			line += "/"
		} else {
			line += " (" + humanize.IBytes(uint64(max(n.Size, 0))) + ")"
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
	return visit, func() error { return nil }
}
