package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/bucketview/pkg/batch"
)

var cpCmd = &cobra.Command{
	Use:   "cp <source-uri>... <dest-folder-uri>",
	Short: "Copy objects into a folder",
	Long: `Copy each source object into the destination folder, keeping its name.
Every source is reported separately; one failure does not stop the others.

Examples:
  bucketview cp s3://my-bucket/a.csv s3://my-bucket/b.csv s3://my-bucket/backup/`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, args, batch.OpCopy)
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <source-uri>... <dest-folder-uri>",
	Short: "Move objects into a folder",
	Long: `Move each source object into the destination folder by copying it,
verifying the copy and deleting the source. If the delete fails after a
successful copy the object is reported as duplicated and exists at both keys.

Examples:
  bucketview mv s3://my-bucket/inbox/a.csv s3://my-bucket/archive/`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, args, batch.OpMove)
	},
}

func init() {
	for _, c := range []*cobra.Command{cpCmd, mvCmd} {
		rootCmd.AddCommand(c)
		addStorageFlags(c)
		addBatchFlags(c)
	}
}

func runTransfer(cmd *cobra.Command, args []string, op batch.Op) error {
	ctx := cmd.Context()
	bucket, uris, err := parseSameBucket(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	destURI := uris[len(uris)-1]
	dest, err := destURI.Folder()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid destination", err)
	}
	keys := make([]string, 0, len(uris)-1)
	for _, u := range uris[:len(uris)-1] {
		if u.Key == "" {
			return exitError(foundry.ExitInvalidArgument, "Invalid source", fmt.Errorf("%s names the bucket root", u))
		}
		keys = append(keys, u.Key)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var res *batch.Result
	if op == batch.OpMove {
		res = a.svc.Move(ctx, bucket, keys, dest.String())
	} else {
		res = a.svc.Copy(ctx, bucket, keys, dest.String())
	}

	w := newWriter(cmd.OutOrStdout(), a.typ)
	defer func() { _ = w.Close() }()
	return writeResult(ctx, w, bucket, res)
}
