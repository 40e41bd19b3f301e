package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var rmRecursive bool

var rmCmd = &cobra.Command{
	Use:   "rm <uri>...",
	Short: "Delete objects and folders",
	Long: `Delete each object or folder. A folder with content is only deleted with
--recursive; its marker is removed last and kept if any content could not be
deleted. Deleting a key that does not exist succeeds.

Examples:
  bucketview rm s3://my-bucket/a.csv
  bucketview rm --recursive s3://my-bucket/tmp/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
	addStorageFlags(rmCmd)
	addBatchFlags(rmCmd)
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "R", false, "Delete folders together with everything below them")
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket, uris, err := parseSameBucket(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}
	keys := make([]string, 0, len(uris))
	for _, u := range uris {
		if u.Key == "" {
			return exitError(foundry.ExitInvalidArgument, "Refusing to delete the bucket root", ErrInvalidURI)
		}
		keys = append(keys, u.Key)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res := a.svc.Delete(ctx, bucket, keys, rmRecursive)

	w := newWriter(cmd.OutOrStdout(), a.typ)
	defer func() { _ = w.Close() }()
	return writeResult(ctx, w, bucket, res)
}
