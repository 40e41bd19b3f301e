package cmd

import (
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/keypath"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <uri>...",
	Short: "Create empty folders",
	Long: `Create each folder by writing a zero-byte marker object. Creating an
existing folder succeeds.

Examples:
  bucketview mkdir s3://my-bucket/reports/2025
  bucketview mkdir s3://my-bucket/a/ s3://my-bucket/b/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMkdir,
}

func init() {
	rootCmd.AddCommand(mkdirCmd)
	addStorageFlags(mkdirCmd)
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	bucket, uris, err := parseSameBucket(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	start := time.Now()
	res := &batch.Result{Op: batch.OpCreateFolder, Outcomes: make(map[string]batch.Outcome, len(uris))}
	for _, u := range uris {
		outcome := batch.Outcome{Status: batch.StatusSuccess}
		if err := a.svc.CreateFolder(ctx, bucket, u.Key); err != nil {
			outcome = batch.Outcome{Status: batch.StatusFailed, Err: err}
		} else if folder, err := u.Folder(); err == nil {
			outcome.DestKey, _ = keypath.FolderKey(folder)
		}
		res.Outcomes[u.Key] = outcome
	}
	res.Duration = time.Since(start)

	w := newWriter(cmd.OutOrStdout(), a.typ)
	defer func() { _ = w.Close() }()
	return writeResult(ctx, w, bucket, res)
}
