package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bucketview/pkg/output"
	"github.com/3leaps/bucketview/pkg/provider"
	"github.com/3leaps/bucketview/pkg/provider/memory"
)

// runCLI executes the root command against the memory backend and returns
// stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BUCKETVIEW_STORAGE_BACKEND", "memory")
	t.Setenv("BUCKETVIEW_CONFIG", "")
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func freshBucket(t *testing.T, name string, objects map[string][]byte) {
	t.Helper()
	old := memoryStore
	memoryStore = memory.NewStore()
	t.Cleanup(func() { memoryStore = old })
	memoryStore.Seed(name, objects)
}

func decodeRecords(t *testing.T, out string) []output.Record {
	t.Helper()
	var recs []output.Record
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func nodesOf(t *testing.T, recs []output.Record) []output.NodeRecord {
	t.Helper()
	var nodes []output.NodeRecord
	for _, r := range recs {
		if r.Type != output.TypeNode {
			continue
		}
		var n output.NodeRecord
		require.NoError(t, json.Unmarshal(r.Data, &n))
		nodes = append(nodes, n)
	}
	return nodes
}

func outcomesOf(t *testing.T, recs []output.Record) map[string]output.OutcomeRecord {
	t.Helper()
	outcomes := map[string]output.OutcomeRecord{}
	for _, r := range recs {
		if r.Type != output.TypeOutcome {
			continue
		}
		var o output.OutcomeRecord
		require.NoError(t, json.Unmarshal(r.Data, &o))
		outcomes[o.Key] = o
	}
	return outcomes
}

func TestLsCommand(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{
		"b.txt":          []byte("bb"),
		"a/x.txt":        []byte("x"),
		"reports/":       nil,
		"reports/q1.csv": []byte("1,2"),
	})

	out, err := runCLI(t, "ls", "s3://demo")
	require.NoError(t, err)

	nodes := nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 3)
	assert.Equal(t, "a", nodes[0].Name)
	assert.Equal(t, "folder", nodes[0].Kind)
	assert.False(t, nodes[0].HasMarker)
	assert.Equal(t, "reports", nodes[1].Name)
	assert.True(t, nodes[1].HasMarker)
	assert.Equal(t, "b.txt", nodes[2].Name)
	assert.Equal(t, int64(2), nodes[2].Size)

	out, err = runCLI(t, "ls", "s3://demo/reports/")
	require.NoError(t, err)
	nodes = nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 1)
	assert.Equal(t, "reports/q1.csv", nodes[0].Key)
}

func TestLsTableOutput(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a/x.txt": []byte("x"), "b.txt": []byte("bb")})

	out, err := runCLI(t, "ls", "-o", "table", "s3://demo/")
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "a/")
	assert.Contains(t, out, "b.txt")
}

func TestLsErrors(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a.txt": nil})

	_, err := runCLI(t, "ls", "gs://demo/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	_, err = runCLI(t, "ls", "s3://missing/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.True(t, provider.IsBucketNotFound(err))
}

func TestFindCommand(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{
		"logs/2024/app.gz":  []byte("1"),
		"logs/2024/app.txt": []byte("2"),
		"logs/2025/api.gz":  []byte("3"),
		"other/Invoice.pdf": []byte("4"),
	})

	out, err := runCLI(t, "find", "s3://demo/logs/", "**/*.gz")
	require.NoError(t, err)
	nodes := nodesOf(t, decodeRecords(t, out))
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	assert.ElementsMatch(t, []string{"logs/2024/app.gz", "logs/2025/api.gz"}, keys)

	out, err = runCLI(t, "find", "s3://demo/", "invoice")
	require.NoError(t, err)
	nodes = nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 1)
	assert.Equal(t, "other/Invoice.pdf", nodes[0].Key)
}

func TestMkdirCommand(t *testing.T) {
	freshBucket(t, "demo", nil)

	out, err := runCLI(t, "mkdir", "s3://demo/reports/2025", "s3://demo/inbox/")
	require.NoError(t, err)

	assert.True(t, memoryStore.Exists("demo", "reports/2025/"))
	assert.True(t, memoryStore.Exists("demo", "inbox/"))

	outcomes := outcomesOf(t, decodeRecords(t, out))
	require.Len(t, outcomes, 2)
	assert.Equal(t, "success", outcomes["reports/2025"].Status)
	assert.Equal(t, "reports/2025/", outcomes["reports/2025"].DestKey)
}

func TestMkdirRejectsMixedBuckets(t *testing.T) {
	freshBucket(t, "demo", nil)

	_, err := runCLI(t, "mkdir", "s3://demo/a", "s3://other/b")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestCpAndMvCommands(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{
		"inbox/a.csv": []byte("a"),
		"inbox/b.csv": []byte("b"),
		"archive/":    nil,
	})

	out, err := runCLI(t, "cp", "s3://demo/inbox/a.csv", "s3://demo/archive/")
	require.NoError(t, err)
	assert.True(t, memoryStore.Exists("demo", "inbox/a.csv"))
	assert.True(t, memoryStore.Exists("demo", "archive/a.csv"))
	assert.Equal(t, "archive/a.csv", outcomesOf(t, decodeRecords(t, out))["inbox/a.csv"].DestKey)

	_, err = runCLI(t, "mv", "s3://demo/inbox/b.csv", "s3://demo/archive/")
	require.NoError(t, err)
	assert.False(t, memoryStore.Exists("demo", "inbox/b.csv"))
	assert.True(t, memoryStore.Exists("demo", "archive/b.csv"))
}

func TestMvReportsDuplicate(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a.csv": []byte("a")})
	memoryStore.InjectFault("demo", memory.OpDelete, "a.csv", provider.ErrAccessDenied)

	out, err := runCLI(t, "mv", "s3://demo/a.csv", "s3://demo/dst/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))

	o := outcomesOf(t, decodeRecords(t, out))["a.csv"]
	assert.Equal(t, "duplicate", o.Status)
	assert.Equal(t, output.ErrCodeDuplicateAfterFailedMove, o.ErrorCode)
	assert.True(t, memoryStore.Exists("demo", "a.csv"))
	assert.True(t, memoryStore.Exists("demo", "dst/a.csv"))
}

func TestRmCommand(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{
		"tmp/":        nil,
		"tmp/a.txt":   []byte("a"),
		"tmp/b/c.txt": []byte("c"),
		"keep.txt":    []byte("k"),
	})

	_, err := runCLI(t, "rm", "s3://demo/tmp/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.True(t, memoryStore.Exists("demo", "tmp/a.txt"))

	out, err := runCLI(t, "rm", "--recursive", "s3://demo/tmp/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, memoryStore.Keys("demo"))
	assert.Equal(t, 3, outcomesOf(t, decodeRecords(t, out))["tmp/"].Deleted)
}

func TestRmRefusesBucketRoot(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a.txt": nil})

	_, err := runCLI(t, "rm", "s3://demo")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.True(t, memoryStore.Exists("demo", "a.txt"))
}

func TestPutCommand(t *testing.T) {
	freshBucket(t, "demo", nil)

	src := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("pdf-bytes"), 0o600))

	out, err := runCLI(t, "put", src, "s3://demo/reports/")
	require.NoError(t, err)
	assert.True(t, memoryStore.Exists("demo", "reports/report.pdf"))
	assert.Equal(t, "reports/report.pdf", outcomesOf(t, decodeRecords(t, out))[src].DestKey)

	_, err = runCLI(t, "put", src, "s3://demo/reports/", "--name", "renamed.pdf")
	require.NoError(t, err)
	assert.True(t, memoryStore.Exists("demo", "reports/renamed.pdf"))
}

func TestPutErrors(t *testing.T) {
	freshBucket(t, "demo", nil)

	_, err := runCLI(t, "put", "-", "s3://demo/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	_, err = runCLI(t, "put", filepath.Join(t.TempDir(), "absent"), "s3://demo/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	t.Setenv("BUCKETVIEW_SECRET_ACCESS_KEY", "super-secret")

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: memory")
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "********")
}

func TestTreeCommand(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{
		"a/b/c.txt": []byte("ccc"),
		"a/d.txt":   []byte("d"),
		"e.txt":     []byte("e"),
	})

	out, err := runCLI(t, "tree", "s3://demo/", "--depth", "0")
	require.NoError(t, err)
	nodes := nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 2)

	out, err = runCLI(t, "tree", "s3://demo/", "--depth", "5")
	require.NoError(t, err)
	nodes = nodesOf(t, decodeRecords(t, out))
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	assert.Equal(t, []string{"a/", "a/b/", "a/b/c.txt", "a/d.txt", "e.txt"}, keys)

	out, err = runCLI(t, "tree", "s3://demo/a/", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, "b/\n    c.txt (3 B)\nd.txt (1 B)\n", out)

	_, err = runCLI(t, "tree", "s3://demo/", "--depth", "-1")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestTreeMaxNodes(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a": nil, "b": nil, "c": nil})

	out, err := runCLI(t, "tree", "s3://demo/", "--max-nodes", "2")
	require.NoError(t, err)
	assert.Len(t, nodesOf(t, decodeRecords(t, out)), 2)
}

func TestStatCommand(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a/b.txt": []byte("hello")})

	out, err := runCLI(t, "stat", "s3://demo/a/b.txt")
	require.NoError(t, err)
	nodes := nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 1)
	assert.Equal(t, "file", nodes[0].Kind)
	assert.Equal(t, int64(5), nodes[0].Size)

	out, err = runCLI(t, "stat", "s3://demo/a/")
	require.NoError(t, err)
	nodes = nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 1)
	assert.Equal(t, "folder", nodes[0].Kind)

	_, err = runCLI(t, "stat", "s3://demo/missing.txt")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
}

func TestCatCommand(t *testing.T) {
	freshBucket(t, "demo", map[string][]byte{"a/b.txt": []byte("hello")})

	out, err := runCLI(t, "cat", "s3://demo/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	dest := filepath.Join(t.TempDir(), "out.txt")
	_, err = runCLI(t, "cat", "s3://demo/a/b.txt", "--dest", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = runCLI(t, "cat", "s3://demo/a/")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestSQLiteBackendPersistsAcrossRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "objects.db")
	t.Setenv("BUCKETVIEW_BUCKETS", "demo")

	_, err := runCLI(t, "mkdir", "s3://demo/reports/", "--backend", "sqlite", "--db", db)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "q1.csv")
	require.NoError(t, os.WriteFile(src, []byte("1,2"), 0o600))
	_, err = runCLI(t, "put", src, "s3://demo/reports/", "--backend", "sqlite", "--db", db)
	require.NoError(t, err)

	out, err := runCLI(t, "ls", "s3://demo/reports/", "--backend", "sqlite", "--db", db)
	require.NoError(t, err)
	nodes := nodesOf(t, decodeRecords(t, out))
	require.Len(t, nodes, 1)
	assert.Equal(t, "q1.csv", nodes[0].Name)
	assert.Equal(t, int64(3), nodes[0].Size)
}

func TestSQLiteBackendRequiresPath(t *testing.T) {
	_, err := runCLI(t, "ls", "s3://demo", "--backend", "sqlite")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}
