package scribe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"scribe/internal/engine/audit"
	"scribe/internal/engine/walker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func finding(id, path string) audit.Finding {
	return audit.Finding{ID: id, Kind: audit.KindLogicGap, Title: "t", Files: []string{path}, ImpactLines: 1, Suggestion: "Fix " + id + "."}
}

func TestPurge_PrependsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.rs")
	original := "fn main() {}\n\x00\xffbinary-safe"
	writeFile(t, path, original)

	n := New(Options{Workers: 2}).Purge(context.Background(), []audit.Finding{finding("abc", path)})
	assert.Equal(t, 1, n)
	assert.Equal(t, "// [PURIFIED_BY_SCRIBE: abc]\n// Suggestion: Fix abc.\n"+original, readFile(t, path))
}

func TestPurge_PreservesModeAndLeavesNoShadow(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	writeFile(t, path, "echo hi\n")
	require.NoError(t, os.Chmod(path, 0o750))

	require.Equal(t, 1, New(Options{}).Purge(context.Background(), []audit.Finding{finding("x", path)}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run.sh", entries[0].Name())
}

func TestPurge_SkipsMissingAndInformational(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.rs")
	writeFile(t, present, "a\n")

	findings := []audit.Finding{
		finding("gone", filepath.Join(dir, "missing.rs")),
		{ID: "info", Kind: audit.KindOptimization, Title: "no files"},
		finding("ok", present),
	}
	assert.Equal(t, 1, New(Options{Workers: 4}).Purge(context.Background(), findings))

	_, err := os.Stat(filepath.Join(dir, "missing.rs"))
	assert.True(t, os.IsNotExist(err))
}

func TestPurge_StacksHeadersOnSameFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.rs")
	writeFile(t, path, "body\n")

	findings := []audit.Finding{finding("first", path), finding("second", filepath.Join(filepath.Dir(path), ".", "lib.rs"))}
	assert.Equal(t, 2, New(Options{Workers: 8}).Purge(context.Background(), findings))

	want := Header(DefaultHeaderTag, "second", "Fix second.") + Header(DefaultHeaderTag, "first", "Fix first.") + "body\n"
	assert.Equal(t, want, readFile(t, path))
}

func TestPurge_NotIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.rs")
	writeFile(t, path, "body\n")
	s := New(Options{HeaderTag: "TAG"})
	f := finding("same", path)

	require.Equal(t, 1, s.Purge(context.Background(), []audit.Finding{f}))
	require.Equal(t, 1, s.Purge(context.Background(), []audit.Finding{f}))

	header := Header("TAG", "same", "Fix same.")
	assert.Equal(t, header+header+"body\n", readFile(t, path))
}

func TestPurge_ManyFilesConcurrently(t *testing.T) {
	dir := t.TempDir()
	var findings []audit.Finding
	for i := 0; i < 50; i++ {
		path := filepath.Join(dir, "f"+strings.Repeat("x", i)+".rs")
		writeFile(t, path, "x\n")
		findings = append(findings, finding("id", path))
	}
	assert.Equal(t, 50, New(Options{Workers: 8}).Purge(context.Background(), findings))
}

func TestPurge_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.rs")
	writeFile(t, path, "body\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, New(Options{}).Purge(ctx, []audit.Finding{finding("x", path)}))
	assert.Equal(t, "body\n", readFile(t, path))

	_, err := New(Options{}).PerformSurgery(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPurge_Paced(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rs")
	b := filepath.Join(dir, "b.rs")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	s := New(Options{Workers: 2, WritesPerSecond: 1000})
	assert.Equal(t, 2, s.Purge(context.Background(), []audit.Finding{finding("1", a), finding("2", b)}))
}

func TestCountAssets(t *testing.T) {
	dir := t.TempDir()
	assets := filepath.Join(dir, "assets", "micro_saas")

	s := New(Options{AssetsDir: assets})
	assert.Equal(t, 0, s.CountAssets())

	writeFile(t, filepath.Join(assets, "one.json"), "{}")
	writeFile(t, filepath.Join(assets, "two.json"), "{}")
	require.NoError(t, os.Mkdir(filepath.Join(assets, "nested"), 0o755))
	assert.Equal(t, 3, s.CountAssets())

	assert.Equal(t, 0, New(Options{}).CountAssets())
}

func auditDir(t *testing.T, root, target string) []audit.Finding {
	t.Helper()
	a, err := audit.NewAuditor(audit.Options{
		Walker:          walker.Options{Extensions: []string{".rs"}},
		Workers:         2,
		HeuristicTarget: target,
	})
	require.NoError(t, err)
	result, err := a.RunFullAudit(context.Background(), []string{root})
	require.NoError(t, err)
	return result.Findings
}

func TestPerformSurgery_EmptyDirectory(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "organism.rs")

	findings := auditDir(t, root, target)
	require.Len(t, findings, 3)

	report, err := New(Options{AssetsDir: filepath.Join(root, "assets")}).PerformSurgery(context.Background(), findings)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestPerformSurgery_SeededHeuristicTarget(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "organism.rs")
	writeFile(t, target, "pub struct Organism;\n")

	findings := auditDir(t, root, target)
	require.Len(t, findings, 3)

	report, err := New(Options{Workers: 4}).PerformSurgery(context.Background(), findings)
	require.NoError(t, err)
	assert.Equal(t, 3, report.FilesModified)
	assert.Equal(t, 3, report.ActionsPerformed)
	assert.InDelta(t, 3*FileYield, report.EquityYield, 1e-9)
	assert.NoError(t, report.Verify())

	content := readFile(t, target)
	assert.Equal(t, 3, strings.Count(content, "// [PURIFIED_BY_SCRIBE: "))
	assert.True(t, strings.HasSuffix(content, "pub struct Organism;\n"))
}

func TestPerformSurgery_TodoAndUnwrap(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "src", "organism.rs")
	scanned := filepath.Join(root, "src", "main.rs")
	writeFile(t, scanned, "fn main() {\n    // TODO: handle errors\n    run().unwrap();\n}\n")
	writeFile(t, target, "struct Organism;\n")
	writeFile(t, filepath.Join(root, "assets", "a.bin"), "x")

	findings := auditDir(t, root, target)
	require.GreaterOrEqual(t, len(findings), 5)

	report, err := New(Options{Workers: 4, AssetsDir: filepath.Join(root, "assets")}).PerformSurgery(context.Background(), findings)
	require.NoError(t, err)

	assert.Equal(t, 5, report.FilesModified)
	assert.Equal(t, 1, report.AssetsGenerated)
	assert.Equal(t, 6, report.ActionsPerformed)
	assert.NoError(t, report.Verify())
	assert.Equal(t, 2, strings.Count(readFile(t, scanned), "// Suggestion: "))
}

func TestGroupByTarget_CanonicalisesSpellings(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, "src", "organism.rs"), "struct Organism;\n")
	abs, err := filepath.Abs(filepath.Join("src", "organism.rs"))
	require.NoError(t, err)

	spellings := []string{"src/organism.rs", "./src/../src/organism.rs", abs}
	if runtime.GOOS != "windows" {
		link := filepath.Join(dir, "alias.rs")
		require.NoError(t, os.Symlink(abs, link))
		spellings = append(spellings, link)
	}

	var findings []audit.Finding
	for i, p := range spellings {
		findings = append(findings, finding(string(rune('a'+i)), p))
	}
	groups := groupByTarget(findings)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].findings, len(spellings))
}

func TestPerformSurgery_RelativeHeuristicTargetKeepsEveryHeader(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	target := filepath.Join("src", "organism.rs")

	for i := 0; i < 20; i++ {
		writeFile(t, target, "// TODO: fix\nlet x = y.unwrap();\n")

		a, err := audit.NewAuditor(audit.Options{
			Walker:          walker.Options{Extensions: []string{".rs"}},
			Workers:         8,
			HeuristicTarget: target,
		})
		require.NoError(t, err)
		result, err := a.RunFullAudit(context.Background(), []string{"."})
		require.NoError(t, err)
		require.Len(t, result.Findings, 5)

		abs, err := filepath.Abs(target)
		require.NoError(t, err)
		for _, f := range result.Findings {
			assert.Equal(t, abs, f.Target())
		}

		report, err := New(Options{Workers: 8}).PerformSurgery(context.Background(), result.Findings)
		require.NoError(t, err)
		assert.Equal(t, 5, report.FilesModified)
		assert.Equal(t, report.FilesModified, strings.Count(readFile(t, target), "// Suggestion: "), "iteration %d", i)
	}
}

func TestWriteAtomic_DirSyncFailureStillCountsAsWritten(t *testing.T) {
	prev := syncDir
	syncDir = func(string) error { return os.ErrPermission }
	t.Cleanup(func() { syncDir = prev })

	path := filepath.Join(t.TempDir(), "lib.rs")
	writeFile(t, path, "fn a() {}\n")

	n := New(Options{}).Purge(context.Background(), []audit.Finding{finding("x", path)})
	assert.Equal(t, 1, n)
	assert.True(t, strings.HasPrefix(readFile(t, path), "// [PURIFIED_BY_SCRIBE: x]"))
}
