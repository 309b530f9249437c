package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheck_NoCacheOnFirstLookup(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	res, err := store.Check(Fingerprint{TaskName: "build", Command: "go build"})
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, ReasonNoCache, res.Reason)
}

func TestStoreAndCheck_HitWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build", Container: "golang:1.23"}
	_, err = store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	res, err := store.Check(f)
	require.NoError(t, err)
	assert.True(t, res.Hit)
}

func TestCheck_CommandChanged(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build"}
	_, err = store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	f2 := f
	f2.Command = "go build -race"
	res, err := store.Check(f2)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.Equal(t, ReasonCommandChanged, res.Reason)
}

func TestCheck_InputsChanged(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build", Inputs: []FileDigest{{Path: "main.go", SHA256: "aaa"}}}
	_, err = store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	f2 := f
	f2.Inputs = []FileDigest{{Path: "main.go", SHA256: "bbb"}}
	res, err := store.Check(f2)
	require.NoError(t, err)
	assert.Equal(t, ReasonInputsChanged, res.Reason)
}

func TestCheck_EnvAndMountsChanged(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build", Env: map[string]string{"GOOS": "linux"}}
	_, err = store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	f2 := f
	f2.Env = map[string]string{"GOOS": "darwin"}
	res, err := store.Check(f2)
	require.NoError(t, err)
	assert.Equal(t, ReasonEnvChanged, res.Reason)

	f3 := f
	f3.Mounts = []string{"cache:/root/.cache/go-build"}
	res, err = store.Check(f3)
	require.NoError(t, err)
	assert.Equal(t, ReasonMountsChanged, res.Reason)
}

func TestCheck_BlobsMissingAfterGC(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build"}
	rec, err := store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "blobs", rec.Outputs["binary"])))

	res, err := store.Check(f)
	require.NoError(t, err)
	assert.Equal(t, ReasonBlobsMissing, res.Reason)
}

func TestRestore_WritesOutputFile(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build"}
	rec, err := store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "restored-bin")
	require.NoError(t, store.Restore(rec, map[string]string{"binary": dest}))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "binary-bytes", string(content))
}

func TestDedup_IdenticalContentSharesOneBlob(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	out1 := writeFile(t, workdir, "a", "same-bytes")
	out2 := writeFile(t, workdir, "b", "same-bytes")

	rec1, err := store.Store(Fingerprint{TaskName: "one", Command: "x"}, map[string]string{"o": out1})
	require.NoError(t, err)
	rec2, err := store.Store(Fingerprint{TaskName: "two", Command: "x"}, map[string]string{"o": out2})
	require.NoError(t, err)

	assert.Equal(t, rec1.Outputs["o"], rec2.Outputs["o"])
}

func TestCleanOlderThan_RemovesStaleRecordAndUnreferencedBlob(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	workdir := t.TempDir()
	outPath := writeFile(t, workdir, "bin", "binary-bytes")

	f := Fingerprint{TaskName: "build", Command: "go build"}
	rec, err := store.Store(f, map[string]string{"binary": outPath})
	require.NoError(t, err)

	require.NoError(t, store.CleanOlderThan(0))

	_, err = os.Stat(filepath.Join(dir, "meta", "build.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "blobs", rec.Outputs["binary"]))
	assert.True(t, os.IsNotExist(err))
}

func TestInputsFingerprint_OrderIndependent(t *testing.T) {
	a := InputsFingerprint([]FileDigest{{Path: "b.go", SHA256: "2"}, {Path: "a.go", SHA256: "1"}})
	b := InputsFingerprint([]FileDigest{{Path: "a.go", SHA256: "1"}, {Path: "b.go", SHA256: "2"}})
	assert.Equal(t, a, b)
}

func TestFingerprintKey_ChangesWithTaskName(t *testing.T) {
	f1 := Fingerprint{TaskName: "a", Command: "x"}
	f2 := Fingerprint{TaskName: "b", Command: "x"}
	assert.NotEqual(t, f1.Key(), f2.Key())
}
