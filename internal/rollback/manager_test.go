package rollback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/a.js", "alpha")
	writeFile(t, root, "src/b.js", "beta")
	writeFile(t, root, "stagehand.yml", "version: \"1.0\"\n")

	m := NewManager(root, filepath.Join(root, ".stagehand", "rollbacks"),
		filepath.Join(root, "stagehand.yml"), []string{"src"}, false)
	return m, root
}

func TestCreate_CapturesFilesAndConfig(t *testing.T) {
	m, _ := newTestManager(t)

	point, err := m.Create("before-refactor")
	require.NoError(t, err)

	assert.Equal(t, "before-refactor", point.Name)
	assert.NotEmpty(t, point.ID)
	assert.Equal(t, []byte("alpha"), point.Files["src/a.js"])
	assert.Equal(t, []byte("beta"), point.Files["src/b.js"])
	assert.Equal(t, "version: \"1.0\"\n", point.Config)
}

func TestCreate_GeneratesNameWhenEmpty(t *testing.T) {
	m, _ := newTestManager(t)

	point, err := m.Create("")
	require.NoError(t, err)
	assert.Contains(t, point.Name, "rollback-")
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("p1")
	require.NoError(t, err)
	_, err = m.Create("p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreate_RejectsPathTraversalNames(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create("../escape")
	assert.Error(t, err)
}

func TestExecute_RoundTripRestoresBytesExactly(t *testing.T) {
	m, root := newTestManager(t)

	// Tracked content is not always text.
	binary := []byte{0xff, 0xfe, 0x00, 0x89, 0x50, 0x4e, 0x47}
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "asset.bin"), binary, 0644))

	_, err := m.Create("checkpoint")
	require.NoError(t, err)

	// Mutate tracked files and config, delete one file.
	writeFile(t, root, "src/a.js", "alpha MUTATED")
	require.NoError(t, os.Remove(filepath.Join(root, "src/b.js")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "asset.bin"), []byte{0x00, 0x01}, 0644))
	writeFile(t, root, "stagehand.yml", "version: \"9.9\"\n")

	result, err := m.Execute("checkpoint")
	require.NoError(t, err)

	assert.Equal(t, "alpha", readFile(t, root, "src/a.js"))
	assert.Equal(t, "beta", readFile(t, root, "src/b.js"))
	assert.Equal(t, "version: \"1.0\"\n", readFile(t, root, "stagehand.yml"))

	restored, err := os.ReadFile(filepath.Join(root, "src", "asset.bin"))
	require.NoError(t, err)
	assert.Equal(t, binary, restored)

	for _, artifact := range result.Artifacts {
		assert.True(t, artifact.Restored, "artifact %s not restored", artifact.Path)
	}
	assert.Empty(t, result.HookFailures)
}

func TestCreate_SurvivesJSONRoundTripForBinaryContent(t *testing.T) {
	m, root := newTestManager(t)

	binary := []byte{0xff, 0xfe, 0x00, 0x89, 0x50, 0x4e, 0x47}
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "asset.bin"), binary, 0644))

	_, err := m.Create("checkpoint")
	require.NoError(t, err)

	// Reload from disk so the persisted record, not the in-memory one, is
	// what gets compared.
	loaded, err := m.Load("checkpoint")
	require.NoError(t, err)
	assert.Equal(t, binary, loaded.Files["src/asset.bin"])
}

func TestExecute_UnknownPoint(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Execute("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestExecute_HooksRunInOrderAndFailuresDoNotAbort(t *testing.T) {
	m, root := newTestManager(t)

	_, err := m.Create("checkpoint")
	require.NoError(t, err)
	writeFile(t, root, "src/a.js", "mutated")

	var order []string
	m.AddPreHook(Hook{Name: "stop-watcher", Run: func(p *Point) error {
		order = append(order, "pre1")
		return nil
	}})
	m.AddPreHook(Hook{Name: "flaky", Run: func(p *Point) error {
		order = append(order, "pre2")
		return errors.New("boom")
	}})
	m.AddPostHook(Hook{Name: "reload", Run: func(p *Point) error {
		order = append(order, "post1")
		return nil
	}})

	result, err := m.Execute("checkpoint")
	require.NoError(t, err, "hook failures must not abort the rollback")

	assert.Equal(t, []string{"pre1", "pre2", "post1"}, order)
	require.Len(t, result.HookFailures, 1)
	assert.Contains(t, result.HookFailures[0], "flaky")
	assert.Equal(t, "alpha", readFile(t, root, "src/a.js"))
}

func TestExecute_RestoreFailureReportsPerArtifactStatus(t *testing.T) {
	m, root := newTestManager(t)

	_, err := m.Create("checkpoint")
	require.NoError(t, err)

	// Make one restore target unwritable by replacing it with a directory
	// that contains something.
	require.NoError(t, os.Remove(filepath.Join(root, "src/a.js")))
	writeFile(t, root, "src/a.js/nested.txt", "in the way")

	result, err := m.Execute("checkpoint")
	require.Error(t, err)

	var rbErr *Error
	require.True(t, errors.As(err, &rbErr), "expected *Error, got %T", err)

	byPath := make(map[string]ArtifactStatus)
	for _, artifact := range result.Artifacts {
		byPath[artifact.Path] = artifact
	}
	assert.False(t, byPath["src/a.js"].Restored)
	assert.NotEmpty(t, byPath["src/a.js"].Reason)
	// b.js sorts after a.js, so it was skipped, not silently dropped.
	assert.False(t, byPath["src/b.js"].Restored)
	assert.Contains(t, byPath["src/b.js"].Reason, "skipped")
}

func TestListAndPrune(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("first")
	require.NoError(t, err)
	_, err = m.Create("second")
	require.NoError(t, err)

	points, err := m.List()
	require.NoError(t, err)
	require.Len(t, points, 2)

	require.NoError(t, m.Prune("first"))
	points, err = m.List()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "second", points[0].Name)

	assert.Error(t, m.Prune("first"))
}

func TestList_EmptyWhenNoPoints(t *testing.T) {
	m, _ := newTestManager(t)
	points, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestExecute_RestoresManyFiles(t *testing.T) {
	m, root := newTestManager(t)
	for i := 0; i < 10; i++ {
		writeFile(t, root, fmt.Sprintf("src/f%d.js", i), fmt.Sprintf("content-%d", i))
	}

	_, err := m.Create("many")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		writeFile(t, root, fmt.Sprintf("src/f%d.js", i), "clobbered")
	}

	_, err = m.Execute("many")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("content-%d", i), readFile(t, root, fmt.Sprintf("src/f%d.js", i)))
	}
}
