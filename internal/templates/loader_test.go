package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() ReviewData {
	return ReviewData{Number: 42, Title: "Fix login redirect", Branch: "issue-42-fix-login-redirect", Base: "main", Version: "1.0.0"}
}

func TestLoader_EmbeddedReviewTemplates(t *testing.T) {
	l := NewLoader()

	title, err := l.Render(ReviewTitle, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "Fix #42: Fix login redirect", title)

	body, err := l.Render(ReviewBody, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "Closes #42\n\n## Summary\nImplemented fix for: Fix login redirect\n\n---\nGenerated by sprint-orch v1.0.0", body)
}

func TestLoader_OverrideWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(first, "review"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(second, "review"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(first, ReviewTitle), []byte("[{{.Base}}] {{.Title}} (#{{.Number}})\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(second, ReviewTitle), []byte("second\n"), 0644))

	l := NewLoader(first, second)
	title, err := l.Render(ReviewTitle, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "[main] Fix login redirect (#42)", title)

	body, err := l.Render(ReviewBody, sampleData())
	require.NoError(t, err)
	assert.Contains(t, body, "Closes #42", "templates without an override fall back to the embedded one")
}

func TestLoader_LabelConditional(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "review"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReviewTitle), []byte(`{{if .HasLabel "bug"}}fix{{else}}feat{{end}}: {{.Title}}`), 0644))

	l := NewLoader(dir)
	bug := sampleData()
	bug.Labels = []string{"priority", "bug"}

	title, err := l.Render(ReviewTitle, bug)
	require.NoError(t, err)
	assert.Equal(t, "fix: Fix login redirect", title)

	title, err = l.Render(ReviewTitle, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "feat: Fix login redirect", title)
}

func TestLoader_Cache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "review"), 0755))
	path := filepath.Join(dir, ReviewTitle)
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	l := NewLoader(dir)
	got, err := l.Render(ReviewTitle, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	got, err = l.Render(ReviewTitle, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "review"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReviewTitle), []byte("{{.Number"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReviewBody), []byte("{{.Missing}}"), 0644))

	l := NewLoader(dir)
	_, err := l.Render(ReviewTitle, sampleData())
	assert.ErrorContains(t, err, "compile template")

	_, err = l.Render(ReviewBody, map[string]any{"Number": 1})
	assert.ErrorContains(t, err, "execute")

	_, err = l.Render("review/none.md", sampleData())
	assert.ErrorContains(t, err, "load review/none.md")
}

func TestDefaultLoader(t *testing.T) {
	l := DefaultLoader("/work/project")
	require.NotEmpty(t, l.overrideDirs)
	assert.Equal(t, filepath.Join("/work/project", ".sprint-orch", "templates"), l.overrideDirs[0])
}
