package templates

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/hochfrequenz/sprint-orch/internal/domain"
)

// Template paths
const (
	ReviewTitle = "review/title.md"
	ReviewBody  = "review/body.md"
)

// Loader manages templates with override support.
type Loader struct {
	overrideDirs []string // checked in priority order
	cache        map[string]*template.Template
	mu           sync.RWMutex
}

// ReviewData holds the variables available to review templates
type ReviewData struct {
	Number  int
	Title   string
	Body    string
	Labels  []string
	Branch  string
	Base    string
	Version string
}

// HasLabel reports whether the item carries label, e.g. {{if .HasLabel "bug"}}
func (d ReviewData) HasLabel(label string) bool {
	item := domain.WorkItem{Labels: d.Labels}
	return item.HasLabel(label)
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Project-local: .sprint-orch/templates/
// 2. User config: ~/.config/sprint-orch/templates/
func DefaultLoader(projectRoot string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".sprint-orch", "templates"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "sprint-orch", "templates"))

	return NewLoader(dirs...)
}

func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, path)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// LoadTemplate loads and parses a template by path (e.g., "review/body.md").
func (l *Loader) LoadTemplate(path string) (*template.Template, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		l.mu.RUnlock()
		return tmpl, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	tmpl, err := template.New(path).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.mu.Unlock()

	return tmpl, nil
}

// Render loads and executes a template. Trailing newlines are dropped.
func (l *Loader) Render(path string, data any) (string, error) {
	tmpl, err := l.LoadTemplate(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
