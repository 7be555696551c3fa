// Package renderer turns source files into build output.
//
// The build core only depends on the Renderer interface. LayoutRenderer is a
// deliberately small default: it wraps each content file in a section layout
// and reports the layout files it read as dependencies, so editing a layout
// rebuilds every page that uses it.
package renderer

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/quill/internal/errors"
)

// Layout markers substituted by LayoutRenderer.
const (
	ContentMarker = "{{ content }}"
	TitleMarker   = "{{ title }}"
)

// DefaultLayout is the layout file used when a section has none.
const DefaultLayout = "default.html"

// Rendered is the output of one source file and the files it was built from.
type Rendered struct {
	Output       []byte
	Dependencies []string
}

// Renderer renders a single source file.
type Renderer interface {
	Render(ctx context.Context, path string) (Rendered, error)
}

// Func adapts a function to the Renderer interface.
type Func func(ctx context.Context, path string) (Rendered, error)

// Render calls f.
func (f Func) Render(ctx context.Context, path string) (Rendered, error) {
	return f(ctx, path)
}

// CopyRenderer returns file contents unchanged.
type CopyRenderer struct{}

// Render reads path.
func (CopyRenderer) Render(ctx context.Context, path string) (Rendered, error) {
	if err := ctx.Err(); err != nil {
		return Rendered{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rendered{}, errors.NewRenderError(path, "cannot read source", err)
	}
	return Rendered{Output: data}, nil
}

// LayoutRenderer wraps content files in layouts found under LayoutDir.
//
// A file content/<section>/page.md uses layouts/<section>.html, falling back
// to layouts/default.html and then to a built-in page. HTML sources are
// inserted as-is; anything else is escaped and split into paragraphs.
type LayoutRenderer struct {
	contentDir string
	layoutDir  string
	title      cases.Caser
}

// NewLayoutRenderer creates a renderer for files under contentDir.
func NewLayoutRenderer(contentDir, layoutDir string) *LayoutRenderer {
	return &LayoutRenderer{
		contentDir: contentDir,
		layoutDir:  layoutDir,
		title:      cases.Title(language.English),
	}
}

// Render renders one content file.
func (r *LayoutRenderer) Render(ctx context.Context, path string) (Rendered, error) {
	if err := ctx.Err(); err != nil {
		return Rendered{}, err
	}

	rel, err := r.relativePath(path)
	if err != nil {
		return Rendered{}, errors.NewRenderError(path, "invalid source path", err)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return Rendered{}, errors.NewRenderError(path, "cannot read source", err)
	}

	var deps []string
	if info, err := os.Stat(r.layoutDir); err == nil && info.IsDir() {
		// additions to the layout directory can change which layout applies
		deps = append(deps, r.layoutDir)
	}

	layout, layoutPath, err := r.findLayout(rel)
	if err != nil {
		return Rendered{}, errors.NewRenderError(path, "cannot read layout", err)
	}
	if layoutPath != "" {
		deps = append(deps, layoutPath)
	}

	body := renderBody(path, source)
	page := strings.ReplaceAll(layout, TitleMarker, html.EscapeString(r.Title(rel)))
	page = strings.ReplaceAll(page, ContentMarker, body)

	return Rendered{Output: []byte(page), Dependencies: deps}, nil
}

// Title derives a page title from a content path: "blog/my-first-post.md"
// becomes "My First Post".
func (r *LayoutRenderer) Title(rel string) string {
	name := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	if name == "index" || name == "_index" {
		dir := filepath.Base(filepath.Dir(rel))
		if dir == "." {
			return "Home"
		}
		name = dir
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return r.title.String(name)
}

// relativePath returns path relative to the content directory, rejecting
// paths that escape it.
func (r *LayoutRenderer) relativePath(path string) (string, error) {
	rel, err := filepath.Rel(r.contentDir, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", path, r.contentDir)
	}
	return rel, nil
}

func (r *LayoutRenderer) findLayout(rel string) (layout, path string, err error) {
	var candidates []string
	if section := sectionOf(rel); section != "" {
		candidates = append(candidates, filepath.Join(r.layoutDir, section+".html"))
	}
	candidates = append(candidates, filepath.Join(r.layoutDir, DefaultLayout))

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return string(data), candidate, nil
		}
		if !os.IsNotExist(err) {
			return "", "", err
		}
	}

	return builtinLayout, "", nil
}

func sectionOf(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

func renderBody(path string, source []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return string(source)
	}

	var b strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(string(source), "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(para))
		b.WriteString("</p>\n")
	}
	return b.String()
}

const builtinLayout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{ title }}</title>
</head>
<body>
    <main>
        <h1>{{ title }}</h1>
        {{ content }}
    </main>
</body>
</html>
`
