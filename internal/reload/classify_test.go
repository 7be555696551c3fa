package reload

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conneroisu/quill/internal/websocket"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(filepath.Join("site", "content"), filepath.Join("site", "static"), nil)

	tests := []struct {
		name string
		path string
		kind Kind
		msg  websocket.MessageType
		url  string
	}{
		{"markdown content", "site/content/post.md", KindFullRebuild, "", ""},
		{"layout", "site/layouts/default.html", KindFullRebuild, "", ""},
		{"config", ".quill.yml", KindFullRebuild, "", ""},
		{"uppercase extension", "site/content/POST.MD", KindFullRebuild, "", ""},
		{"stylesheet", "site/static/css/site.css", KindAssetPatch, websocket.CSSReload, "/css/site.css"},
		{"script", "site/static/app.js", KindAssetPatch, websocket.JSReload, "/app.js"},
		{"static image", "site/static/img/logo.png", KindFullRebuild, "", ""},
		{"stylesheet beside a page", "site/content/blog/extra.css", KindFullRebuild, "", ""},
		{"image beside a page", "site/content/photo.png", KindFullRebuild, "", ""},
		{"text file in content", "site/content/notes.txt", KindFullRebuild, "", ""},
		{"stylesheet outside both roots", "site/assets/extra.css", KindIgnored, "", ""},
		{"unknown file outside both roots", "site/notes.txt", KindIgnored, "", ""},
		{"static sibling prefix", "site/staticfiles/app.js", KindIgnored, "", ""},
		{"content sibling prefix", "site/contents/photo.png", KindIgnored, "", ""},
		{"content root itself", "site/content", KindIgnored, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(filepath.FromSlash(tt.path))
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.msg, got.Message)
			assert.Equal(t, tt.url, got.URL)
		})
	}
}

func TestClassifyCustomExtensions(t *testing.T) {
	c := NewClassifier("", "static", []string{".Rst"})

	assert.Equal(t, KindFullRebuild, c.Classify("content/a.rst").Kind)
	assert.Equal(t, KindIgnored, c.Classify("content/a.md").Kind)
	assert.Equal(t, KindAssetPatch, c.Classify("static/a.css").Kind)
}

func TestClassifyWithoutRoots(t *testing.T) {
	c := NewClassifier("", "", nil)

	assert.Equal(t, KindFullRebuild, c.Classify("page.md").Kind)
	assert.Equal(t, KindIgnored, c.Classify("site.css").Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ignored", KindIgnored.String())
	assert.Equal(t, "full_rebuild", KindFullRebuild.String())
	assert.Equal(t, "asset_patch", KindAssetPatch.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
