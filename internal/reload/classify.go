package reload

import (
	"path/filepath"
	"strings"

	"github.com/conneroisu/quill/internal/websocket"
)

// Kind is the reload strategy chosen for a changed path.
type Kind int

const (
	// KindIgnored paths never trigger work.
	KindIgnored Kind = iota
	// KindFullRebuild paths invalidate their dependents and rebuild the site.
	KindFullRebuild
	// KindAssetPatch paths are copied alone and patched into the page.
	KindAssetPatch
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindFullRebuild:
		return "full_rebuild"
	case KindAssetPatch:
		return "asset_patch"
	default:
		return "unknown"
	}
}

// DefaultRebuildExtensions mark content, layout and configuration files.
var DefaultRebuildExtensions = []string{
	".md", ".markdown", ".html", ".htm", ".tmpl",
	".json", ".yml", ".yaml", ".toml",
}

// Classification is the outcome of classifying one path.
type Classification struct {
	Kind Kind
	// Message is the notification type for an asset patch.
	Message websocket.MessageType
	// URL is the site path of an asset, such as /css/site.css.
	URL string
}

// Classifier decides how a changed path is reloaded.
//
// Under the static root, stylesheets and scripts are patched and every other
// file needs a full rebuild. Every file under the content root needs a full
// rebuild, since pages and the files copied beside them are both built from
// there. Elsewhere, files with a rebuild extension need a full rebuild and
// everything else is ignored.
type Classifier struct {
	contentDir string
	staticDir  string
	rebuildExt map[string]struct{}
}

// NewClassifier creates a classifier. An empty root is never matched. A nil
// extension list uses DefaultRebuildExtensions.
func NewClassifier(contentDir, staticDir string, rebuildExtensions []string) *Classifier {
	if rebuildExtensions == nil {
		rebuildExtensions = DefaultRebuildExtensions
	}
	set := make(map[string]struct{}, len(rebuildExtensions))
	for _, ext := range rebuildExtensions {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return &Classifier{contentDir: contentDir, staticDir: staticDir, rebuildExt: set}
}

// Classify classifies path.
func (c *Classifier) Classify(path string) Classification {
	ext := strings.ToLower(filepath.Ext(path))

	if rel, ok := under(c.staticDir, path); ok {
		url := "/" + filepath.ToSlash(rel)
		switch ext {
		case ".css":
			return Classification{Kind: KindAssetPatch, Message: websocket.CSSReload, URL: url}
		case ".js":
			return Classification{Kind: KindAssetPatch, Message: websocket.JSReload, URL: url}
		default:
			return Classification{Kind: KindFullRebuild}
		}
	}

	if _, ok := under(c.contentDir, path); ok {
		return Classification{Kind: KindFullRebuild}
	}

	if _, ok := c.rebuildExt[ext]; ok {
		return Classification{Kind: KindFullRebuild}
	}
	return Classification{Kind: KindIgnored}
}

// under returns path relative to root when path lies inside it.
func under(root, path string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
