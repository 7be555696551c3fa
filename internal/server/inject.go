package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// reloadClient is the browser side of the reload protocol. full_reload and
// js_reload reload the page; css_reload swaps matching stylesheets in place.
const reloadClient = `(function () {
  var url = (location.protocol === "https:" ? "wss://" : "ws://") + location.host + %s;
  var retries = 0;
  function patchStyles(files) {
    var patched = false;
    document.querySelectorAll('link[rel="stylesheet"]').forEach(function (link) {
      var href = new URL(link.href, location.href);
      if (files.indexOf(href.pathname) !== -1) {
        href.searchParams.set("quill", Date.now());
        link.href = href.toString();
        patched = true;
      }
    });
    return patched;
  }
  function connect() {
    var ws = new WebSocket(url);
    ws.onopen = function () {
      if (retries > 0) { location.reload(); }
      retries = 0;
    };
    ws.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      if (msg.type === "css_reload" && patchStyles(msg.files || [])) { return; }
      location.reload();
    };
    ws.onclose = function () {
      retries++;
      setTimeout(connect, Math.min(1000 * retries, 5000));
    };
  }
  connect();
})();`

func reloadScript(reloadPath string) string {
	quoted, _ := json.Marshal(reloadPath)
	return fmt.Sprintf(reloadClient, quoted)
}

// injectScript appends a script element with the given source to the
// page's body.
func injectScript(page []byte, script string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	target := findElement(doc, atom.Body)
	if target == nil {
		target = doc
	}

	node := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr:     []html.Attribute{{Key: "data-quill", Val: "reload"}},
	}
	node.AppendChild(&html.Node{Type: html.TextNode, Data: script})
	target.AppendChild(node)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}

	return buf.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
