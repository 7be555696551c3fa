package server

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// serveSite serves a file from the output tree. HTML pages get the reload
// client injected; everything else goes through http.FileServer.
//
// A request for a directory serves its index.html and an extensionless
// request falls back to the matching .html file.
func (s *DevServer) serveSite(w http.ResponseWriter, r *http.Request) {
	name, info, err := s.resolve(r.URL.Path)
	if err != nil || !isHTML(name) {
		s.files.ServeHTTP(w, r)
		return
	}
	if info.IsDir() {
		http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
		return
	}

	page, err := s.page(name, info)
	if err != nil {
		s.logger.Error(r.Context(), err, "cannot serve page", "path", name)
		http.Error(w, "cannot read page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(page))
}

// resolve maps a URL path to a file under the output directory. A
// directory requested without its trailing slash is returned as the
// directory's index.html with the directory's FileInfo.
func (s *DevServer) resolve(urlPath string) (string, os.FileInfo, error) {
	clean := path.Clean("/" + urlPath)
	name := filepath.Join(s.opts.OutputDir, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		index := filepath.Join(name, "index.html")
		indexInfo, indexErr := os.Stat(index)
		if indexErr != nil {
			return "", nil, indexErr
		}
		if clean != "/" && !strings.HasSuffix(urlPath, "/") {
			return index, info, nil
		}
		return index, indexInfo, nil
	}
	if err != nil && filepath.Ext(name) == "" {
		name += ".html"
		info, err = os.Stat(name)
	}
	if err != nil {
		return "", nil, err
	}

	return name, info, nil
}

// page returns the file at name with the reload client injected. Results
// are cached by path, modification time and size.
func (s *DevServer) page(name string, info os.FileInfo) ([]byte, error) {
	key := fmt.Sprintf("%s\x00%d\x00%d", name, info.ModTime().UnixNano(), info.Size())
	if page, ok := s.pages.Get(key); ok {
		return page, nil
	}

	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	page, err := injectScript(raw, s.script)
	if err != nil {
		return nil, err
	}
	s.pages.Add(key, page)

	return page, nil
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}
