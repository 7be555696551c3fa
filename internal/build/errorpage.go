package build

import (
	"bytes"
	"context"
	"io"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/quill/internal/errors"
)

// ErrorPage renders the page written in place of output that failed to
// build, so a reloading browser shows the failure instead of stale content.
func ErrorPage(heading string, failures []errors.BuildError) templ.Component {
	title := cases.Title(language.English).String(heading)

	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b bytes.Buffer

		b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
		b.WriteString(templ.EscapeString(title))
		b.WriteString("</title>\n<style>")
		b.WriteString(errorPageStyle)
		b.WriteString("</style>\n</head>\n<body>\n<h1>")
		b.WriteString(templ.EscapeString(title))
		b.WriteString("</h1>\n<ul class=\"quill-errors\">\n")
		for _, failure := range failures {
			b.WriteString("<li><span class=\"file\">")
			b.WriteString(templ.EscapeString(failure.File))
			b.WriteString("</span><pre>")
			b.WriteString(templ.EscapeString(failure.Message))
			b.WriteString("</pre></li>\n")
		}
		b.WriteString("</ul>\n</body>\n</html>\n")

		_, err := w.Write(b.Bytes())
		return err
	})
}

func renderErrorPage(ctx context.Context, failure errors.BuildError) []byte {
	var buf bytes.Buffer
	// writes to a bytes.Buffer cannot fail
	_ = ErrorPage("build failed", []errors.BuildError{failure}).Render(ctx, &buf)
	return buf.Bytes()
}

const errorPageStyle = `body{font-family:monospace;background:#1e1e1e;color:#eee;padding:2rem}` +
	`h1{color:#f48771}.file{color:#9cdcfe}pre{white-space:pre-wrap}`
