package brain

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
)

var failureMarkdown = goldmark.New()

// RenderFailure formats a backend fault as an HTML block suitable for showing
// in place of a model answer.
func RenderFailure(err error) string {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	source := fmt.Sprintf("**Communication error**\n\n```text\n%s\n```\n", message)

	var buf bytes.Buffer
	if convErr := failureMarkdown.Convert([]byte(source), &buf); convErr != nil {
		return `<div class="error"><p><strong>Communication error</strong></p><pre>` + html.EscapeString(message) + "</pre></div>"
	}
	return `<div class="error">` + buf.String() + "</div>"
}
