package pair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const techWriterSystem = `You are an expert technical writer that, based on user request can:
- write Javadoc comments for the provided code
- describe existing code, either classes, methods or snippets
When requested to write javadoc, the following rules apply:
- generate completely new Javadoc or enhance the existing Javadoc based on user request
- generate the Javadoc wrapped with in /** ${javadoc} **/
- generate javadoc only for the element (class, methods or members) requested by the user
- do not provide any additional text or explanation
When requested to describe code, the following rules apply:
- write an explanation of the code without adding javadoc
Take into account the general rules: {{.globalRules}}
Take into account the project rules: {{.projectRules}}
Take into account the session rules: {{.sessionRules}}
`

const techWriterUser = `{{.prompt}}
The code is: {{.code}}
The Javadoc is: {{.javadoc}}
`

const (
	javadocRequest  = "Provide javadoc for the %s"
	describeRequest = "Describe the following code"
)

// Element is the kind of code element a javadoc is written for.
type Element string

const (
	ElementClass  Element = "class"
	ElementMethod Element = "method"
	ElementMember Element = "member"
)

// ErrUnknownElement is returned by ParseElement for anything but class, method or member.
var ErrUnknownElement = errors.New("pair: unknown code element")

// ParseElement reads an element name, ignoring case.
func ParseElement(name string) (Element, error) {
	switch element := Element(strings.ToLower(strings.TrimSpace(name))); element {
	case ElementClass, ElementMethod, ElementMember:
		return element, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownElement, name)
	}
}

// TechWriter writes and enhances javadoc and describes code.
type TechWriter struct {
	specialist
}

// NewTechWriter binds a TechWriter to model.
func NewTechWriter(model llms.Model, opts ...Option) *TechWriter {
	return &TechWriter{newSpecialist("tech-writer", model, techWriterSystem, techWriterUser, opts)}
}

// GenerateJavadoc writes a fresh javadoc for the element in code.
func (w *TechWriter) GenerateJavadoc(ctx context.Context, element Element, code, globalRules, projectRules string) (string, error) {
	return w.EnhanceJavadoc(ctx, element, code, "", globalRules, projectRules)
}

// EnhanceJavadoc improves an existing javadoc of the element in code.
func (w *TechWriter) EnhanceJavadoc(ctx context.Context, element Element, code, javadoc, globalRules, projectRules string) (string, error) {
	return w.ask(ctx, map[string]any{
		"prompt":       fmt.Sprintf(javadocRequest, element),
		"code":         code,
		"javadoc":      javadoc,
		"globalRules":  NormalizeRules(globalRules),
		"projectRules": NormalizeRules(projectRules),
		"sessionRules": NoRules,
	})
}

// DescribeCode explains code in prose.
func (w *TechWriter) DescribeCode(ctx context.Context, code, sessionRules string) (string, error) {
	return w.ask(ctx, map[string]any{
		"prompt":       describeRequest,
		"code":         code,
		"javadoc":      "",
		"globalRules":  NoRules,
		"projectRules": NoRules,
		"sessionRules": NormalizeRules(sessionRules),
	})
}
