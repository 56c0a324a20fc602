package pair

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

const testSpecialistSystem = `You are an experienced programmer specialized writing unit tests based on the
provided project code, for the provided class and/or method code and accordingly
to the rules below.
Rules:
{{.rules}}
- Test cases must be well-structured and functional.
- Use the following testing frameworks: {{join ", " .frameworks}}
`

const testSpecialistUser = `{{.prompt}}
{{.query}}
--
The project classes are:
{{.project}}
--
The class to test is:
{{.class}}
--
The method to test is:
{{.method}}
`

// frameworkHints maps query keywords to the framework named in the prompt.
// Order is preserved in the output; junit5 shadows junit.
var frameworkHints = []struct {
	keyword   string
	framework string
	shadows   string
}{
	{keyword: "junit5", framework: "JUnit5", shadows: "junit"},
	{keyword: "junit", framework: "JUnit"},
	{keyword: "testng", framework: "TestNG"},
	{keyword: "mockito", framework: "Mockito"},
	{keyword: "spock", framework: "Spock"},
	{keyword: "assertj", framework: "AssertJ"},
	{keyword: "hamcrest", framework: "Hamcrest"},
	{keyword: "powermock", framework: "PowerMock"},
	{keyword: "cucumber", framework: "Cucumber"},
	{keyword: "spring test", framework: "Spring Test"},
	{keyword: "arquillian", framework: "Arquillian Test"},
}

// TestCase is the input of GenerateTestCase. Empty fields render as blank.
type TestCase struct {
	Query        string
	ProjectCode  string
	ClassCode    string
	MethodCode   string
	Prompt       string
	SessionRules string
}

// TestSpecialist writes unit tests for classes and methods.
type TestSpecialist struct {
	specialist
}

// NewTestSpecialist binds a TestSpecialist to model.
func NewTestSpecialist(model llms.Model, opts ...Option) *TestSpecialist {
	return &TestSpecialist{newSpecialist("test-specialist", model, testSpecialistSystem, testSpecialistUser, opts)}
}

// GenerateTestCase asks for tests, reinforcing any framework named in the query.
func (t *TestSpecialist) GenerateTestCase(ctx context.Context, tc TestCase) (string, error) {
	frameworks := DetectFrameworks(tc.Query)
	t.logger.WithFields(logrus.Fields{
		"query":      abbreviate(tc.Query, 80),
		"frameworks": frameworks,
	}).Debug("Generating test case")

	return t.ask(ctx, map[string]any{
		"prompt":     tc.Prompt,
		"query":      tc.Query,
		"project":    tc.ProjectCode,
		"class":      tc.ClassCode,
		"method":     tc.MethodCode,
		"frameworks": frameworks,
		"rules":      NormalizeRules(tc.SessionRules),
	})
}

// DetectFrameworks returns the testing frameworks mentioned in query, in a
// fixed order.
func DetectFrameworks(query string) []string {
	lower := strings.ToLower(query)
	found := make([]string, 0)
	shadowed := make(map[string]bool)
	for _, hint := range frameworkHints {
		if shadowed[hint.keyword] || !strings.Contains(lower, hint.keyword) {
			continue
		}
		found = append(found, hint.framework)
		if hint.shadows != "" {
			shadowed[hint.shadows] = true
		}
	}
	return found
}
