package pair

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
)

// promptRecorder answers with a fixed text and keeps the last request.
type promptRecorder struct {
	answer string
	err    error
	last   []llms.MessageContent
}

func (p *promptRecorder) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	p.last = messages
	if p.err != nil {
		return nil, p.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: p.answer}}}, nil
}

func (p *promptRecorder) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, p, prompt, opts...)
}

func (p *promptRecorder) system() string { return text(p.last[0]) }
func (p *promptRecorder) user() string   { return text(p.last[len(p.last)-1]) }

func text(msg llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if t, ok := part.(llms.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

type sliceMemory struct {
	messages []llms.MessageContent
}

func (s *sliceMemory) Messages(context.Context) []llms.MessageContent { return s.messages }

func (s *sliceMemory) Record(_ context.Context, query, answer string) {
	s.messages = append(s.messages,
		llms.TextParts(llms.ChatMessageTypeHuman, query),
		llms.TextParts(llms.ChatMessageTypeAI, answer),
	)
}

func TestNormalizeRules(t *testing.T) {
	assert.Equal(t, NoRules, NormalizeRules(""))
	assert.Equal(t, NoRules, NormalizeRules("  \n"))
	assert.Equal(t, "use records", NormalizeRules("use records"))
}

func TestTechWriter_GenerateJavadoc(t *testing.T) {
	model := &promptRecorder{answer: "/** A user. **/"}
	writer := NewTechWriter(model)

	doc, err := writer.GenerateJavadoc(context.Background(), ElementClass, "class User {}", "", "prefer short sentences")
	require.NoError(t, err)

	assert.Equal(t, "/** A user. **/", doc)
	assert.Contains(t, model.system(), "Take into account the general rules: no rules")
	assert.Contains(t, model.system(), "Take into account the project rules: prefer short sentences")
	assert.Contains(t, model.system(), "Take into account the session rules: no rules")
	assert.Equal(t, "Provide javadoc for the class\nThe code is: class User {}\nThe Javadoc is: \n", model.user())
}

func TestTechWriter_EnhanceJavadoc(t *testing.T) {
	model := &promptRecorder{answer: "ok"}
	writer := NewTechWriter(model)

	_, err := writer.EnhanceJavadoc(context.Background(), ElementMember, "int id;", "/** id */", "g", "p")
	require.NoError(t, err)

	assert.Contains(t, model.user(), "Provide javadoc for the member")
	assert.Contains(t, model.user(), "The Javadoc is: /** id */")
}

func TestTechWriter_DescribeCode(t *testing.T) {
	model := &promptRecorder{answer: "It adds numbers."}
	writer := NewTechWriter(model)

	answer, err := writer.DescribeCode(context.Background(), "a + b", "answer in French")
	require.NoError(t, err)

	assert.Equal(t, "It adds numbers.", answer)
	assert.True(t, strings.HasPrefix(model.user(), "Describe the following code\n"))
	assert.Contains(t, model.system(), "Take into account the session rules: answer in French")
	assert.Contains(t, model.system(), "Take into account the general rules: no rules")
}

func TestDBSpecialist_AssistDBMetadata(t *testing.T) {
	model := &promptRecorder{answer: "```sql\nSELECT 1\n```"}
	db := NewDBSpecialist(model)

	answer, err := db.AssistDBMetadata(context.Background(), "count users", "users(id, name)", "")
	require.NoError(t, err)

	assert.Equal(t, "```sql\nSELECT 1\n```", answer)
	assert.Equal(t, "Given the below metadata, please answer the prompt:\ncount users\nMetadata: users(id, name)", model.user())
	assert.True(t, strings.HasSuffix(model.system(), "following rules:\nno rules\n"))
}

func TestDetectFrameworks(t *testing.T) {
	assert.Empty(t, DetectFrameworks(""))
	assert.Equal(t, []string{"JUnit5", "Mockito"}, DetectFrameworks("Use JUnit5 with Mockito"))
	assert.Equal(t, []string{"JUnit"}, DetectFrameworks("plain junit please"))
	assert.Equal(t, []string{"TestNG", "AssertJ", "Spring Test", "Arquillian Test"},
		DetectFrameworks("arquillian, spring test, assertj and testng"))
}

func TestTestSpecialist_GenerateTestCase(t *testing.T) {
	model := &promptRecorder{answer: "class UserTest {}"}
	specialist := NewTestSpecialist(model)

	answer, err := specialist.GenerateTestCase(context.Background(), TestCase{
		Query:     "write tests with junit5 and hamcrest",
		ClassCode: "class User {}",
		Prompt:    "Generate tests",
	})
	require.NoError(t, err)

	assert.Equal(t, "class UserTest {}", answer)
	assert.Contains(t, model.system(), "Use the following testing frameworks: JUnit5, Hamcrest")
	assert.Contains(t, model.system(), "Rules:\nno rules\n")
	assert.Contains(t, model.user(), "The class to test is:\nclass User {}")
	assert.True(t, strings.HasPrefix(model.user(), "Generate tests\nwrite tests with junit5 and hamcrest\n"))
}

func TestSpecialist_Memory(t *testing.T) {
	model := &promptRecorder{answer: "first"}
	memory := &sliceMemory{}
	db := NewDBSpecialist(model, WithMemory(memory))

	_, err := db.AssistDBMetadata(context.Background(), "q1", "m", "")
	require.NoError(t, err)
	require.Len(t, memory.messages, 2)

	model.answer = "second"
	_, err = db.AssistDBMetadata(context.Background(), "q2", "m", "")
	require.NoError(t, err)

	require.Len(t, model.last, 4)
	assert.Equal(t, "first", text(model.last[2]))
}

func TestSpecialist_Errors(t *testing.T) {
	_, err := NewTechWriter(nil).DescribeCode(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNoModel)

	failing := &promptRecorder{err: errors.New("quota exceeded")}
	_, err = NewDBSpecialist(failing).AssistDBMetadata(context.Background(), "q", "m", "")
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestSpecialist_WorksWithFakeLLM(t *testing.T) {
	llm := fake.NewFakeLLM([]string{"canned"})
	answer, err := NewTestSpecialist(llm).GenerateTestCase(context.Background(), TestCase{Query: "spock"})
	require.NoError(t, err)
	assert.Equal(t, "canned", answer)
}
