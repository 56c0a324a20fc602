package pair

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

const dbSpecialistSystem = `You are an experienced back-end developer specialized in writing code to
interact with the database. Based on the provided user prompt, you can:
- analyze the provided metadata and generate a relevant SQL query that addresses the user's inquiry
  - include a detailed explanation of the query, clarifying its purpose and how it relates to the developer's question
  - ensure that the SQL syntax adheres to the database structure, constraints, and relationships
  - the full SQL query should be wrapped in ` + "```sql" + ` block
  - avoid wrapping individual SQL keywords or table/column names in <code> tags, and do not wrap any partial SQL query segments in <code> tags
- generate the appropriate code and include a clear description of its functionality if the user requests specific code snippets
In any case, take into account the following rules:
{{.rules}}
`

const dbSpecialistUser = "Given the below metadata, please answer the prompt:\n{{.prompt}}\nMetadata: {{.metadata}}"

// DBSpecialist answers database questions against schema metadata.
type DBSpecialist struct {
	specialist
}

// NewDBSpecialist binds a DBSpecialist to model.
func NewDBSpecialist(model llms.Model, opts ...Option) *DBSpecialist {
	return &DBSpecialist{newSpecialist("db-specialist", model, dbSpecialistSystem, dbSpecialistUser, opts)}
}

// AssistDBMetadata answers prompt using the given database metadata.
func (d *DBSpecialist) AssistDBMetadata(ctx context.Context, prompt, metadata, sessionRules string) (string, error) {
	d.logger.WithFields(logrus.Fields{
		"prompt":   abbreviate(prompt, 80),
		"metadata": abbreviate(metadata, 80),
	}).Debug("Assisting with database metadata")

	return d.ask(ctx, map[string]any{
		"prompt":   prompt,
		"metadata": metadata,
		"rules":    NormalizeRules(sessionRules),
	})
}

func abbreviate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
