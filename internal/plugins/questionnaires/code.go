package questionnaires

import "fmt"

// CodeGenerator names a freshly inserted questionnaire. It runs after the
// insert so the generated id is available.
type CodeGenerator interface {
	Code(q *Questionnaire) string
}

// ConfigurationCodeGenerator produces codes of the form
// "<configuration>_<id>", e.g. "technologies_1234".
type ConfigurationCodeGenerator struct{}

// Code implements CodeGenerator.
func (ConfigurationCodeGenerator) Code(q *Questionnaire) string {
	return fmt.Sprintf("%s_%d", q.ConfigurationCode, q.ID)
}
