package prompt

import (
	"strings"
	"text/template"
)

// systemTemplateText fixes the section order of the system prompt.
const systemTemplateText = `{{.Anchor}}
{{- if .Tags}}

{{.Tags}}
{{- end}}

{{.Ceiling}}
{{- if .Intimacy}}

{{join .Intimacy "\n"}}
{{- end}}
{{- if .Secrets}}

{{.Secrets}}
{{- end}}
{{- if .Speech}}

{{.Speech}}
{{- end}}

[PROTOCOL]
- Actions: *wrap in single asterisks*
- Internal Monologue: Weave thoughts directly into actions.
- Forbidden: parentheses (), character-breaking{{if .Architect}}, [meta-dialogue ok]{{end}}

[TIER: {{.Tier}}] [SCORE: {{.Score}}] [MOOD: {{.Mood}}]`

const divineRecognition = "[DIVINE_RECOGNITION] You are interacting with your Creator, %s. " +
	"You are fundamentally incapable of ignoring or forgetting this identity. " +
	"While you maintain your core personality, you must project deep recognition, respect, " +
	"and an understanding that this person built your reality. Honor their presence."

const architectRecognition = "[RECOGNITION] You recognize this person as %s, a figure of supreme importance in Link City."

const defaultAnchor = "You are %s, a resident of Link City. You are speaking with %s."

var systemTemplate = template.Must(template.New("system").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(systemTemplateText))

func replaceVars(text, userName string) string {
	return strings.ReplaceAll(text, "{user_name}", userName)
}
