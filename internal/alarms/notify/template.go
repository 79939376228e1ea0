package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Door Alarm {{.EventLabel}}]
Device: {{.Device}}
{{- if .Room }}
Room: {{.Room}}
{{- end }}
Door: {{.Door}}
{{- if .Battery }}
Battery: {{.Battery}}
{{- end }}
Time: {{.Time}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device     string
	DeviceID   string
	Room       string
	Door       string
	Battery    string
	Time       string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alarm-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
