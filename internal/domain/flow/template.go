package flow

import (
	"encoding/json"
	"time"
)

// TemplateStatus is the publication status of a template
type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "DRAFT"
	TemplateActive   TemplateStatus = "ACTIVE"
	TemplateDisabled TemplateStatus = "DISABLED"
)

// String returns the string representation of the status
func (s TemplateStatus) String() string {
	return string(s)
}

// Template is a named, versioned definition of a form schema plus an ordered
// approval flow. FormSchema is opaque to this engine; it is validated by an
// external form-validation collaborator. FlowConfig is compiled into a
// NodeGraph by the Compiler.
type Template struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Status     TemplateStatus  `json:"status"`
	FormSchema json.RawMessage `json:"form_schema,omitempty"`
	FlowConfig json.RawMessage `json:"flow_config"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CanInstantiate returns true if new instances may be created from the template
func (t *Template) CanInstantiate() bool {
	return t.Status == TemplateActive
}
