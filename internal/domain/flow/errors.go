package flow

import "errors"

var (
	// ErrTemplateMalformed is returned when a template's flow configuration
	// has a structural defect. Detected at compile time, never at runtime.
	ErrTemplateMalformed = errors.New("template malformed")

	// ErrTemplateNotActive is returned when instantiation is attempted
	// against a draft or disabled template
	ErrTemplateNotActive = errors.New("template not active")
)
