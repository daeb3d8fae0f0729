package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// flowConfigSchema constrains the raw flow_config document before decoding.
// Field-level rules (kind values, per-strategy required keys, operators) are
// enforced after decode so the error messages can reference node positions.
const flowConfigSchema = `{
	"type": "object",
	"required": ["nodes"],
	"properties": {
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "kind", "approver"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"kind": {"type": "string"},
					"approver": {"type": "object", "required": ["kind"]},
					"condition": {
						"type": "object",
						"required": ["field", "operator", "value"]
					}
				}
			}
		}
	}
}`

// rawFlowConfig mirrors the authoring format of Template.FlowConfig
type rawFlowConfig struct {
	Nodes []rawNode `json:"nodes" validate:"required,min=1,dive"`
}

type rawNode struct {
	Name      string          `json:"name"     validate:"required"`
	Kind      string          `json:"kind"     validate:"required"`
	Approver  rawApproverSpec `json:"approver"`
	Condition *rawCondition   `json:"condition,omitempty"`
}

type rawApproverSpec struct {
	Kind      string   `json:"kind" validate:"required"`
	RoleCodes []string `json:"role_codes,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
}

type rawCondition struct {
	Field    string      `json:"field"    validate:"required"`
	Operator string      `json:"operator" validate:"required"`
	Value    interface{} `json:"value"`
}

// Compiler turns a template's flow configuration into a NodeGraph. Compiled
// graphs are cached per (code, version); Invalidate must be called when a
// template is edited.
type Compiler struct {
	validate *validator.Validate
	cache    *graphCache
}

// NewCompiler creates a compiler with an empty graph cache
func NewCompiler() *Compiler {
	return &Compiler{
		validate: validator.New(),
		cache:    newGraphCache(),
	}
}

// Compile parses and validates the template's flow configuration. The result
// for a given (code, version) pair is cached; the transform itself is pure.
func (c *Compiler) Compile(tpl *Template) (*NodeGraph, error) {
	if graph, ok := c.cache.get(tpl.Code, tpl.Version); ok {
		return graph, nil
	}

	graph, err := c.compile(tpl)
	if err != nil {
		return nil, err
	}

	c.cache.put(tpl.Code, tpl.Version, graph)
	return graph, nil
}

// Invalidate drops every cached graph for the template code. Called on
// template edits only; the cache is never expired by time.
func (c *Compiler) Invalidate(code string) {
	c.cache.invalidate(code)
}

func (c *Compiler) compile(tpl *Template) (*NodeGraph, error) {
	if len(tpl.FlowConfig) == 0 {
		return nil, fmt.Errorf("%w: empty flow_config", ErrTemplateMalformed)
	}

	schemaLoader := gojsonschema.NewStringLoader(flowConfigSchema)
	docLoader := gojsonschema.NewBytesLoader(tpl.FlowConfig)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateMalformed, err)
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			descs = append(descs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrTemplateMalformed, strings.Join(descs, "; "))
	}

	var raw rawFlowConfig
	if err := json.Unmarshal(tpl.FlowConfig, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateMalformed, err)
	}
	if err := c.validate.Struct(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateMalformed, err)
	}

	nodes := make([]NodeSpec, 0, len(raw.Nodes))
	for i, rn := range raw.Nodes {
		spec, err := compileNode(i, rn)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, spec)
	}

	return &NodeGraph{
		TemplateCode:    tpl.Code,
		TemplateVersion: tpl.Version,
		Nodes:           nodes,
	}, nil
}

func compileNode(sequence int, rn rawNode) (NodeSpec, error) {
	kind := NodeKind(rn.Kind)
	if !kind.IsValid() {
		return NodeSpec{}, fmt.Errorf("%w: node %d has unknown kind %q", ErrTemplateMalformed, sequence, rn.Kind)
	}

	approver, err := compileApprover(sequence, rn.Approver)
	if err != nil {
		return NodeSpec{}, err
	}

	var cond *Condition
	if rn.Condition != nil {
		op := Operator(rn.Condition.Operator)
		if !op.IsValid() {
			return NodeSpec{}, fmt.Errorf("%w: node %d has unsupported operator %q",
				ErrTemplateMalformed, sequence, rn.Condition.Operator)
		}
		if rn.Condition.Field == "" {
			return NodeSpec{}, fmt.Errorf("%w: node %d condition has empty field", ErrTemplateMalformed, sequence)
		}
		cond = &Condition{
			Field:    rn.Condition.Field,
			Operator: op,
			Value:    rn.Condition.Value,
		}
	}

	return NodeSpec{
		Name:      rn.Name,
		Sequence:  sequence,
		Kind:      kind,
		Approver:  approver,
		Condition: cond,
	}, nil
}

func compileApprover(sequence int, raw rawApproverSpec) (ApproverSpec, error) {
	kind := ApproverKind(raw.Kind)
	if !kind.IsValid() {
		return ApproverSpec{}, fmt.Errorf("%w: node %d has unknown approver kind %q",
			ErrTemplateMalformed, sequence, raw.Kind)
	}

	switch kind {
	case ApproverRole:
		if len(raw.RoleCodes) == 0 {
			return ApproverSpec{}, fmt.Errorf("%w: node %d role approver has no role_codes",
				ErrTemplateMalformed, sequence)
		}
	case ApproverFixedUsers:
		if len(raw.UserIDs) == 0 {
			return ApproverSpec{}, fmt.Errorf("%w: node %d fixed_users approver has no user_ids",
				ErrTemplateMalformed, sequence)
		}
	}

	return ApproverSpec{
		Kind:      kind,
		RoleCodes: raw.RoleCodes,
		UserIDs:   raw.UserIDs,
	}, nil
}
