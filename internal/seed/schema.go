package seed

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

const idPattern = "^[a-zA-Z0-9_-]{1,100}$"

var tierNames = []any{"STRANGER", "ACQUAINTANCE", "TRUSTED", "FRIENDSHIP", "SOUL_LINKED"}

func ptr[T any](v T) *T { return &v }

func str() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }

func strList() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: str()}
}

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Required: required, Properties: props}
}

func locationSchema() *jsonschema.Schema {
	return object([]string{"location_id", "display_name", "system_modifiers"}, map[string]*jsonschema.Schema{
		"location_id":  {Type: "string", Pattern: idPattern},
		"display_name": {Type: "string", MinLength: ptr(1)},
		"category":     str(),
		"description":  str(),
		"min_intimacy": {Type: "integer", Minimum: ptr(0.0), Maximum: ptr(100.0)},
		"system_modifiers": object([]string{"privacy_gate"}, map[string]*jsonschema.Schema{
			"privacy_gate":   {Type: "string", Enum: []any{"Public", "Semi-Private", "Private"}},
			"mood_modifiers": {Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "number"}},
		}),
		"game_logic": {Type: "object"},
		"lore":       {Type: "object"},
	})
}

func tierConfigSchema() *jsonschema.Schema {
	return object(nil, map[string]*jsonschema.Schema{
		"llm_bias":           str(),
		"allowed_topics":     strList(),
		"forbidden_topics":   strList(),
		"location_access":    strList(),
		"affection_modifier": {Type: "number"},
	})
}

func definitionSchema() *jsonschema.Schema {
	tiers := make(map[string]*jsonschema.Schema, len(tierNames))
	for _, name := range tierNames {
		tiers[name.(string)] = tierConfigSchema()
	}
	return object([]string{"identity", "interaction_system", "meta_data"}, map[string]*jsonschema.Schema{
		"identity": {Type: "object", MinProperties: ptr(1)},
		"aesthetic": object(nil, map[string]*jsonschema.Schema{
			"description":   str(),
			"portrait_path": str(),
			"speech_profile": object(nil, map[string]*jsonschema.Schema{
				"voice_style":          str(),
				"signature_emote":      str(),
				"forbidden_behaviours": strList(),
			}),
		}),
		"systems_config": object(nil, map[string]*jsonschema.Schema{
			"capabilities": object(nil, map[string]*jsonschema.Schema{
				"romance":              {Type: "boolean"},
				"sexual_content":       {Type: "boolean"},
				"explicit_language":    {Type: "boolean"},
				"emotional_dependency": {Type: "boolean"},
			}),
			"consent": object(nil, map[string]*jsonschema.Schema{"notes": str()}),
		}),
		"routine": object(nil, map[string]*jsonschema.Schema{
			"template_id":          str(),
			"location_preferences": {Type: "object", AdditionalProperties: str()},
			"schedule_overrides": {Type: "object", AdditionalProperties: &jsonschema.Schema{
				Type: "object", AdditionalProperties: str(),
			}},
		}),
		"relationships": {Type: "object", AdditionalProperties: strList()},
		"lore_associations": object(nil, map[string]*jsonschema.Schema{
			"common":  strList(),
			"rare":    strList(),
			"secrets": strList(),
		}),
		"interaction_system": object([]string{"intimacy_tiers"}, map[string]*jsonschema.Schema{
			"intimacy_tiers": {
				Type:                 "object",
				MinProperties:        ptr(1),
				Properties:           tiers,
				AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
			},
		}),
		"prompts": object(nil, map[string]*jsonschema.Schema{"system_anchor_override": str()}),
		"meta_data": object(nil, map[string]*jsonschema.Schema{
			"recognition_protocol": {Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "boolean"}},
			"dev_config": object(nil, map[string]*jsonschema.Schema{
				"architect_ids": strList(),
				"title":         str(),
			}),
		}),
	})
}

func soulSchema() *jsonschema.Schema {
	return object([]string{"soul_id", "name", "definition"}, map[string]*jsonschema.Schema{
		"soul_id":          {Type: "string", Pattern: idPattern},
		"name":             {Type: "string", MinLength: ptr(1)},
		"summary":          str(),
		"portrait_url":     str(),
		"archetype":        str(),
		"version":          str(),
		"initial_location": {Type: "string", Pattern: idPattern},
		"definition":       definitionSchema(),
	})
}

type schemas struct {
	location *jsonschema.Resolved
	soul     *jsonschema.Resolved
}

var (
	resolveOnce sync.Once
	resolved    schemas
	resolveErr  error
)

func loadSchemas() (schemas, error) {
	resolveOnce.Do(func() {
		loc, err := locationSchema().Resolve(nil)
		if err != nil {
			resolveErr = fmt.Errorf("failed to resolve location schema: %w", err)
			return
		}
		soul, err := soulSchema().Resolve(nil)
		if err != nil {
			resolveErr = fmt.Errorf("failed to resolve soul schema: %w", err)
			return
		}
		resolved = schemas{location: loc, soul: soul}
	})
	return resolved, resolveErr
}
