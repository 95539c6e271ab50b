// Package schema generates the JSON schema of the catalog file.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cheap-k8s/stageflow/pkg/apis/catalog/v1alpha1"
	"github.com/invopop/jsonschema"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// Title of the generated schema.
	Title = "stageflow Catalog"
	// Description of the generated schema.
	Description = "JSON schema for the stageflow catalog file (stageflow.yaml)"

	durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`
)

// Reflect builds the schema of v1alpha1.Catalog.
func Reflect() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper:                    typeMapper,
	}

	schema := reflector.Reflect(&v1alpha1.Catalog{})
	customize(schema)

	return schema
}

// Generate returns the indented JSON encoding of the schema.
func Generate() ([]byte, error) {
	data, err := json.MarshalIndent(Reflect(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	return data, nil
}

func customize(schema *jsonschema.Schema) {
	schema.ID = ""
	schema.Title = Title
	schema.Description = Description

	walk(schema, func(node *jsonschema.Schema) {
		node.Required = nil
	})

	schema.Required = []string{"spec"}

	if schema.Properties == nil {
		return
	}

	if prop, ok := schema.Properties.Get("kind"); ok && prop != nil {
		prop.Enum = []any{v1alpha1.Kind}
	}

	if prop, ok := schema.Properties.Get("apiVersion"); ok && prop != nil {
		prop.Enum = []any{v1alpha1.APIVersion}
	}

	spec, ok := schema.Properties.Get("spec")
	if !ok || spec == nil || spec.Properties == nil {
		return
	}

	repos, ok := spec.Properties.Get("repositories")
	if ok && repos != nil && repos.Items != nil {
		repos.Items.Required = []string{"name", "url"}

		if targets, found := repos.Items.Properties.Get("targets"); found && targets != nil && targets.Items != nil {
			targets.Items.Required = []string{"name", "path"}
		}
	}
}

func walk(schema *jsonschema.Schema, fn func(*jsonschema.Schema)) {
	if schema == nil {
		return
	}

	fn(schema)

	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			walk(pair.Value, fn)
		}
	}

	walk(schema.Items, fn)
	walk(schema.AdditionalProperties, fn)
}

func typeMapper(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeFor[metav1.Duration]():
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     durationPattern,
			Description: "Go duration, for example 30s, 5m or 1h30m.",
		}
	case reflect.TypeFor[v1alpha1.Credential]():
		// Password is hidden from JSON encoding but still accepted in the file.
		properties := jsonschema.NewProperties()
		properties.Set("username", &jsonschema.Schema{Type: "string"})
		properties.Set("password", &jsonschema.Schema{
			Type:        "string",
			Description: "Password or token, usually an ${ENV} reference.",
		})

		return &jsonschema.Schema{
			Type:                 "object",
			Properties:           properties,
			AdditionalProperties: jsonschema.FalseSchema,
		}
	default:
		return nil
	}
}
