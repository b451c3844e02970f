package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CredentialConfig is one upstream credential pool entry.
type CredentialConfig struct {
	Name    string `yaml:"name" json:"name"`
	Token   string `yaml:"token" json:"token"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`
	Status  string `yaml:"status" json:"status,omitempty"`
}

// credentialsSchema constrains the CLAWGATE_CREDENTIALS JSON array. Name and
// token are required; base_url and status are informational.
const credentialsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "token"],
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "token": {"type": "string", "minLength": 1},
      "base_url": {"type": "string"},
      "status": {"type": "string"}
    },
    "additionalProperties": false
  }
}`

// ParseCredentialsJSON validates and decodes a JSON credential list,
// typically supplied through the CLAWGATE_CREDENTIALS environment variable.
func ParseCredentialsJSON(data []byte) ([]CredentialConfig, error) {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(credentialsSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal credentials schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("credentials.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("credentials.json")
	if err != nil {
		return nil, fmt.Errorf("compile credentials schema: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}

	var creds []CredentialConfig
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, nil
}
