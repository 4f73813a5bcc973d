package policy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
)

//go:embed policy.schema.json
var schemaJSON string

// ErrInvalidPolicy is returned when a policy file does not match the schema.
var ErrInvalidPolicy = errors.New("invalid policy file")

type fileDoc struct {
	AllowedDomains   []string `mapstructure:"allowed_domains"`
	AllowedServices  []string `mapstructure:"allowed_services"`
	AllowedArguments []string `mapstructure:"allowed_arguments"`
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("policy.schema.json")
}

// Load reads a YAML (or JSON) policy file. Keys missing from the file keep the
// compiled-in defaults. An empty path returns Default().
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}

	raw, err := normalize(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", path, err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile policy schema: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, path, err)
	}

	var doc fileDoc
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("unmarshal policy %s: %w", path, err)
	}
	if !v.IsSet("allowed_domains") {
		doc.AllowedDomains = DefaultDomains
	}
	if !v.IsSet("allowed_services") {
		doc.AllowedServices = DefaultServices
	}
	if !v.IsSet("allowed_arguments") {
		doc.AllowedArguments = DefaultArguments
	}

	p := New(doc.AllowedDomains, doc.AllowedServices, doc.AllowedArguments)
	slog.Info("policy loaded",
		"path", path,
		"domains", len(p.domains),
		"services", len(p.services),
		"arguments", len(p.arguments),
	)
	return p, nil
}

// normalize round-trips viper's settings through JSON so the validator sees
// the same value shapes encoding/json produces.
func normalize(settings map[string]any) (any, error) {
	b, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
