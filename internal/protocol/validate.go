package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://realmsync.ai/schemas/"

var schemaFiles = map[string]string{
	TypeHello:        "hello.schema.json",
	TypeWelcome:      "welcome.schema.json",
	TypeState:        "state.schema.json",
	TypeNarrative:    "narrative.schema.json",
	TypeCmd:          "cmd.schema.json",
	TypeAck:          "ack.schema.json",
	TypeThrottlePref: "throttle_pref.schema.json",
}

// Validator checks raw frames against the embedded message schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range schemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for typ, name := range schemaFiles {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate checks raw against the schema registered for msgType. Unknown
// types pass; routing decides what to do with them.
func (v *Validator) Validate(msgType string, raw []byte) error {
	if v == nil {
		return nil
	}
	s, ok := v.schemas[msgType]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	return nil
}
