package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/requests.json
var requestSchemas []byte

const schemaURL = "https://keyguard.local/schemas/requests.json"

// Request body kinds, one per schema definition.
const (
	schemaEnroll  = "enroll"
	schemaFinish  = "finish"
	schemaExtract = "extract"
	schemaAnswer  = "answer"
)

// maxBodyBytes bounds request bodies before schema validation.
const maxBodyBytes = 8 << 20

// validator checks request bodies against the embedded JSON Schemas.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(requestSchemas)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	v := &validator{schemas: map[string]*jsonschema.Schema{}}
	for _, name := range []string{schemaEnroll, schemaFinish, schemaExtract, schemaAnswer} {
		s, err := c.Compile(schemaURL + "#/$defs/" + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// decode reads the body, validates it against schema, and unmarshals it into dst.
func (v *validator) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := v.schemas[schema].Validate(doc); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
