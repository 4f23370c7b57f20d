package judit

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// callbackSchema constrains the webhook envelope before any field is trusted.
// It deliberately leaves response_data open: its shape varies by response
// type and is decoded separately.
const callbackSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["event_type", "payload"],
	"properties": {
		"user_id": {"type": "string"},
		"callback_id": {"type": "string"},
		"event_type": {"type": "string", "minLength": 1},
		"reference_type": {"type": "string"},
		"reference_id": {"type": "string"},
		"payload": {
			"type": "object",
			"required": ["request_id"],
			"properties": {
				"request_id": {"type": "string", "minLength": 1},
				"response_id": {"type": "string"},
				"response_type": {"type": "string"},
				"status": {"type": "string"},
				"code": {"type": "string"},
				"message": {"type": "string"},
				"tags": {
					"type": "object",
					"properties": {
						"cached_response": {"type": "boolean"}
					}
				}
			}
		}
	}
}`

// submitResponseSchema is the minimum shape a submit acknowledgement must
// have before it is trusted. request_id is the correlation handle for every
// later callback, so its absence is a hard failure.
const submitResponseSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["request_id"],
	"properties": {
		"request_id": {"type": "string", "minLength": 1},
		"status": {"type": "string"},
		"created_at": {"type": "string"}
	}
}`

var (
	compiledCallbackSchema = mustCompileSchema("callback.json", callbackSchema)
	compiledSubmitSchema   = mustCompileSchema("submit.json", submitResponseSchema)
)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(err)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		panic(err)
	}
	return compiled
}

// ValidateSubmitResponse checks a raw submit acknowledgement against the
// submit schema.
func ValidateSubmitResponse(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "judit: submit response is not valid JSON")
	}
	if err := compiledSubmitSchema.Validate(inst); err != nil {
		return eris.Wrap(err, "judit: submit response failed validation")
	}
	return nil
}

// ValidateCallback checks a raw webhook body against the callback schema.
func ValidateCallback(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "judit: callback is not valid JSON")
	}
	if err := compiledCallbackSchema.Validate(inst); err != nil {
		return eris.Wrap(err, "judit: callback failed validation")
	}
	return nil
}
