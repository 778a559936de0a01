package backtesthttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const runRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["strategy"],
  "properties": {
    "strategy": {"type": "string", "enum": ["1", "2", "breakout", "crossover"]},
    "symbol": {"type": "string", "minLength": 1},
    "timeframe": {"type": "string", "minLength": 1},
    "start_ts": {"type": "integer", "minimum": 0},
    "end_ts": {"type": "integer", "minimum": 0},
    "candles": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["open_time", "open", "high", "low", "close"],
        "properties": {
          "open_time": {"type": "integer"},
          "close_time": {"type": "integer"},
          "open": {"type": "number"},
          "high": {"type": "number"},
          "low": {"type": "number"},
          "close": {"type": "number", "exclusiveMinimum": 0},
          "volume": {"type": "number", "minimum": 0},
          "trades": {"type": "integer", "minimum": 0}
        }
      }
    },
    "initial_capital": {"type": "number", "exclusiveMinimum": 0},
    "risk_percent": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "max_trades": {"type": "integer", "minimum": 0},
    "take_profit_r": {"type": "number", "exclusiveMinimum": 0},
    "stop_lookback": {"type": "integer", "minimum": 1},
    "window": {"type": "integer", "minimum": 2},
    "take_profit_pct": {"type": "number", "exclusiveMinimum": 0},
    "stop_loss_pct": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
    "short_window": {"type": "integer", "minimum": 2},
    "long_window": {"type": "integer", "minimum": 2}
  },
  "anyOf": [
    {"required": ["candles"]},
    {"required": ["symbol", "timeframe"]}
  ]
}`

const fetchRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["symbol", "timeframe", "start_ts", "end_ts"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "timeframe": {"type": "string", "minLength": 1},
    "start_ts": {"type": "integer", "minimum": 0},
    "end_ts": {"type": "integer", "minimum": 0}
  }
}`

// requestSchemas 持有编译后的请求体 schema。
type requestSchemas struct {
	run   *jsonschema.Schema
	fetch *jsonschema.Schema
}

func compileSchemas() (requestSchemas, error) {
	run, err := compileSchema("run_request.json", runRequestSchema)
	if err != nil {
		return requestSchemas{}, err
	}
	fetch, err := compileSchema("fetch_request.json", fetchRequestSchema)
	if err != nil {
		return requestSchemas{}, err
	}
	return requestSchemas{run: run, fetch: fetch}, nil
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// validateBody 先按 schema 校验原始 JSON，再解码到 dst。
func validateBody(schema *jsonschema.Schema, body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("request body required")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
