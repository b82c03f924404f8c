package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/regatehq/regate/core/rgerr"
)

func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		fmt.Println(`{"schema_id":"regate.error","schema_version":"1.0.0","error_code":"encode_failed","error_category":"internal","retryable":false}`)
		return exitUsage
	}
	fmt.Println(string(encoded))
	return exitCode
}

// marshalOutputWithErrorEnvelope folds correlation_id and, on
// failure, error_code/error_category/hint/retryable into output's
// JSON encoding per the --json contract (§10.2).
func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := marshalJSON(output)
	if err != nil {
		return nil, err
	}
	result, err := unmarshalJSONToMap(encoded)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(asString(result["correlation_id"])) == "" {
		if correlationID := currentCorrelationID(); correlationID != "" {
			result["correlation_id"] = correlationID
		}
	}
	errorText := strings.TrimSpace(asString(result["error"]))
	if errorText == "" {
		return marshalJSON(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		result["error_category"] = string(defaultErrorCategory(exitCode))
	}
	if _, exists := result["retryable"]; !exists {
		result["retryable"] = defaultRetryable(rgerr.Category(asString(result["error_category"])))
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(exitCode)
	}
	return marshalJSON(result)
}

// exitCodeForError maps err onto the four-code contract (§7) via
// rgerr, falling back to fallbackExit when err carries no recognized
// category.
func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	if rgerr.CategoryOf(err) == "" {
		return fallbackExit
	}
	return rgerr.ExitCode(err)
}

func defaultErrorCategory(exitCode int) rgerr.Category {
	switch exitCode {
	case exitUsage:
		return rgerr.CategoryUsage
	case exitIOFailed:
		return rgerr.CategoryIORead
	default:
		return rgerr.CategoryInternal
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitUsage:
		return "usage_error"
	case exitIOFailed:
		return "io_failed"
	case exitRunFail:
		return "run_failed"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitUsage:
		return "check command usage and flag values"
	case exitIOFailed:
		return "check that log/config/cases paths exist and are readable or writable"
	case exitRunFail:
		return "inspect the checks and explanations for what regressed"
	default:
		return "retry after checking local environment and logs"
	}
}

func defaultRetryable(category rgerr.Category) bool {
	return category == rgerr.CategoryInvoker
}

func marshalJSON(value any) ([]byte, error) {
	return json.Marshal(value)
}

func unmarshalJSONToMap(payload []byte) (map[string]any, error) {
	output := map[string]any{}
	if err := json.Unmarshal(payload, &output); err != nil {
		return nil, err
	}
	return output, nil
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
