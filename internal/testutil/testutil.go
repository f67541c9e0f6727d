package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// Hex formats n as a JSON-RPC quantity
func Hex(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

// MustJSON marshals v or fails the test
func MustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %T: %v", v, err)
	}
	return raw
}

// Params splits a positional params array
func Params(raw json.RawMessage) []json.RawMessage {
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// StringParam returns params[i] decoded as a string, or "" when absent
func StringParam(raw json.RawMessage, i int) string {
	params := Params(raw)
	if i >= len(params) {
		return ""
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return ""
	}
	return s
}

// AssertNoError is a helper to assert that there is no error
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%s: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
}
