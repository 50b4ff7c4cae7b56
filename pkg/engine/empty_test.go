package engine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fallbatch/internal/adapters/backend"
	"github.com/bft-labs/fallbatch/pkg/engine"
)

func TestIsEmptyJSON(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"nil raw", json.RawMessage(nil), true},
		{"null raw", json.RawMessage("null"), true},
		{"padded null", json.RawMessage(" null\n"), true},
		{"null bytes", []byte("null"), true},
		{"whitespace", json.RawMessage("  "), true},
		{"object", json.RawMessage(`{"a":1}`), false},
		{"zero", json.RawMessage("0"), false},
		{"empty string literal", json.RawMessage(`""`), false},
		{"go string", "null", false},
		{"empty go string", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.IsEmptyJSON(tt.v))
		})
	}
}

func TestEngine_JSONNullSlotIsEmpty(t *testing.T) {
	batch := backend.BatchFunc[json.RawMessage, json.RawMessage](
		func(_ context.Context, items []json.RawMessage) ([]json.RawMessage, error) {
			return []json.RawMessage{json.RawMessage("null"), json.RawMessage(`"b"`)}, nil
		},
	)
	e, err := engine.New[json.RawMessage, json.RawMessage](batch, batch, testConfig(),
		engine.WithEmptyResult(engine.IsEmptyJSON),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	results, err := e.ExecuteBatch(context.Background(), []json.RawMessage{
		json.RawMessage("1"), json.RawMessage("2"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, engine.ErrEmptyResult)
	assert.Nil(t, results[0].Value)
	require.NoError(t, results[1].Err)
	assert.JSONEq(t, `"b"`, string(results[1].Value))
}
