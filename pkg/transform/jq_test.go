package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQ_Apply(t *testing.T) {
	tr := &JQ{
		Meta:       Meta{Label: "ids"},
		Expression: ".hits | map(.id)",
	}

	got, err := tr.Apply(context.Background(), map[string]any{
		"hits": []any{
			map[string]any{"id": 1},
			map[string]any{"id": 2},
		},
	}, NewContext())
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, got)
}

func TestJQ_EmptyExpressionPassesThrough(t *testing.T) {
	tr := &JQ{}

	got, err := tr.Apply(context.Background(), map[string]any{"a": 1}, NewContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, got)
}

func TestJQ_InvalidExpression(t *testing.T) {
	tr := &JQ{Meta: Meta{Label: "broken"}, Expression: ".["}

	_, err := tr.Apply(context.Background(), map[string]any{}, NewContext())
	require.Error(t, err)
}

func TestJQ_InPipeline(t *testing.T) {
	p := NewPipeline(
		&PayloadTransform{
			Meta:   Meta{Target: "filters", Seq: 1},
			Values: map[string]any{"currency": "USD"},
		},
		&JQ{
			Meta:       Meta{Label: "flatten", Seq: 2},
			Expression: "{query: .query, currency: .filters.currency}",
		},
	)

	got, err := p.Execute(context.Background(), map[string]any{"query": "shoes"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "shoes", "currency": "USD"}, got)
}
