package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare array", `["a","b"]`, `["a","b"]`},
		{"fenced", "```json\n{\"x\": 1}\n```", `{"x": 1}`},
		{"prose around", `Here you go: ["Redis", "Memcached"]. Enjoy!`, `["Redis", "Memcached"]`},
		{"brackets in prose first", `Tools [see below]: ["A"]`, `["A"]`},
		{"string with brackets", `{"name": "a]b}c"}`, `{"name": "a]b}c"}`},
		{"escaped quote", `{"d": "say \"hi\" ]"}`, `{"d": "say \"hi\" ]"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_None(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "no json here", "[unterminated", "{bad json}"} {
		_, err := ExtractJSON(in)
		assert.ErrorIs(t, err, ErrNoJSON, in)
	}
}

var namesSchema = MustSchema("test_names", `{
	"type": "array",
	"items": {"type": "string"}
}`)

func TestParseJSON_WithSchema(t *testing.T) {
	t.Parallel()

	got, err := ParseJSON[[]string]("```\n[\"Vercel\", \"Netlify\"]\n```", namesSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vercel", "Netlify"}, got)
}

func TestParseJSON_SchemaViolation(t *testing.T) {
	t.Parallel()

	_, err := ParseJSON[[]string](`["Vercel", 42]`, namesSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_names")
	assert.Contains(t, err.Error(), "/1")
}

func TestParseJSON_SkipsCitationMarkers(t *testing.T) {
	t.Parallel()

	got, err := ParseJSON[[]string](`Based on [1], the tools are: ["Redis"]`, namesSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"Redis"}, got)

	got, err = ParseJSON[[]string](`Per [2][3]: ["Kafka", "NATS"] and see [4].`, namesSchema)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kafka", "NATS"}, got)
}

func TestParseJSON_NoCandidateMatchesSchema(t *testing.T) {
	t.Parallel()

	_, err := ParseJSON[[]string](`See [1] and [2, 3].`, namesSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_names")
	assert.Contains(t, err.Error(), "/0")
}

func TestExtractJSON_FirstOfMany(t *testing.T) {
	t.Parallel()

	got, err := ExtractJSON(`Based on [1], the tools are: ["Redis"]`)
	require.NoError(t, err)
	assert.Equal(t, `[1]`, got)
	assert.Equal(t, []string{`[1]`, `["Redis"]`}, jsonCandidates(`Based on [1], the tools are: ["Redis"]`))
}

func TestParseJSON_NoSchema(t *testing.T) {
	t.Parallel()

	type obj struct {
		Name string `json:"name"`
	}
	got, err := ParseJSON[obj](`Result: {"name": "Sentry"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sentry", got.Name)
}

func TestMustSchema_Cached(t *testing.T) {
	t.Parallel()

	assert.Same(t, namesSchema, MustSchema("test_names", `{}`))
	assert.Panics(t, func() { MustSchema("broken", `{"type": 12}`) })
}
