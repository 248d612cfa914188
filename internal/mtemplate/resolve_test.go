package mtemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSingleReferenceReturnsNativeType(t *testing.T) {
	ctx := Context{
		Results: map[string]interface{}{
			"fetch_user": map[string]interface{}{
				"profile": map[string]interface{}{"age": 42.0},
			},
		},
		Variables: map[string]interface{}{"enabled": true},
	}

	v, err := ResolveValue("${fetch_user.profile.age}", ctx)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	v, err = ResolveValue("${enabled}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestResolveEmbeddedReferenceReturnsString(t *testing.T) {
	ctx := Context{
		Results: map[string]interface{}{
			"count_node": map[string]interface{}{"total": 3.0},
		},
	}
	v, err := ResolveValue("found ${count_node.total} matches", ctx)
	require.NoError(t, err)
	assert.Equal(t, "found 3 matches", v)
}

func TestResolveEmbeddedObjectIsJSONEncoded(t *testing.T) {
	ctx := Context{
		Results: map[string]interface{}{
			"payload": map[string]interface{}{"a": 1.0},
		},
	}
	v, err := ResolveValue("payload: ${payload}", ctx)
	require.NoError(t, err)
	assert.Equal(t, `payload: {"a":1}`, v)
}

func TestResolveEnvVariable(t *testing.T) {
	t.Setenv("SKEIN_TEST_VAR", "hello")
	ctx := Context{}
	v, err := ResolveValue("${env:SKEIN_TEST_VAR}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestResolveMissingEnvVariableErrors(t *testing.T) {
	ctx := Context{}
	_, err := ResolveValue("${env:SKEIN_DOES_NOT_EXIST}", ctx)
	require.Error(t, err)
}

func TestResolveNestedMapsAndSlices(t *testing.T) {
	ctx := Context{Variables: map[string]interface{}{"name": "svc"}}
	input := map[string]interface{}{
		"labels": []interface{}{"${name}-a", "${name}-b"},
		"nested": map[string]interface{}{"key": "${name}"},
	}
	v, err := ResolveValue(input, ctx)
	require.NoError(t, err)
	m := v.(map[string]interface{})
	assert.Equal(t, []interface{}{"svc-a", "svc-b"}, m["labels"])
	assert.Equal(t, map[string]interface{}{"key": "svc"}, m["nested"])
}

func TestResolveUnknownReferenceYieldsNil(t *testing.T) {
	v, err := ResolveValue("${missing_node.field}", Context{})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExpandHelpersUsesSprigFunctions(t *testing.T) {
	out, err := ExpandHelpers("{{ .name | upper }}", map[string]interface{}{"name": "skein"})
	require.NoError(t, err)
	assert.Equal(t, "SKEIN", out)
}
