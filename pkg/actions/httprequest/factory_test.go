package httprequest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionFactory(t *testing.T) {
	factory := NewActionFactory()

	assert.Equal(t, "http", factory.ID())
	assert.Equal(t, "HTTP Request", factory.Name())
	assert.NotEmpty(t, factory.Description())

	schema := factory.Schema()
	assert.Equal(t, []string{"url"}, schema["required"])
	assert.Contains(t, schema["properties"], "retry_attempts")

	executable, err := factory.Create(map[string]string{"url": "http://localhost"})
	require.NoError(t, err)
	assert.IsType(t, &Action{}, executable)

	_, err = factory.Create(map[string]string{})
	require.ErrorIs(t, err, ErrHTTPRequestURLInvalid)
}
