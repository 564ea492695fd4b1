package tool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-kb/aletheia/pkg/config"
)

func TestRegisterRemoteTools_BuildsLowercasedCommandAndName(t *testing.T) {
	os.Setenv("ALETHEIA_TOOL_WEATHER_URL", "https://example.com/weather")
	os.Setenv("ALETHEIA_TOOL_WEATHER_TOKEN", "tok-123")
	defer os.Unsetenv("ALETHEIA_TOOL_WEATHER_URL")
	defer os.Unsetenv("ALETHEIA_TOOL_WEATHER_TOKEN")

	r := NewRegistry()
	RegisterRemoteTools(r, &config.Config{})

	d, ok := r.Get("weather")
	require.True(t, ok)
	assert.Equal(t, "/weather", d.Command)
	assert.Equal(t, "https://example.com/weather", d.Endpoint)
	assert.Equal(t, "tok-123", d.Token)

	byCmd, ok := r.GetByCommand("/weather")
	require.True(t, ok)
	assert.Equal(t, "weather", byCmd.Name)
}
