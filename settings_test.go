package nimi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRestartModeJSONRoundTrip(t *testing.T) {
	for _, mode := range []RestartMode{RestartNever, RestartUpToCount, RestartAlways} {
		b, err := json.Marshal(mode)
		require.NoError(t, err)

		var got RestartMode
		require.NoError(t, json.Unmarshal(b, &got))
		require.Equal(t, mode, got)
	}
}

func TestRestartModeUnmarshalUnknown(t *testing.T) {
	var m RestartMode
	err := json.Unmarshal([]byte(`"sometimes"`), &m)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRestartTime(t *testing.T) {
	r := Restart{TimeMillis: 1500}
	require.Equal(t, 1500*time.Millisecond, r.Time())
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, Settings{Restart: Restart{Count: 0, TimeMillis: 0}}.Validate())

	err := Settings{Restart: Restart{Count: -1}}.Validate()
	require.Error(t, err)

	err = Settings{Restart: Restart{TimeMillis: -1}}.Validate()
	require.Error(t, err)
}
