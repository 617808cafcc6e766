package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{
		PageSize:       20,
		ReconnectDelay: 5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		DataDir:        ".",
	}
	c.Server.Name = "local"
	c.Server.URL = "http://localhost:8080"
	return c
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validConfig().Validate())

	c := validConfig()
	c.Server.URL = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.PageSize = 0
	assert.Error(t, c.Validate())
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "http", url: "http://localhost:8080", want: "ws://localhost:8080/ws-chat"},
		{name: "https", url: "https://chat.example.com", want: "wss://chat.example.com/ws-chat"},
		{name: "trailing slash", url: "http://localhost:8080/", want: "ws://localhost:8080/ws-chat"},
		{name: "already ws", url: "ws://localhost:8080", want: "ws://localhost:8080/ws-chat"},
		{name: "bad scheme", url: "ftp://localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Server.URL = tt.url
			got, err := c.WebSocketURL()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
