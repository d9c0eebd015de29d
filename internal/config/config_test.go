package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametelin/finwatch/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://invest-public-api.tbank.ru/rest", cfg.InvestAPIURL)
	assert.Equal(t, "wss://invest-public-api.tbank.ru/ws", cfg.InvestSocketURL)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5, cfg.LookbackYears)
	assert.False(t, cfg.StreamEnabled)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "0")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestLoadRejectsWrongScheme(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())
	t.Setenv("TBANK_INVEST_API_URL", "http://invest.example.com/rest")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestLoadRejectsMalformedURL(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())
	t.Setenv("TBANK_INVEST_API_URL", "https://invest.example.com/\x7frest")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestLoadStripsTrailingSlash(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())
	t.Setenv("TBANK_INVEST_API_URL", "https://invest.example.com/rest///")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://invest.example.com/rest", cfg.InvestAPIURL)
}

func TestLoadAllowsPlainWebsocketScheme(t *testing.T) {
	t.Setenv("FINWATCH_DATA_DIR", t.TempDir())
	t.Setenv("TBANK_INVEST_SOCKET_URL", "ws://localhost:9000/ws")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/ws", cfg.InvestSocketURL)
}
