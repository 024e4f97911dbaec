package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"persona-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentFallbackWhenVaultDisabled(t *testing.T) {
	m, err := NewVaultManager(VaultConfig{}, logger.Nop())
	require.NoError(t, err)
	m.lookup = func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "sk-env"
		}
		return ""
	}

	v, err := m.GetSecret(context.Background(), KeyOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)

	_, err = m.GetSecret(context.Background(), KeyElevenLabs)
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), KeyElevenLabs, "fallback"))
}

func TestVaultRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true, Token: "t"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestVaultReadAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v1/secret/data/persona-chat", r.URL.Path)
		assert.Equal(t, "root", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"openai_api_key":"sk-vault"},"metadata":{"version":1}}}`))
	}))
	defer srv.Close()

	m, err := NewVaultManager(VaultConfig{Enabled: true, Address: srv.URL, Token: "root"}, logger.Nop())
	require.NoError(t, err)
	defer m.Close()
	m.lookup = func(k string) string {
		if k == "ELEVENLABS_API_KEY" {
			return "el-env"
		}
		return ""
	}

	for i := 0; i < 2; i++ {
		v, err := m.GetSecret(context.Background(), KeyOpenAI)
		require.NoError(t, err)
		assert.Equal(t, "sk-vault", v)
	}
	assert.Equal(t, int32(1), hits.Load())

	v, err := m.GetSecret(context.Background(), KeyElevenLabs)
	require.NoError(t, err)
	assert.Equal(t, "el-env", v)
}

func TestDefaultManagerHelpers(t *testing.T) {
	SetManager(nil)
	_, err := GetSecret(context.Background(), KeyOpenAI)
	assert.ErrorIs(t, err, ErrManagerNotInitialized)
	assert.Equal(t, "d", GetSecretWithDefault(context.Background(), KeyOpenAI, "d"))
}
