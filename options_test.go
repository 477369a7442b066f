package combivox

import (
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, 10*time.Second, cfg.timeout)
	require.Equal(t, uint64(1), cfg.retries)
	require.Equal(t, time.Second, cfg.retryDelay)
	require.Equal(t, RevisionAuto, cfg.revision)
	require.Equal(t, "admin", cfg.protocol.Username)
	require.Equal(t, []time.Duration{
		2 * time.Second, time.Second, time.Second,
		time.Second, time.Second, time.Second,
	}, cfg.loginSchedule)
	require.Nil(t, cfg.catalog)
}

func TestWithUsername(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, WithUsername("installer")(cfg))
	require.Equal(t, "installer", cfg.protocol.Username)
	require.Error(t, WithUsername("")(cfg))
}

func TestWithTimeout(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, WithTimeout(3*time.Second)(cfg))
	require.Equal(t, 3*time.Second, cfg.timeout)
	require.Error(t, WithTimeout(0)(cfg))
	require.Error(t, WithTimeout(-time.Second)(cfg))
}

func TestWithRetries(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, WithRetries(3, 500*time.Millisecond)(cfg))
	require.Equal(t, uint64(3), cfg.retries)
	require.Equal(t, 500*time.Millisecond, cfg.retryDelay)
	require.NoError(t, WithRetries(0, 0)(cfg))
	require.Error(t, WithRetries(1, -time.Second)(cfg))
}

func TestWithLayout(t *testing.T) {
	cfg := defaultConfig()
	l := DefaultLayout()
	l.MarkerFromEnd = 1000
	require.NoError(t, WithLayout(l)(cfg))
	require.Equal(t, 1000, cfg.layout.MarkerFromEnd)
	require.Error(t, WithLayout(Layout{})(cfg))
}

func TestWithProtocol(t *testing.T) {
	cfg := defaultConfig()
	p := Protocol{Permutation: Permutation{2, 1, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, WithProtocol(p)(cfg))
	require.Equal(t, "admin", cfg.protocol.Username, "username is kept when empty")
	require.Equal(t, p.Permutation, cfg.protocol.Permutation)

	p.Permutation = Permutation{1, 1, 1, 1, 1, 1, 1, 1}
	require.ErrorIs(t, WithProtocol(p)(cfg), ErrInvalidPermutation)
}

func TestWithLoginSchedule(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, WithLoginSchedule(0, time.Millisecond)(cfg))
	require.Equal(t, []time.Duration{0, time.Millisecond}, cfg.loginSchedule)
	require.Error(t, WithLoginSchedule()(cfg))
}

func TestWithCatalogDelay(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, WithCatalogDelay(0)(cfg))
	require.Zero(t, cfg.catalogDelay)
	require.Error(t, WithCatalogDelay(-time.Second)(cfg))
}

func TestNilOptions(t *testing.T) {
	cfg := defaultConfig()
	require.Error(t, WithRandom(nil)(cfg))
	require.NoError(t, WithRandom(rand.New(rand.NewSource(1)))(cfg))
	require.Error(t, WithTransport(nil)(cfg))
	require.NoError(t, WithTransport(http.DefaultTransport)(cfg))
}

func TestWithCatalog(t *testing.T) {
	cfg := defaultConfig()
	cat := Catalog{Zones: []Label{{1, "Porta"}}}
	require.NoError(t, WithCatalog(cat)(cfg))
	require.NotNil(t, cfg.catalog)
	require.True(t, cat.Equal(*cfg.catalog))
}
