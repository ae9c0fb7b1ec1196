package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"practicum/internal/platform/config"
)

func TestNewWriteTimeoutFollowsRequestTimeout(t *testing.T) {
	h := http.NotFoundHandler()

	srv := New(config.Server{Addr: ":9000", RequestTimeout: 10 * time.Second}, h)
	assert.Equal(t, ":9000", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)

	assert.Equal(t, 30*time.Second, New(config.Server{}, h).WriteTimeout)
}
