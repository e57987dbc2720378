package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/pkg/logger"
)

func protoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Proto)
	})
}

func serve(t *testing.T, cfg config.ServerConfig) (*Server, string) {
	t.Helper()
	srv, err := New(cfg, 0, protoHandler(), logger.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
		assert.NoError(t, <-done)
	})
	return srv, "http://" + ln.Addr().String()
}

func TestServesHTTP1(t *testing.T) {
	_, url := serve(t, config.ServerConfig{ReadTimeout: time.Second, WriteTimeout: time.Second})

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "HTTP/1.1", string(body))
}

func TestServesCleartextHTTP2(t *testing.T) {
	_, url := serve(t, config.ServerConfig{HTTP2: true, IdleTimeout: time.Second})

	client := &http.Client{Transport: &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "HTTP/2.0", string(body))
}

func TestNewAddrAndTLSVersion(t *testing.T) {
	srv, err := New(config.ServerConfig{
		HTTP2: true,
		TLS:   config.TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", MinVersion: "1.3"},
	}, 8443, protoHandler(), logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ":8443", srv.Addr())
	assert.Equal(t, uint16(tls.VersionTLS13), srv.server.TLSConfig.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsVersion(""))
}
