// Package exchange предоставляет унифицированный интерфейс для работы с биржами.
package exchange

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для REST API бирж
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // таймаут TCP соединения (default: 3s)
	ReadTimeout    time.Duration // таймаут ожидания заголовков ответа (default: 5s)
	TotalTimeout   time.Duration // общий таймаут, если у запроса нет deadline (default: 10s)

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
// Таймауты короче, чем у обычного клиента: цикл воркера длится 500ms
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout: 3 * time.Second,
		ReadTimeout:    5 * time.Second,
		TotalTimeout:   10 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     40,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 3 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - HTTP клиент с connection pooling и метрикой задержек
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает общий клиент (один connection pool на процесс)
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient создаёт HTTP клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.TotalTimeout,
		},
		config: config,
	}
}

// Do выполняет запрос и пишет задержку в гистограмму exchange_request_duration_seconds
func (hc *HTTPClient) Do(exchange, endpoint string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := hc.client.Do(req)
	observeRequest(exchange, endpoint, start, err)
	return resp, err
}

// WrapHTTPClient оборачивает готовый http.Client (тесты с httptest)
func WrapHTTPClient(c *http.Client) *HTTPClient {
	return &HTTPClient{client: c, config: DefaultHTTPClientConfig()}
}

// GetClient возвращает базовый http.Client (нужен go-binance)
func (hc *HTTPClient) GetClient() *http.Client {
	return hc.client
}

// Close закрывает idle соединения
func (hc *HTTPClient) Close() {
	if transport, ok := hc.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// CloseGlobalClient закрывает глобальный клиент при graceful shutdown
func CloseGlobalClient() {
	if globalClient != nil {
		globalClient.Close()
	}
}
