// Package tlsutil builds the hardened TLS settings shared by the hosted
// engine clients, the Redis connection and the ops server.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// aeadSuites 仅 AEAD 密码套件（TLS 1.2 生效，1.3 由运行时固定）
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// AEADSuites 返回允许的密码套件副本
func AEADSuites() []uint16 {
	return append([]uint16(nil), aeadSuites...)
}

// ClientConfig returns a TLS 1.2+ client config. serverName may be empty,
// in which case the dialer fills it from the address.
func ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: AEADSuites(),
		ServerName:   serverName,
	}
}

// ClientConfigWithCA 在 ClientConfig 基础上信任 caFile 中的证书
func ClientConfigWithCA(serverName, caFile string) (*tls.Config, error) {
	cfg := ClientConfig(serverName)
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("ca file contains no certificates")
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// ServerConfig loads a key pair for the ops listener.
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("both cert and key files are required")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: AEADSuites(),
		Certificates: []tls.Certificate{cert},
	}, nil
}

// SecureTransport 引擎出站请求使用的 Transport；图片上传较大，握手与空闲超时放宽
func SecureTransport() *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: ClientConfig(""),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 0,
		ExpectContinueTimeout: 2 * time.Second,
	}
}

// SecureHTTPClient returns a client on SecureTransport. timeout 0 means no
// overall deadline; callers then bound requests with their context.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(),
	}
}
