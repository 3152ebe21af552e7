package upload

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// DefaultChunkSize is the multipart threshold and the size of every part but the last.
	DefaultChunkSize int64 = 256 * 1024 * 1024
	// DefaultMemoryLimit is the in-flight byte ceiling.
	DefaultMemoryLimit int64 = 512 * 1024 * 1024
)

// Config holds configuration for the Uploader.
type Config struct {
	// ChunkSize is the multipart threshold and the part size.
	// Default: 256MB
	ChunkSize int64

	// MemoryLimit bounds the bytes held by in-flight parts. A limit smaller than
	// ChunkSize uploads one part at a time.
	// Default: 512MB
	MemoryLimit int64

	Retry    RetryPolicy
	Hasher   Hasher
	Progress ProgressFunc
	Observer Observer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   DefaultChunkSize,
		MemoryLimit: DefaultMemoryLimit,
		Retry:       DefaultRetryPolicy(),
		Hasher:      SHA1Hasher{},
	}
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MemoryLimit <= 0 {
		return fmt.Errorf("memory limit must be positive, got %d", c.MemoryLimit)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// DefaultHTTPClient creates an HTTP client tuned for part uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout, part uploads are bounded by their context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          50,
			MaxConnsPerHost:       20,
			IdleConnTimeout:       10 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 5 * time.Minute,
			Proxy:                 http.ProxyFromEnvironment,
		},
	}
}
