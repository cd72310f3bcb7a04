// Copyright 2026 The Diffusers Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package hub provides the public API for downloading and caching model
// artifacts from a Hugging Face compatible hub.
package hub

import (
	"net/http"

	"github.com/tuanh123789/diffusers/internal/hub"
)

// Client downloads repository files and caches them on disk.
type Client = hub.Client

// ClientOption configures a Client.
type ClientOption = hub.ClientOption

// DownloadError reports a failed artifact download.
type DownloadError = hub.DownloadError

// NewClient creates a hub client. Without options it talks to
// huggingface.co and caches under the user cache directory.
func NewClient(opts ...ClientOption) (*Client, error) {
	return hub.NewClient(opts...)
}

// WithBaseURL overrides the hub endpoint.
func WithBaseURL(url string) ClientOption {
	return hub.WithBaseURL(url)
}

// WithCacheDir overrides the on-disk cache location.
func WithCacheDir(dir string) ClientOption {
	return hub.WithCacheDir(dir)
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(hc *http.Client) ClientOption {
	return hub.WithHTTPClient(hc)
}
