package fetch

import (
	"context"

	"github.com/webextract/webextract/internal/pipeline"
)

// Client routes fetch requests to the fast probe fetcher or, when the
// request asks for JavaScript rendering and a renderer is configured, to the
// headless renderer.
type Client struct {
	probe    pipeline.Fetcher
	renderer pipeline.Fetcher
}

// NewClient builds a Client. renderer may be nil; render requests then fall
// back to the probe fetcher.
func NewClient(probe pipeline.Fetcher, renderer pipeline.Fetcher) *Client {
	return &Client{probe: probe, renderer: renderer}
}

// Fetch dispatches on request.RenderJS.
func (c *Client) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if request.RenderJS && c.renderer != nil {
		return c.renderer.Fetch(ctx, request)
	}
	return c.probe.Fetch(ctx, request)
}
