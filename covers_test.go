package main_test

// SPDX-License-Identifier: GPL-3.0-only

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	main "saucetrap"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/assert"
)

// inflightTrackingClient delegates to an inner client while recording the
// peak number of requests in flight at once.
type inflightTrackingClient struct {
	inner    *TestClient
	inflight atomic.Int32
	peak     atomic.Int32
}

func (c *inflightTrackingClient) Get(uri string) ([]byte, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	// Hold the request open briefly so overlapping callers actually overlap.
	time.Sleep(5 * time.Millisecond)
	return c.inner.Get(uri)
}

func coverPageURL(code int) string {
	return fmt.Sprintf("https://nhentai.net/g/%d/", code)
}

func TestCoverLoaderResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the cover from the detail page", func(t *testing.T) {
		client := NewTestClient()
		client.SetResponse(coverPageURL(777),
			detailPage("x", siteLogo, `<img data-src="https://i.example.net/777/cover.jpg">`), nil)
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.Equal(t, loader.Resolve(ctx, 777), "https://i.example.net/777/cover.jpg")
	})

	t.Run("memoizes results per code", func(t *testing.T) {
		client := NewTestClient()
		client.SetResponse(coverPageURL(777),
			detailPage("x", siteLogo, `<img src="https://i.example.net/777/cover.jpg">`), nil)
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		first := loader.Resolve(ctx, 777)
		second := loader.Resolve(ctx, 777)
		assert.Equal(t, first, second)
		assert.Equal(t, client.Calls(coverPageURL(777)), 1)
	})

	t.Run("collapses concurrent lookups for the same code", func(t *testing.T) {
		client := NewTestClient()
		client.SetResponse(coverPageURL(888),
			detailPage("x", siteLogo, `<img src="https://i.example.net/888/cover.jpg">`), nil)
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		var wg sync.WaitGroup
		results := make([]string, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = loader.Resolve(ctx, 888)
			}(i)
		}
		wg.Wait()

		for _, got := range results {
			assert.Equal(t, got, "https://i.example.net/888/cover.jpg")
		}
		assert.Equal(t, client.Calls(coverPageURL(888)), 1)
	})

	t.Run("caches fetch failures as no cover", func(t *testing.T) {
		client := NewTestClient()
		client.SetResponse(coverPageURL(999), nil, errors.New("connection refused"))
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.Equal(t, loader.Resolve(ctx, 999), "")
		assert.Equal(t, loader.Resolve(ctx, 999), "")
		assert.Equal(t, client.Calls(coverPageURL(999)), 1)
	})

	t.Run("caches pages without a cover as no cover", func(t *testing.T) {
		client := NewTestClient()
		client.SetResponse(coverPageURL(111), detailPage("x", siteLogo), nil)
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.Equal(t, loader.Resolve(ctx, 111), "")
		assert.Equal(t, loader.Resolve(ctx, 111), "")
		assert.Equal(t, client.Calls(coverPageURL(111)), 1)
	})
}

func TestCoverLoaderDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("writes the cover bytes to <code>.jpg", func(t *testing.T) {
		dir := t.TempDir()
		client := NewTestClient()
		client.SetResponse(coverPageURL(42),
			detailPage("x", siteLogo, `<img src="https://i.example.net/42/cover.jpg">`), nil)
		client.SetResponse("https://i.example.net/42/cover.jpg", []byte("jpeg-bytes"), nil)
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.NilError(t, loader.Download(ctx, 42, dir))

		data, err := os.ReadFile(filepath.Join(dir, "42.jpg"))
		assert.NilError(t, err)
		assert.Equal(t, string(data), "jpeg-bytes")
	})

	t.Run("skips covers already on disk", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "42.jpg")
		assert.NilError(t, os.WriteFile(path, []byte("existing"), 0o600))

		client := NewTestClient()
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.NilError(t, loader.Download(ctx, 42, dir))
		assert.Equal(t, client.Calls(coverPageURL(42)), 0)

		data, err := os.ReadFile(path)
		assert.NilError(t, err)
		assert.Equal(t, string(data), "existing")
	})

	t.Run("is a no-op for codes without a cover", func(t *testing.T) {
		dir := t.TempDir()
		client := NewTestClient()
		client.SetResponse(coverPageURL(7), detailPage("x", siteLogo), nil)
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.NilError(t, loader.Download(ctx, 7, dir))

		_, err := os.Stat(filepath.Join(dir, "7.jpg"))
		assert.Assert(t, os.IsNotExist(err))
	})

	t.Run("bounds concurrent byte fetches to the shared gate", func(t *testing.T) {
		dir := t.TempDir()
		inner := NewTestClient()
		client := &inflightTrackingClient{inner: inner}
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		const codes = 12
		for code := 1; code <= codes; code++ {
			coverURL := fmt.Sprintf("https://i.example.net/%d/cover.jpg", code)
			inner.SetResponse(coverPageURL(code),
				detailPage("x", siteLogo, fmt.Sprintf(`<img src="%s">`, coverURL)), nil)
			inner.SetResponse(coverURL, []byte("jpeg"), nil)
		}

		// Warm the URL cache so the downloads below hit only the byte-fetch
		// path, which must still be gated.
		for code := 1; code <= codes; code++ {
			loader.Resolve(ctx, code)
		}

		client.peak.Store(0)
		var wg sync.WaitGroup
		for code := 1; code <= codes; code++ {
			wg.Add(1)
			go func(code int) {
				defer wg.Done()
				assert.Check(t, loader.Download(ctx, code, dir) == nil)
			}(code)
		}
		wg.Wait()

		assert.Assert(t, client.peak.Load() <= 5,
			"peak in-flight requests %d exceeds the gate", client.peak.Load())

		for code := 1; code <= codes; code++ {
			_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%d.jpg", code)))
			assert.NilError(t, err)
		}
	})

	t.Run("tolerates a failed byte fetch", func(t *testing.T) {
		dir := t.TempDir()
		client := NewTestClient()
		client.SetResponse(coverPageURL(8),
			detailPage("x", siteLogo, `<img src="https://i.example.net/8/cover.jpg">`), nil)
		client.SetResponse("https://i.example.net/8/cover.jpg", nil, errors.New("timeout"))
		loader := main.NewCoverLoader(NewTestLogger(t), client)

		assert.NilError(t, loader.Download(ctx, 8, dir))

		_, err := os.Stat(filepath.Join(dir, "8.jpg"))
		assert.Assert(t, os.IsNotExist(err))
	})
}
