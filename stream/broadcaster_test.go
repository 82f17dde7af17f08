package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
	"github.com/JevgeniGandsuUT/TallinnATOM/metric"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapcache"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
)

type fakeCache struct {
	set  snapshot.Set
	err  error
	info snapcache.Info
}

func (f *fakeCache) GetOrRefresh(context.Context) (snapshot.Set, error) {
	return f.set, f.err
}

func (f *fakeCache) Info() snapcache.Info { return f.info }

func newBroadcaster(cache CacheSource) *Broadcaster {
	return New(cache, 300*time.Millisecond, 2*time.Second, metric.New(), slog.Default())
}

func TestPayloadCompleteSnapshot(t *testing.T) {
	produced := time.Now().Add(-1200 * time.Millisecond)
	cache := &fakeCache{
		set:  snapshot.Set{{DeviceID: "a"}, {DeviceID: "b"}},
		info: snapcache.Info{ProducedAt: produced, HasData: true},
	}

	p, err := newBroadcaster(cache).payload(context.Background())
	require.NoError(t, err)

	assert.Len(t, p.Devices, 2)
	assert.Nil(t, p.CacheError)
	require.NotNil(t, p.CacheAgeMS)
	assert.GreaterOrEqual(t, *p.CacheAgeMS, int64(1200))
	assert.NotEmpty(t, p.ServerTimeUTC)
}

func TestPayloadCarriesCacheError(t *testing.T) {
	cache := &fakeCache{
		set:  snapshot.Set{{DeviceID: "a"}},
		info: snapcache.Info{ProducedAt: time.Now(), HasData: true, LastError: "store unavailable"},
	}

	p, err := newBroadcaster(cache).payload(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p.CacheError)
	assert.Equal(t, "store unavailable", *p.CacheError)
}

func TestPayloadEmptySetMarshalsAsArray(t *testing.T) {
	cache := &fakeCache{info: snapcache.Info{}}

	p, err := newBroadcaster(cache).payload(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"devices":[]`)
	assert.Contains(t, string(data), `"cache_age_ms":null`)
}

func TestWriteSSEEvent(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, writeSSEEvent(&sb, "devices", map[string]string{"k": "v"}))
	assert.Equal(t, "event: devices\ndata: {\"k\":\"v\"}\n\n", sb.String())
}

func TestServeSSEStream(t *testing.T) {
	cache := &fakeCache{
		set:  snapshot.Set{{DeviceID: "esp-01"}},
		info: snapcache.Info{ProducedAt: time.Now(), HasData: true},
	}

	srv := httptest.NewServer(http.HandlerFunc(newBroadcaster(cache).ServeSSE))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 4 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if trimmed := strings.TrimRight(line, "\n"); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	// Order: reconnect directive, heartbeat comment, named event, data
	assert.Equal(t, "retry: 2000", lines[0])
	assert.Equal(t, ": keepalive", lines[1])
	assert.Equal(t, "event: devices", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "data: "))

	var payload Payload
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[3], "data: ")), &payload))
	require.Len(t, payload.Devices, 1)
	assert.Equal(t, "esp-01", payload.Devices[0].DeviceID)
}

func TestServeSSEEmitsErrorEventAndContinues(t *testing.T) {
	cache := &fakeCache{err: errors.ErrNoCachedData}

	srv := httptest.NewServer(http.HandlerFunc(newBroadcaster(cache).ServeSSE))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	sawError := 0
	for sawError < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err, "stream must survive payload failures")
		if strings.TrimRight(line, "\n") == "event: error" {
			sawError++
		}
	}
}
