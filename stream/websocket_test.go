package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JevgeniGandsuUT/TallinnATOM/snapcache"
	"github.com/JevgeniGandsuUT/TallinnATOM/snapshot"
)

func TestServeWSStream(t *testing.T) {
	cache := &fakeCache{
		set:  snapshot.Set{{DeviceID: "esp-01"}},
		info: snapcache.Info{ProducedAt: time.Now(), HasData: true},
	}

	srv := httptest.NewServer(http.HandlerFunc(newBroadcaster(cache).ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "devices", env.Event)

	var payload Payload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Len(t, payload.Devices, 1)
	assert.Equal(t, "esp-01", payload.Devices[0].DeviceID)
}

func TestServeWSErrorEnvelope(t *testing.T) {
	cache := &fakeCache{err: assert.AnError}

	srv := httptest.NewServer(http.HandlerFunc(newBroadcaster(cache).ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "error", env.Event)
}
