package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bken/signaling/internal/core"
	"bken/signaling/internal/hub"
	"bken/signaling/internal/metrics"
	"bken/signaling/internal/protocol"
	"bken/signaling/internal/schedule"
	"bken/signaling/internal/store"
)

func newRegistry(t *testing.T, observers ...core.Observer) *core.Registry {
	t.Helper()
	return core.NewRegistry(core.NewMemStore(), schedule.New(nil), hub.New(8, nil), core.DefaultOptions(), nil, observers...)
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealthReportsCounts(t *testing.T) {
	reg := newRegistry(t)
	reg.Connect("a", "")
	reg.Connect("b", "")
	res, err := reg.CreateRoom("a", "chess", nil)
	require.NoError(t, err)
	require.NoError(t, reg.JoinRoom("b", res.RoomID))

	ts := httptest.NewServer(New(reg, Options{}, nil).Echo())
	defer ts.Close()

	var health healthResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.RoomCount)
	assert.Equal(t, 2, health.ClientCount)
	assert.Positive(t, health.Timestamp)
	assert.GreaterOrEqual(t, health.Uptime, 0.0)
}

func TestRoomsDirectory(t *testing.T) {
	reg := newRegistry(t)
	reg.Connect("a", "")
	_, err := reg.CreateRoom("a", "chess", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(New(reg, Options{}, nil).Echo())
	defer ts.Close()

	var list protocol.RoomList
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/rooms?category=chess", &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, 1, list.Rooms[0].CurrentCount)

	list = protocol.RoomList{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/rooms?category=go", &list))
	assert.NotNil(t, list.Rooms)
	assert.Empty(t, list.Rooms)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/rooms", nil))
}

func TestHistoryRoute(t *testing.T) {
	journal, err := store.Open(filepath.Join(t.TempDir(), "rooms.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	reg := newRegistry(t)
	reg.Connect("a", "")
	res, err := reg.CreateRoom("a", "chess", nil)
	require.NoError(t, err)
	require.NoError(t, journal.Record(context.Background(), core.RoomEvent{
		Kind: core.KindCreated, RoomID: res.RoomID, ClientID: "a", Category: "chess",
	}))

	ts := httptest.NewServer(New(reg, Options{Journal: journal}, nil).Echo())
	defer ts.Close()

	var history historyResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/rooms/history?limit=10", &history))
	require.Len(t, history.Events, 1)
	assert.Equal(t, core.KindCreated, history.Events[0].Kind)
	assert.Equal(t, res.RoomID, history.Events[0].RoomID)

	history = historyResponse{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/rooms/history?roomId=other", &history))
	assert.Empty(t, history.Events)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/rooms/history?limit=zero", nil))
}

func TestHistoryRouteAbsentWithoutJournal(t *testing.T) {
	ts := httptest.NewServer(New(newRegistry(t), Options{}, nil).Echo())
	defer ts.Close()

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/rooms/history", nil))
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New(nil, nil)
	reg := newRegistry(t, m)
	reg.Connect("a", "")
	_, err := reg.CreateRoom("a", "chess", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(New(reg, Options{Metrics: m.Handler()}, nil).Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `signaling_room_transitions_total{kind="created"} 1`)
}

func TestCORSHeader(t *testing.T) {
	ts := httptest.NewServer(New(newRegistry(t), Options{CORSOrigin: "https://game.example"}, nil).Echo())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://game.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://game.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
