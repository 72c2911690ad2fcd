package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBatchPostsToRoom(t *testing.T) {
	var received canvas.BatchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rooms/room-1/shapes/batch", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(canvas.BatchResponse{
			Applied:  []canvas.AppliedOperation{{ShapeID: "shape-1", CommitVersion: 2}},
			Rejected: []canvas.RejectedOperation{{ShapeID: "shape-2", CommitVersion: 1, Reason: "shape_missing"}},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(Config{BaseURL: server.URL + "/", Token: "token-1"})
	response, err := transport.ApplyBatch(context.Background(), canvas.BatchRequest{
		RoomID:       "room-1",
		ClientID:     "client-a",
		ConnectionID: "conn-1",
		Operations:   []canvas.Operation{{Op: canvas.OperationDelete, ShapeID: "shape-1", CommitVersion: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, "client-a", received.ClientID)
	assert.Equal(t, "conn-1", received.ConnectionID)
	require.Len(t, received.Operations, 1)
	assert.Nil(t, received.Operations[0].Payload)
	assert.Equal(t, []canvas.AppliedOperation{{ShapeID: "shape-1", CommitVersion: 2}}, response.Applied)
	require.Len(t, response.Rejected, 1)
	assert.Equal(t, "shape_missing", response.Rejected[0].Reason)
}

func TestFetchSnapshotAndViews(t *testing.T) {
	var savedView canvas.View
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/room-1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(canvas.Snapshot{RoomID: "room-1", Shapes: map[string]canvas.Shape{
			"shape-1": {ID: "shape-1", Type: canvas.ShapeEllipse, Width: 10, Height: 10, Opacity: 1, Version: 4},
		}})
	})
	mux.HandleFunc("/rooms/room-1/view", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&savedView))
		}
		_ = json.NewEncoder(w).Encode(canvas.View{Scale: 1.5, OffsetX: 3, OffsetY: 4})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := NewHTTPTransport(Config{BaseURL: server.URL, Token: "token-1"})
	ctx := context.Background()

	snapshot, err := transport.FetchSnapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), snapshot.Shapes["shape-1"].Version)

	view, err := transport.GetView(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, canvas.View{Scale: 1.5, OffsetX: 3, OffsetY: 4}, view)

	require.NoError(t, transport.SaveView(ctx, "room-1", canvas.View{Scale: 2, OffsetX: -1, OffsetY: 0}))
	assert.Equal(t, 2.0, savedView.Scale)
}

func TestErrorsAreMapped(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusUnauthorized)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(Config{BaseURL: server.URL})
	_, err := transport.FetchSnapshot(context.Background(), "room-1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	status.Store(http.StatusForbidden)
	_, err = transport.GetView(context.Background(), "room-1")
	assert.ErrorIs(t, err, ErrForbidden)

	status.Store(http.StatusInternalServerError)
	_, err = transport.ApplyBatch(context.Background(), canvas.BatchRequest{RoomID: "room-1", ClientID: "client-a"})
	assert.ErrorIs(t, err, ErrServer)
}

func TestRealtimeURL(t *testing.T) {
	transport := NewHTTPTransport(Config{BaseURL: "https://boards.example.com/api", Token: "abc"})
	address, err := transport.RealtimeURL("room 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://boards.example.com/api/rooms/room%201/ws?access_token=abc", address)
}
