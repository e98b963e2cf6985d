package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/hub"
	"github.com/fyrsmithlabs/recalld/internal/identity"
	"github.com/fyrsmithlabs/recalld/internal/recognizer"
	"github.com/fyrsmithlabs/recalld/internal/services"
)

// dialWS connects a test client to the fixture's /ws endpoint.
func dialWS(t *testing.T, f *serverFixture) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(f.server.Echo())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Registration happens before the first read, so the session is
	// visible as soon as the dial returns.
	require.Eventually(t, func() bool { return f.hub.Count() == 1 },
		time.Second, 10*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readFrame(t *testing.T, conn *websocket.Conn) hub.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var frame struct {
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	return hub.Frame{Type: frame.Type, Event: frame.Event, Data: frame.Data}
}

func TestWS_PingPong(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	conn := dialWS(t, f)

	send(t, conn, map[string]string{"type": "ping"})
	frame := readFrame(t, conn)
	assert.Equal(t, hub.TypePong, frame.Type)
}

func TestWS_FaceDataKnownPerson(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{0.6, 0.8}}, services.Options{})

	created, err := f.people.Create(context.Background(), identity.PersonCreate{
		Name:     "Sarah Chen",
		Relation: "Daughter",
		Context:  "Visits on Sundays",
	})
	require.NoError(t, err)
	_, err = f.people.RegisterFace(context.Background(), created.ID, "aW1hZ2U=")
	require.NoError(t, err)

	conn := dialWS(t, f)
	send(t, conn, map[string]any{
		"type": "face_data",
		"data": map[string]any{
			"track_id":     "track-7",
			"image_base64": "aW1hZ2U=",
		},
	})

	frame := readFrame(t, conn)
	require.Equal(t, hub.TypeRecognitionResult, frame.Type)

	var result recognizer.Result
	require.NoError(t, json.Unmarshal(frame.Data.(json.RawMessage), &result))
	assert.Equal(t, "track-7", result.TrackID)
	assert.True(t, result.IsKnown)
	require.NotNil(t, result.Person)
	assert.Equal(t, created.ID, result.Person.ID)
	assert.Equal(t, []string{"Sarah Chen", "Daughter", "Visits on Sundays"}, result.DisplayLines)
}

func TestWS_FaceDataUnknownPerson(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{1, 0}}, services.Options{})
	conn := dialWS(t, f)

	send(t, conn, map[string]any{
		"type": "face_data",
		"data": map[string]any{
			"track_id":     "track-1",
			"image_base64": "aW1hZ2U=",
		},
	})

	frame := readFrame(t, conn)
	require.Equal(t, hub.TypeRecognitionResult, frame.Type)

	var result recognizer.Result
	require.NoError(t, json.Unmarshal(frame.Data.(json.RawMessage), &result))
	assert.False(t, result.IsKnown)
	assert.Nil(t, result.Person)
	assert.Equal(t, []string{"New Person", "Not yet recognized", ""}, result.DisplayLines)
}

func TestWS_EmptyFaceDataIsSilentlyDropped(t *testing.T) {
	f := newFixture(t, &stubProvider{embedding: []float32{1, 0}}, services.Options{})
	conn := dialWS(t, f)

	// An empty image yields no reply at all; the follow-up ping proves the
	// session survived and ordering held.
	send(t, conn, map[string]any{
		"type": "face_data",
		"data": map[string]any{"track_id": "track-1", "image_base64": ""},
	})
	send(t, conn, map[string]string{"type": "ping"})

	frame := readFrame(t, conn)
	assert.Equal(t, hub.TypePong, frame.Type)
}

func TestWS_MalformedJSONIsDropped(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, conn, map[string]string{"type": "ping"})

	frame := readFrame(t, conn)
	assert.Equal(t, hub.TypePong, frame.Type)
}

func TestWS_UnknownTypeIsIgnored(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	conn := dialWS(t, f)

	send(t, conn, map[string]string{"type": "telemetry"})
	send(t, conn, map[string]string{"type": "ping"})

	frame := readFrame(t, conn)
	assert.Equal(t, hub.TypePong, frame.Type)
}

func TestWS_DisconnectUnregisters(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	conn := dialWS(t, f)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return f.hub.Count() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestWS_BroadcastReachesSession(t *testing.T) {
	f := newFixture(t, &stubProvider{}, services.Options{})
	conn := dialWS(t, f)

	// A create over HTTP fans out to the live session.
	_, err := f.people.Create(context.Background(), identity.PersonCreate{Name: "Sarah"})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, hub.TypeSyncUpdate, frame.Type)
	assert.Equal(t, identity.EventPersonCreated, frame.Event)
}
