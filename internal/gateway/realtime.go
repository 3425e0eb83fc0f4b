package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	json "github.com/goccy/go-json"
)

// realtimeMessage is the fixed wire shape of §4.6's /realtime protocol:
// every message, client- or server-originated, is a JSON object with a
// "type" field and a free-form payload.
type realtimeMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	msgSessionUpdate       = "transcription_session.update"
	msgSessionCreate       = "transcription_session.create"
	msgBufferAppend        = "input_audio_buffer.append"
	msgBufferCommit        = "input_audio_buffer.commit"
	msgBufferClear         = "input_audio_buffer.clear"
	msgSpeechStarted       = "input_audio_buffer.speech_started"
	msgSpeechStopped       = "input_audio_buffer.speech_stopped"
	msgBufferCommitted     = "input_audio_buffer.committed"
	msgBufferCleared       = "input_audio_buffer.cleared"
	msgTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	msgError               = "error"
)

var realtimeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AudioSession is the external audio-capture/transcription collaborator
// (§1: out of scope for this component) that the gateway's WebSocket
// handler forwards frames to and receives transcription events from. The
// gateway only implements the wire protocol; it owns no buffering logic.
type AudioSession interface {
	// HandleClientMessage processes one inbound client message (session
	// update/create, buffer append/commit/clear) and returns zero or more
	// server-originated messages to send back, in order.
	HandleClientMessage(msgType string, payload []byte) ([]realtimeMessage, error)
	Close()
}

// AudioSessionFactory constructs a fresh AudioSession per WebSocket
// connection, scoped to the requested intent (spec's `?intent=transcription`
// query parameter).
type AudioSessionFactory func(intent string, sessionID string) AudioSession

// handleRealtime implements WS /realtime?intent=transcription.
func (g *Gateway) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if g.log != nil {
			g.log.WithError(err).Warn("realtime websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	intent := r.URL.Query().Get("intent")

	var session AudioSession
	if g.audioSessions != nil {
		session = g.audioSessions(intent, sessionID)
		defer session.Close()
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg realtimeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgSessionUpdate, msgSessionCreate, msgBufferAppend, msgBufferCommit, msgBufferClear:
			if session == nil {
				writeRealtimeError(conn, "no audio session configured for this server")
				continue
			}
			replies, err := session.HandleClientMessage(msg.Type, msg.Payload)
			if err != nil {
				writeRealtimeError(conn, err.Error())
				continue
			}
			for _, reply := range replies {
				if err := conn.WriteJSON(reply); err != nil {
					return
				}
			}
		default:
			writeRealtimeError(conn, "unknown message type: "+msg.Type)
		}
	}
}

func writeRealtimeError(conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: message})
	_ = conn.WriteJSON(realtimeMessage{Type: msgError, Payload: payload})
}
