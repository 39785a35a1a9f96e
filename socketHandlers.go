package main

import (
	"log"
	"net/http"
	"time"

	"snore-detection/live"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
)

const alertsRoom = "alerts"

// windowPayload is the body of the windowResult and snoreAlert events.
type windowPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	Probability float64   `json:"probability"`
	IsSnoring   bool      `json:"isSnoring"`
	Threshold   float64   `json:"threshold"`
	RMS         float64   `json:"rms"`
	SNRDb       float64   `json:"snrDb"`
	NoAudio     bool      `json:"noAudio,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func newWindowPayload(r live.WindowReport) windowPayload {
	p := windowPayload{
		Timestamp:   r.Timestamp,
		Probability: r.Result.Probability,
		IsSnoring:   r.Result.IsSnoring,
		Threshold:   r.Result.Threshold,
		RMS:         r.Result.RMS,
		SNRDb:       r.Result.SNRDb,
		NoAudio:     r.NoAudio,
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	return p
}

// alertServer pushes every window to connected clients.
type alertServer struct {
	server *socketio.Server
}

func newAlertServer() *alertServer {
	allowOriginFunc := func(r *http.Request) bool {
		return true
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		socket.Join(alertsRoom)
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		return nil
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	return &alertServer{server: server}
}

func (a *alertServer) Report(r live.WindowReport) {
	payload := newWindowPayload(r)
	a.server.BroadcastToRoom("/", alertsRoom, "windowResult", payload)
	if payload.IsSnoring {
		a.server.BroadcastToRoom("/", alertsRoom, "snoreAlert", payload)
	}
}
