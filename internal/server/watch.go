package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yashugupta786/sp/internal/service"
)

const watchWriteWait = 10 * time.Second

// watchPongWait is how long a watcher may stay silent. Pings go out twice
// per period, so a client that answers them stays connected however long the
// job takes.
var watchPongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API carries no cookies, so cross-origin watchers are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatch streams the status of a job over a websocket. A frame is sent
// whenever the status body changes; the stream closes after a terminal frame.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// Unknown jobs get a plain 404 before upgrading.
	res, err := s.poller.Poll(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not read job status")
		return
	}
	if res.Kind == service.StatusNotFound {
		writeError(w, http.StatusNotFound, "not_found", "no ingestion job with that id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()
	log := s.logger.With("job_id", jobID)
	log.Debug("watch started")

	// Reader drains control frames and notices when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(watchPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()
	ping := time.NewTicker(watchPongWait / 2)
	defer ping.Stop()

	var last []byte
	for {
		frame, err := json.Marshal(statusResponse(res))
		if err != nil {
			log.Error("encode status frame", "error", err)
			return
		}
		if !bytes.Equal(frame, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("watch client write failed", "error", err)
				return
			}
			last = frame
		}
		if res.Kind != service.StatusPending {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
				time.Now().Add(watchWriteWait))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-gone:
			log.Debug("watch client disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				log.Debug("watch ping failed", "error", err)
				return
			}
			continue
		case <-ticker.C:
		}

		res, err = s.poller.Poll(r.Context(), jobID)
		if err != nil {
			log.Warn("watch poll failed", "error", err)
			return
		}
	}
}
