package main

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/linkdata/scgid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// startAdmin serves the status snapshot and the live pool event
// stream on a separate HTTP listener.
func startAdmin(addr string, srv *scgid.Server, logger *slog.Logger) (*http.Server, error) {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/status", srv.StatusHandler())
	router.GET("/events", eventsHandler(srv.Events(), logger))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	admin := &http.Server{Addr: ln.Addr().String(), Handler: router}
	go func() {
		if err := admin.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", "error", err)
		}
	}()
	return admin, nil
}

// eventsHandler upgrades to a websocket and streams pool lifecycle
// events as JSON until the client goes away.
func eventsHandler(evs *scgid.Events, logger *slog.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ch, cancel := evs.Subscribe()
		defer cancel()
		// drain control frames so pings and close are processed
		go func() {
			for {
				if _, _, err := ws.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()
		for ev := range ch {
			if err := ws.WriteJSON(ev); err != nil {
				logger.Debug("event subscriber dropped", "error", err)
				return
			}
		}
	}
}
