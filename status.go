package scgid

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// WorkerStatus describes one pooled worker for the status surface.
type WorkerStatus struct {
	Pid    int           `json:"pid"`
	State  string        `json:"state"`
	Age    time.Duration `json:"age"`
	Idle   time.Duration `json:"idle"`
	Served int64         `json:"served"`
}

// StatusSnapshot is a point-in-time view of the core, suitable for
// JSON rendering.
type StatusSnapshot struct {
	ListenAddr   string         `json:"listen_addr"`
	MinProcesses int            `json:"min_processes"`
	MaxProcesses int            `json:"max_processes"`
	QueueDepth   int            `json:"queue_depth"`
	QueueLen     int            `json:"queue_len"`
	Conns        int            `json:"conns"`
	Workers      []WorkerStatus `json:"workers"`
	Stats        StatsSnapshot  `json:"stats"`
}

// Workers returns a status listing of the pool, sorted by pid.
func (p *Pool) Workers() []WorkerStatus {
	now := time.Now()
	p.mu.Lock()
	ws := make([]WorkerStatus, 0, len(p.workers))
	for w := range p.workers {
		st := WorkerStatus{
			Pid:    w.pid,
			State:  w.State().String(),
			Age:    now.Sub(w.started),
			Served: w.served,
		}
		if w.State() == WorkerIdle {
			st.Idle = now.Sub(w.lastActivity)
		}
		ws = append(ws, st)
	}
	p.mu.Unlock()
	sort.Slice(ws, func(i, j int) bool { return ws[i].Pid < ws[j].Pid })
	return ws
}

// Status returns a point-in-time view of the server.
func (srv *Server) Status() StatusSnapshot {
	return StatusSnapshot{
		ListenAddr:   srv.Config.ListenAddr,
		MinProcesses: srv.Config.MinProcesses,
		MaxProcesses: srv.Config.MaxProcesses,
		QueueDepth:   srv.adm.Depth(),
		QueueLen:     srv.adm.Len(),
		Conns:        srv.ActiveConns(),
		Workers:      srv.pool.Workers(),
		Stats:        srv.Stats.Snapshot(),
	}
}

// StatusHandler returns an http.Handler rendering the status snapshot
// as JSON, for use on an admin endpoint.
func (srv *Server) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(srv.Status())
	})
}
