package app

import (
	"encoding/json"
	"net/http"
	"time"

	"ticksync/internal/peer"
)

// Diagnostics is a point-in-time summary of the server published after
// every tick.
type Diagnostics struct {
	Status     string            `json:"status"`
	ServerTime int64             `json:"serverTime"`
	Tick       uint64            `json:"tick"`
	TickMillis int64             `json:"tickMillis"`
	Entities   int               `json:"entities"`
	Peers      []PeerDiagnostics `json:"peers"`
	Telemetry  map[string]uint64 `json:"telemetry,omitempty"`
}

// PeerDiagnostics describes one attached client.
type PeerDiagnostics struct {
	ID             uint32 `json:"id"`
	LastAcked      uint64 `json:"lastAcked"`
	EstimatedTick  uint64 `json:"estimatedTick"`
	PendingEvents  int    `json:"pendingEvents"`
	ViewedEntities int    `json:"viewedEntities"`
}

func (s *Server) snapshot() *Diagnostics {
	d := &Diagnostics{
		Status:     "ok",
		ServerTime: time.Now().UnixMilli(),
		Tick:       rawOf(s.host.CurrentTick()),
		TickMillis: s.cfg.Sync.TickDuration.Milliseconds(),
		Entities:   s.host.World().Len(),
		Peers:      make([]PeerDiagnostics, 0, len(s.host.Peers())),
		Telemetry:  s.counters.Snapshot(),
	}
	for _, id := range s.host.Peers() {
		r, ok := s.host.Remote(id)
		if !ok {
			continue
		}
		d.Peers = append(d.Peers, peerDiagnostics(id, r))
	}
	return d
}

func peerDiagnostics(id peer.ID, r *peer.RemoteClient) PeerDiagnostics {
	return PeerDiagnostics{
		ID:             uint32(id),
		LastAcked:      rawOf(r.LastAckedServerTick()),
		EstimatedTick:  rawOf(r.EstimatedClientTick()),
		PendingEvents:  r.Events().Len(),
		ViewedEntities: r.View().Len(),
	}
}

func (s *Server) serveDiagnostics(w http.ResponseWriter, _ *http.Request) {
	d := s.diagnostics.Load()
	if d == nil {
		d = &Diagnostics{Status: "starting", ServerTime: time.Now().UnixMilli()}
	}
	data, err := json.Marshal(d)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
