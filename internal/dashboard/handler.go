package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/mirrorboard/ticketmirror/internal/progress"
	"github.com/mirrorboard/ticketmirror/internal/store"
)

// Handler bridges sync progress events onto the WebSocket server. It
// implements progress.Reporter, so it plugs straight into the
// orchestrator's reporter slot (usually inside a progress.Multi next to
// the log reporter).
type Handler struct {
	server *Server
	db     *store.DB
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
// db may be nil; then stats refreshes are skipped.
func NewHandler(server *Server, db *store.DB, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		db:     db,
		logger: logger,
	}
}

// Publish implements progress.Reporter.
func (h *Handler) Publish(ev progress.Event) {
	switch ev.Type {
	case progress.EventSyncStarted:
		h.broadcastSession(MessageTypeSyncStarted, SessionData{
			SessionID: ev.SessionID,
			Kind:      string(ev.Kind),
			Projects:  ev.EntityCount,
		})

	case progress.EventEntityProgress:
		h.broadcastProgress(ProgressData{
			SessionID: ev.SessionID,
			Project:   ev.Entity,
			Fetched:   ev.Fetched,
			Total:     ev.Total,
		})

	case progress.EventSyncCompleted:
		data := SessionData{
			SessionID: ev.SessionID,
			Duration:  ev.Duration.Round(time.Millisecond).String(),
		}
		if ev.Progress != nil {
			data.Projects = ev.Progress.ProcessedEntities
			data.Items = ev.Progress.ProcessedItems
			data.Errors = len(ev.Progress.Errors)
		}
		h.broadcastSession(MessageTypeSyncComplete, data)
		h.RefreshStats(context.Background())

	case progress.EventSyncFailed:
		h.broadcastSession(MessageTypeSyncFailed, SessionData{
			SessionID: ev.SessionID,
			Error:     ev.Error,
		})

	case progress.EventSyncCancelled:
		h.broadcastSession(MessageTypeSyncCancelled, SessionData{
			SessionID: ev.SessionID,
		})
	}
}

// RefreshStats queries the store and broadcasts a stats snapshot.
func (h *Handler) RefreshStats(ctx context.Context) {
	if h.db == nil {
		return
	}

	count, err := h.db.TicketCount(ctx)
	if err != nil {
		h.logger.Printf("Failed to count tickets for stats: %v", err)
		return
	}

	stats := StatsData{Tickets: count}
	if sessions, err := h.db.ListSessions(ctx, 1); err == nil && len(sessions) > 0 {
		if sessions[0].EndedAt != nil {
			stats.LastSync = sessions[0].EndedAt
		}
	}

	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func (h *Handler) broadcastSession(typ MessageType, data SessionData) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal session data: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func (h *Handler) broadcastProgress(data ProgressData) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal progress data: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeProgress,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
