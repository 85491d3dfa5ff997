// Package serve exposes the admin HTTP API: queue status, backpressure
// settings, and drop request management.
package serve

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/config"
	"github.com/gftdcojp/flowfile-queue/internal/queue"
	"go.uber.org/zap"
)

type handler struct {
	queues map[string]*queue.Queue
	logger *zap.Logger
}

// QueueStatus is the wire form of one queue's state.
type QueueStatus struct {
	Identifier        string `json:"identifier"`
	ObjectCount       int    `json:"object_count"`
	ByteCount         int64  `json:"byte_count"`
	ActiveCount       int    `json:"active_count"`
	ActiveBytes       int64  `json:"active_bytes"`
	UnackedCount      int    `json:"unacknowledged_count"`
	UnackedBytes      int64  `json:"unacknowledged_bytes"`
	Full              bool   `json:"full"`
	Expiration        string `json:"expiration"`
	DataSizeThreshold string `json:"data_size_threshold"`
	ObjectThreshold   int64  `json:"object_threshold"`
}

// DropRequestStatus is the wire form of a drop request.
type DropRequestStatus struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason,omitempty"`
	OriginalCount int    `json:"original_count"`
	OriginalBytes int64  `json:"original_bytes"`
	CurrentCount  int    `json:"current_count"`
	CurrentBytes  int64  `json:"current_bytes"`
	DroppedCount  int    `json:"dropped_count"`
	DroppedBytes  int64  `json:"dropped_bytes"`
	LastUpdated   string `json:"last_updated"`
}

// RunHTTP starts the admin API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, queues []*queue.Queue, logger *zap.Logger) error {
	queueMap := make(map[string]*queue.Queue, len(queues))
	for _, q := range queues {
		queueMap[q.Identifier()] = q
	}

	h := &handler{queues: queueMap, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/queues", h.handleQueues)
	mux.HandleFunc("GET /v1/queues/{id}", h.handleQueue)
	mux.HandleFunc("POST /v1/queues/{id}/drop-requests", h.handleCreateDropRequest)
	mux.HandleFunc("GET /v1/queues/{id}/drop-requests/{requestID}", h.handleDropRequestStatus)
	mux.HandleFunc("DELETE /v1/queues/{id}/drop-requests/{requestID}", h.handleCancelDropRequest)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("admin API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queues": len(h.queues),
	})
}

func (h *handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	statuses := make([]QueueStatus, 0, len(h.queues))
	for _, q := range h.queues {
		statuses = append(statuses, queueStatus(q))
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queues[r.PathValue("id")]
	if !ok {
		http.Error(w, "queue not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, queueStatus(q))
}

func (h *handler) handleCreateDropRequest(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queues[r.PathValue("id")]
	if !ok {
		http.Error(w, "queue not found", http.StatusNotFound)
		return
	}

	var body struct {
		Requestor string `json:"requestor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Requestor == "" {
		body.Requestor = "admin-api"
	}

	requestID := newRequestID()
	request := q.DropFlowFiles(requestID, body.Requestor)
	writeJSON(w, http.StatusAccepted, dropStatus(request))
}

func (h *handler) handleDropRequestStatus(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queues[r.PathValue("id")]
	if !ok {
		http.Error(w, "queue not found", http.StatusNotFound)
		return
	}
	request := q.DropRequestStatus(r.PathValue("requestID"))
	if request == nil {
		http.Error(w, "drop request not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dropStatus(request))
}

func (h *handler) handleCancelDropRequest(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queues[r.PathValue("id")]
	if !ok {
		http.Error(w, "queue not found", http.StatusNotFound)
		return
	}
	request := q.CancelDropRequest(r.PathValue("requestID"))
	if request == nil {
		http.Error(w, "drop request not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dropStatus(request))
}

func queueStatus(q *queue.Queue) QueueStatus {
	size := q.Size()
	active := q.ActiveQueueSize()
	unacked := q.UnacknowledgedQueueSize()
	return QueueStatus{
		Identifier:        q.Identifier(),
		ObjectCount:       size.ObjectCount,
		ByteCount:         size.ByteCount,
		ActiveCount:       active.ObjectCount,
		ActiveBytes:       active.ByteCount,
		UnackedCount:      unacked.ObjectCount,
		UnackedBytes:      unacked.ByteCount,
		Full:              q.IsFull(),
		Expiration:        q.FlowFileExpiration(),
		DataSizeThreshold: q.BackPressureDataSizeThreshold(),
		ObjectThreshold:   q.BackPressureObjectThreshold(),
	}
}

func dropStatus(request *queue.DropRequest) DropRequestStatus {
	state, reason := request.State()
	original := request.OriginalSize()
	current := request.CurrentSize()
	dropped := request.DroppedSize()
	return DropRequestStatus{
		ID:            request.ID(),
		State:         string(state),
		FailureReason: reason,
		OriginalCount: original.ObjectCount,
		OriginalBytes: original.ByteCount,
		CurrentCount:  current.ObjectCount,
		CurrentBytes:  current.ByteCount,
		DroppedCount:  dropped.ObjectCount,
		DroppedBytes:  dropped.ByteCount,
		LastUpdated:   request.LastUpdated().Format(time.RFC3339Nano),
	}
}

func newRequestID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
