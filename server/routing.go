package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veritas-care/evv/server/middleware"
)

func (svr *Server) registerRoutes(r *mux.Router) {
	chain := func(route string, h middleware.HandlerFn) http.HandlerFunc {
		return middleware.Chain(h, svr.log, svr.m, route)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// clock event lifecycle
	api.HandleFunc("/visits/clock-in", chain("clock_in", svr.handleClockIn)).Methods("POST")
	api.HandleFunc("/records/{record_id}/clock-out", chain("clock_out", svr.handleClockOut)).Methods("POST")
	api.HandleFunc("/records/{record_id}/pause", chain("pause", svr.handlePause)).Methods("POST")
	api.HandleFunc("/records/{record_id}/resume", chain("resume", svr.handleResume)).Methods("POST")
	api.HandleFunc("/records/{record_id}/check-in", chain("check_in", svr.handleCheckIn)).Methods("POST")

	// retrieval
	api.HandleFunc("/records/{record_id}", chain("get_record", svr.handleGetRecord)).Methods("GET")
	api.HandleFunc("/visits/{visit_id}/record", chain("get_visit_record", svr.handleGetVisitRecord)).Methods("GET")

	// aggregator submission
	api.HandleFunc("/records/{record_id}/submit", chain("submit", svr.handleSubmit)).Methods("POST")
	api.HandleFunc("/records/{record_id}/acknowledge", chain("acknowledge", svr.handleAcknowledge)).Methods("POST")

	// unlock requests
	api.HandleFunc("/unlock-requests", chain("vmur_create", svr.handleVMURCreate)).Methods("POST")
	api.HandleFunc("/unlock-requests/{vmur_id}/approve", chain("vmur_approve", svr.handleVMURApprove)).Methods("POST")
	api.HandleFunc("/unlock-requests/{vmur_id}/deny", chain("vmur_deny", svr.handleVMURDeny)).Methods("POST")

	// reviewer queue
	api.HandleFunc("/review-tasks", chain("review_tasks", svr.handleReviewTasks)).Methods("GET")

	// photo evidence, registered only when an object store is configured
	if svr.evidence != nil {
		api.HandleFunc("/evidence", chain("evidence_put", svr.handleEvidencePut)).Methods("POST")
		api.HandleFunc("/evidence/{hash}", chain("evidence_get", svr.handleEvidenceGet)).Methods("GET")
	}

	// offline sync
	sync := r.PathPrefix("/sync").Subrouter()
	sync.HandleFunc("/push", chain("sync_push", svr.handleSyncPush)).Methods("POST")
	sync.HandleFunc("/changes", chain("sync_pull", svr.handleSyncPull)).Methods("GET")
	sync.HandleFunc("/heartbeat", chain("sync_heartbeat", svr.handleHeartbeat)).Methods("POST")

	r.HandleFunc("/health", chain("health", svr.handleHealth)).Methods("GET")
}
