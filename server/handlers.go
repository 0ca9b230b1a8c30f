package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/veritas-care/evv/aggregator"
	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/engine"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/syncer"
	"github.com/veritas-care/evv/vmur"
)

const maxBodyBytes = 4 << 20

// decode reads and validates a JSON request body.
func (svr *Server) decode(r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return evverrors.New(evverrors.KindInputValidation, "malformed request body: %v", err)
	}
	if err := svr.validate.Struct(into); err != nil {
		return evverrors.Wrap(evverrors.KindInputValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

func (svr *Server) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

// clockInRequest wraps the engine input so the wire shape stays stable if the
// engine grows fields.
type clockInRequest struct {
	TenantID    string `json:"tenantId" validate:"required"`
	VisitID     string `json:"visitId" validate:"required"`
	ClientID    string `json:"clientId" validate:"required"`
	CaregiverID string `json:"caregiverId" validate:"required"`
	BranchID    string `json:"branchId"`

	ServiceTypeCode string             `json:"serviceTypeCode" validate:"required"`
	ServiceAddress  evv.ServiceAddress `json:"serviceAddress"`
	StateCode       string             `json:"stateCode" validate:"required,len=2"`
	StateData       map[string]string  `json:"stateData"`

	Verification evv.Verification `json:"verification"`
}

func (svr *Server) handleClockIn(w http.ResponseWriter, r *http.Request) error {
	var req clockInRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	rec, err := svr.engine.ClockIn(r.Context(), engine.ClockEventInput{
		TenantID:        req.TenantID,
		VisitID:         req.VisitID,
		ClientID:        req.ClientID,
		CaregiverID:     req.CaregiverID,
		BranchID:        req.BranchID,
		ServiceTypeCode: req.ServiceTypeCode,
		ServiceAddress:  req.ServiceAddress,
		StateCode:       req.StateCode,
		StateData:       req.StateData,
		Verification:    req.Verification,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, rec)
}

type clockOutRequest struct {
	Verification         evv.Verification `json:"verification"`
	CaregiverAttestation *evv.Attestation `json:"caregiverAttestation"`
	ClientAttestation    *evv.Attestation `json:"clientAttestation"`
}

func (svr *Server) handleClockOut(w http.ResponseWriter, r *http.Request) error {
	var req clockOutRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	rec, err := svr.engine.ClockOut(r.Context(), mux.Vars(r)["record_id"], engine.ClockOutInput{
		Verification:         req.Verification,
		CaregiverAttestation: req.CaregiverAttestation,
		ClientAttestation:    req.ClientAttestation,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

type pauseRequest struct {
	Reason string `json:"reason" validate:"required"`
	Unpaid bool   `json:"unpaid"`
}

func (svr *Server) handlePause(w http.ResponseWriter, r *http.Request) error {
	var req pauseRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	rec, err := svr.engine.Pause(r.Context(), mux.Vars(r)["record_id"], req.Reason, req.Unpaid)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

func (svr *Server) handleResume(w http.ResponseWriter, r *http.Request) error {
	rec, err := svr.engine.Resume(r.Context(), mux.Vars(r)["record_id"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

type checkInRequest struct {
	Verification evv.Verification `json:"verification"`
}

func (svr *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) error {
	var req checkInRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	rec, err := svr.engine.CheckIn(r.Context(), mux.Vars(r)["record_id"], req.Verification)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

func (svr *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) error {
	rec, err := svr.store.GetRecord(r.Context(), mux.Vars(r)["record_id"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

func (svr *Server) handleGetVisitRecord(w http.ResponseWriter, r *http.Request) error {
	rec, err := svr.store.GetRecordByVisit(r.Context(), mux.Vars(r)["visit_id"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

func (svr *Server) handleSubmit(w http.ResponseWriter, r *http.Request) error {
	res, err := svr.dispatcher.Submit(r.Context(), mux.Vars(r)["record_id"])
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, res)
}

type acknowledgeRequest struct {
	Outcome        string `json:"outcome" validate:"required,oneof=Approved Rejected Disputed"`
	ConfirmationID string `json:"confirmationId"`
	Message        string `json:"message"`
}

// handleAcknowledge ingests the aggregator's asynchronous verdict callback
// for an already submitted record.
func (svr *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) error {
	var req acknowledgeRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	if err := svr.dispatcher.Acknowledge(r.Context(), mux.Vars(r)["record_id"],
		aggregator.AckOutcome(req.Outcome), req.ConfirmationID, req.Message); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (svr *Server) handleVMURCreate(w http.ResponseWriter, r *http.Request) error {
	var req vmur.CreateInput
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	created, err := svr.workflow.Create(r.Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, created)
}

type vmurDecisionRequest struct {
	By     string `json:"by" validate:"required"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (svr *Server) handleVMURApprove(w http.ResponseWriter, r *http.Request) error {
	var req vmurDecisionRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	updated, err := svr.workflow.Approve(r.Context(), mux.Vars(r)["vmur_id"], req.By, req.Notes)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, updated)
}

func (svr *Server) handleVMURDeny(w http.ResponseWriter, r *http.Request) error {
	var req vmurDecisionRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	updated, err := svr.workflow.Deny(r.Context(), mux.Vars(r)["vmur_id"], req.By, req.Reason)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, updated)
}

func (svr *Server) handleReviewTasks(w http.ResponseWriter, r *http.Request) error {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		return evverrors.New(evverrors.KindInputValidation, "tenant_id query parameter required")
	}
	tasks, err := svr.store.ListReviewTasks(r.Context(), tenantID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, tasks)
}

type syncPushRequest struct {
	UserID   string          `json:"userId" validate:"required"`
	DeviceID string          `json:"deviceId" validate:"required"`
	BatchID  string          `json:"batchId"`
	Changes  []syncer.Change `json:"changes" validate:"required,dive"`
}

func (svr *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) error {
	var req syncPushRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	res, err := svr.syncer.Push(r.Context(), req.UserID, req.DeviceID, req.BatchID, req.Changes)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

func (svr *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) error {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return evverrors.New(evverrors.KindInputValidation, "user_id query parameter required")
	}
	var since time.Time
	if raw := r.URL.Query().Get("last_pulled_at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return evverrors.New(evverrors.KindInputValidation,
				"last_pulled_at must be RFC 3339: %v", err)
		}
		since = parsed
	}
	res, err := svr.syncer.Pull(r.Context(), userID, since)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

type heartbeatRequest struct {
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required"`
}

func (svr *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) error {
	var req heartbeatRequest
	if err := svr.decode(r, &req); err != nil {
		return err
	}
	if err := svr.syncer.Heartbeat(r.Context(), req.TenantID, req.UserID, req.DeviceID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
