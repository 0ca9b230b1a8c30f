package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/veritas-care/evv/common/evverrors"
)

const evidencePresignTTL = 15 * time.Minute

type evidencePutResponse struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

func (svr *Server) handleEvidencePut(w http.ResponseWriter, r *http.Request) error {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		return evverrors.New(evverrors.KindInputValidation, "tenant_id query parameter required")
	}

	photo, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return evverrors.New(evverrors.KindInputValidation, "reading photo body: %v", err)
	}

	hash, url, err := svr.evidence.Put(r.Context(), tenantID, photo, r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, evidencePutResponse{Hash: hash, URL: url})
}

// handleEvidenceGet redirects to a presigned download URL so photo bytes never
// stream through the API server.
func (svr *Server) handleEvidenceGet(w http.ResponseWriter, r *http.Request) error {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		return evverrors.New(evverrors.KindInputValidation, "tenant_id query parameter required")
	}

	url, err := svr.evidence.PresignGet(r.Context(), tenantID, mux.Vars(r)["hash"], evidencePresignTTL)
	if err != nil {
		return err
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	return nil
}
