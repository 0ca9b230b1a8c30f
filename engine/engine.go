package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/policy"
	"github.com/veritas-care/evv/store"
)

// Engine owns the EVV record lifecycle. Every transition goes through the
// store's per-record row lock, so concurrent events on one record are totally
// ordered; events on different records never contend.
type Engine struct {
	log      *zap.SugaredLogger
	m        metrics.Metricer
	store    store.Store
	policies *policy.Table

	// HighTrustServices marks service type codes where a rooted device alone
	// raises a fraud signal.
	HighTrustServices map[string]bool

	now func() time.Time
}

func New(log *zap.SugaredLogger, m metrics.Metricer, st store.Store, policies *policy.Table) *Engine {
	return &Engine{
		log:      log,
		m:        m,
		store:    st,
		policies: policies,
		now:      time.Now,
	}
}

// ClockEventInput carries everything a mobile clock event reports. ClockIn
// additionally needs the visit identity fields; the later events only need the
// record id and the verification payload.
type ClockEventInput struct {
	TenantID    string
	VisitID     string
	ClientID    string
	CaregiverID string
	BranchID    string

	ServiceTypeCode string
	ServiceAddress  evv.ServiceAddress
	StateCode       string
	StateData       map[string]string

	Verification   evv.Verification
	OfflineCapture bool
}

func (in *ClockEventInput) validate() error {
	var missing []string
	if in.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if in.VisitID == "" {
		missing = append(missing, "visitId")
	}
	if in.CaregiverID == "" {
		missing = append(missing, "caregiverId")
	}
	if in.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if in.Verification.Device.DeviceID == "" {
		missing = append(missing, "verification.device.deviceId")
	}
	if in.Verification.DeviceTimestamp.IsZero() {
		missing = append(missing, "verification.deviceTimestamp")
	}
	if len(missing) > 0 {
		return evverrors.WithFields(evverrors.KindInputValidation,
			errors.New("missing required fields"), missing...)
	}
	return nil
}
