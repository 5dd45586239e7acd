package rmm

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	DefaultDedupeWindow       = 15 * time.Minute
	DefaultMaintenanceMinutes = 60
)

type ActionType string

const (
	ActionReboot            ActionType = "reboot"
	ActionMaintenanceStart  ActionType = "maintenance_start"
	ActionMaintenanceCancel ActionType = "maintenance_cancel"
	ActionPatchScan         ActionType = "patch_scan"
	ActionPatchApply        ActionType = "patch_apply"
	ActionRunScript         ActionType = "run_script"
	ActionServiceControl    ActionType = "service_control"
)

// ActionRequest is one user-initiated device command. RequestID identifies
// the click that produced it; resubmitting the same id is rejected.
type ActionRequest struct {
	RequestID           string        `json:"request_id"`
	DeviceID            string        `json:"device_id"`
	Action              ActionType    `json:"action"`
	RebootMode          RebootMode    `json:"reboot_mode,omitempty"`
	Reason              string        `json:"reason,omitempty"`
	MaintenanceFeatures []string      `json:"maintenance_features,omitempty"`
	MaintenanceMinutes  int           `json:"maintenance_minutes,omitempty"`
	Script              *Script       `json:"script,omitempty"`
	ServiceID           string        `json:"service_id,omitempty"`
	ServiceAction       ServiceAction `json:"service_action,omitempty"`
}

// NewActionRequest returns a request with a fresh RequestID.
func NewActionRequest(deviceID string, action ActionType) ActionRequest {
	return ActionRequest{RequestID: uuid.New().String(), DeviceID: deviceID, Action: action}
}

func (r ActionRequest) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.ErrMissingDeviceID
	}
	switch r.Action {
	case ActionReboot:
		if r.RebootMode != "" && r.RebootMode != RebootNormal && r.RebootMode != RebootForced {
			return errors.Wrapf(errors.ErrUnknownAction, "reboot mode %q", r.RebootMode)
		}
	case ActionMaintenanceStart, ActionMaintenanceCancel, ActionPatchScan, ActionPatchApply:
	case ActionRunScript:
		if r.Script == nil || r.Script.ID == "" {
			return errors.Wrapf(errors.ErrUnknownAction, "run_script needs a script id")
		}
	case ActionServiceControl:
		if r.ServiceID == "" {
			return errors.Wrapf(errors.ErrUnknownAction, "service_control needs a service id")
		}
		switch r.ServiceAction {
		case ServiceStart, ServiceStop, ServiceRestart:
		default:
			return errors.Wrapf(errors.ErrUnknownAction, "service action %q", r.ServiceAction)
		}
	default:
		return errors.Wrapf(errors.ErrUnknownAction, "%q", r.Action)
	}
	return nil
}

type ActionResult struct {
	RequestID    string     `json:"request_id"`
	DeviceID     string     `json:"device_id"`
	Action       ActionType `json:"action"`
	DispatchedAt time.Time  `json:"dispatched_at"`
}

// Dispatcher sends action requests at most once per RequestID within the
// dedupe window. Failed dispatches are not retried and keep their id reserved.
type Dispatcher struct {
	actions Actions
	seen    *gocache.Cache
	window  time.Duration
	nowFunc func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithDedupeWindow(window time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.window = window
	}
}

func WithDispatcherNowFunc(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.nowFunc = now
	}
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func NewDispatcher(actions Actions, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		actions: actions,
		window:  DefaultDedupeWindow,
		nowFunc: time.Now,
		logger:  logging.Component("dispatcher"),
	}
	for _, opt := range options {
		opt(d)
	}
	d.seen = gocache.New(d.window, time.Minute)
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if err := req.Validate(); err != nil {
		d.metrics.DeviceAction(string(req.Action), "invalid")
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	// Add fails when the id is already reserved, which makes the check-and-set atomic.
	if err := d.seen.Add(req.RequestID, struct{}{}, d.window); err != nil {
		d.metrics.DeviceAction(string(req.Action), "duplicate")
		return nil, errors.Wrapf(errors.ErrDuplicateAction, "request %s", req.RequestID)
	}

	logger := d.logger.With().
		Str("request_id", req.RequestID).
		Str("device_id", req.DeviceID).
		Str("action", string(req.Action)).
		Logger()

	now := d.nowFunc()
	if err := d.send(ctx, req, now); err != nil {
		d.metrics.DeviceAction(string(req.Action), "failed")
		logger.Warn().Err(err).Msg("device action failed")
		return nil, err
	}

	d.metrics.DeviceAction(string(req.Action), "ok")
	logger.Info().Msg("device action dispatched")
	return &ActionResult{
		RequestID:    req.RequestID,
		DeviceID:     req.DeviceID,
		Action:       req.Action,
		DispatchedAt: now,
	}, nil
}

func (d *Dispatcher) send(ctx context.Context, req ActionRequest, now time.Time) error {
	switch req.Action {
	case ActionReboot:
		return d.actions.Reboot(ctx, req.DeviceID, req.RebootMode, req.Reason)
	case ActionMaintenanceStart:
		minutes := req.MaintenanceMinutes
		if minutes <= 0 {
			minutes = DefaultMaintenanceMinutes
		}
		features := req.MaintenanceFeatures
		if len(features) == 0 {
			features = []string{"ALERTS", "PATCHING", "AVSCANS", "TASKS"}
		}
		return d.actions.SetMaintenance(ctx, req.DeviceID, Maintenance{
			DisabledFeatures: features,
			Start:            now,
			End:              now.Add(time.Duration(minutes) * time.Minute),
		})
	case ActionMaintenanceCancel:
		return d.actions.CancelMaintenance(ctx, req.DeviceID)
	case ActionPatchScan:
		return d.actions.ScanPatches(ctx, req.DeviceID)
	case ActionPatchApply:
		return d.actions.ApplyPatches(ctx, req.DeviceID)
	case ActionRunScript:
		return d.actions.RunScript(ctx, req.DeviceID, *req.Script)
	case ActionServiceControl:
		return d.actions.ControlService(ctx, req.DeviceID, req.ServiceID, req.ServiceAction)
	}
	return errors.Wrapf(errors.ErrUnknownAction, "%q", req.Action)
}
