package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/tenants"
)

const (
	maxBodyBytes     = 64 << 10
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// SecurityScoreHandler returns the tenant's score; degraded results are
// returned with 200 and their failed sources listed.
func (s *Server) SecurityScoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.insights.GetSecurityScore(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) InvalidateScoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.insights.InvalidateScoreCache(r.Context(), r.PathValue("id")); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) OptimizationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.insights.GetOptimizationSummary(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) InvalidateOptimizationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.insights.InvalidateOptimization(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) FleetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.insights.GetFleetSummary(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// DeviceActionHandler dispatches one action. Clients should send a
// request_id per user click; one is generated when omitted.
func (s *Server) DeviceActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rmm.ActionRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		deviceID := r.PathValue("id")
		if req.DeviceID != "" && req.DeviceID != deviceID {
			writeJSONError(w, "invalid_request", "device_id does not match path", http.StatusBadRequest)
			return
		}
		req.DeviceID = deviceID
		if req.RequestID == "" {
			req.RequestID = rmm.NewActionRequest(deviceID, req.Action).RequestID
		}

		result, err := s.insights.DispatchDeviceAction(r.Context(), req)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.logger.Info().Str("subject", subjectFrom(r.Context())).Str("device_id", deviceID).
			Str("action", string(req.Action)).Str("request_id", req.RequestID).Msg("device action accepted")
		writeJSON(w, http.StatusAccepted, result)
	}
}

func (s *Server) ListTenantsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := queryInt(r, "offset", 0)
		limit := min(queryInt(r, "limit", defaultPageLimit), maxPageLimit)
		list, err := s.insights.ListTenants(r.Context(), offset, limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if list == nil {
			list = []*tenants.Tenant{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// tenantRequest carries the credential override that Tenant hides from JSON output.
type tenantRequest struct {
	tenants.Tenant
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

func (s *Server) SaveTenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tenantRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		t := req.Tenant
		if req.ClientID != "" {
			t.Credentials = &tenants.Credentials{ClientID: req.ClientID, ClientSecret: req.ClientSecret}
		}
		if err := s.insights.SaveTenant(r.Context(), &t); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, &t)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSONError(w, code, err.Error(), status)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrTenantNotFound), errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrInvalidTenant), errors.Is(err, errors.ErrUnknownAction), errors.Is(err, errors.ErrMissingDeviceID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errors.ErrDuplicateAction):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented, "not_configured"
	case errors.IsTimeout(err):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.IsAuth(err), errors.StatusOf(err) != 0:
		return http.StatusBadGateway, "upstream_error"
	}
	return http.StatusInternalServerError, "server_error"
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(err, "malformed JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
