package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/transpostw1/vincap-retro-sync/internal/audit"
	"github.com/transpostw1/vincap-retro-sync/internal/ids"
	"github.com/transpostw1/vincap-retro-sync/internal/mapping"
	"github.com/transpostw1/vincap-retro-sync/internal/migration"
	"github.com/transpostw1/vincap-retro-sync/internal/obs"
	"github.com/transpostw1/vincap-retro-sync/internal/retro"
	"github.com/transpostw1/vincap-retro-sync/internal/source"
)

// ReadyProbe checks the source database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Migrator is the slice of the migration runner the HTTP layer needs.
type Migrator interface {
	Run(ctx context.Context, req migration.Request) (*migration.Summary, error)
}

// Remote exposes the diagnostic calls against the legacy API.
type Remote interface {
	Authenticate(ctx context.Context) (retro.Session, error)
	PendingAssignments(ctx context.Context, sess retro.Session) ([]retro.PendingInvoice, error)
}

// Catalog is the read side of the source database.
type Catalog interface {
	Ping(ctx context.Context) error
	ListRecords(ctx context.Context, table string, limit int) ([]source.RecordSummary, error)
}

// API is the HTTP control surface.
type API struct {
	mux          *http.ServeMux
	readyProbe   ReadyProbe
	catalog      Catalog
	remote       Remote
	runner       Migrator
	tracker      *migration.Tracker
	defaultTable string
	version      string

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version, defaultTable string, catalog Catalog, remote Remote, runner Migrator) *API {
	if defaultTable == "" {
		defaultTable = "invoices"
	}
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		catalog:      catalog,
		remote:       remote,
		runner:       runner,
		tracker:      migration.NewTracker(),
		defaultTable: defaultTable,
		version:      version,
		rateBurst:    50,
		ratePerSec:   25,
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/list-records", a.handleListRecords)
	a.mux.HandleFunc("/v1/push", a.handlePush)
	a.mux.HandleFunc("/v1/push/async", a.handlePushAsync)
	a.mux.HandleFunc("/v1/runs", a.handleRuns)
	a.mux.HandleFunc("/v1/runs/", a.handleRunResource)
	a.mux.HandleFunc("/v1/migrate", a.handleMigrate)
	a.mux.HandleFunc("/v1/test-connection", a.handleTestConnection)
	a.mux.HandleFunc("/v1/mappings", a.handleMappings)
	a.mux.HandleFunc("/v1/pending-assignments", a.handlePendingAssignments)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- health ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vincap-retro-sync",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- migration surface ---

type pushRequest struct {
	RecordID string `json:"record_id"`
	Limit    int    `json:"limit"`
	Table    string `json:"table_name"`
}

// defaultPushLimit bounds batch runs when the caller does not pick a limit.
const defaultPushLimit = 10

type runResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Summary *migration.Summary `json:"summary"`
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	table := strings.TrimSpace(r.URL.Query().Get("table"))
	if table == "" {
		table = a.defaultTable
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 5, 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.catalog.ListRecords(r.Context(), table, limit)
	if err != nil {
		handleRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"table":   table,
		"count":   len(records),
		"records": records,
	})
}

func (a *API) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req, err := decodePushBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := a.runner.Run(r.Context(), migration.Request{
		RecordID: strings.TrimSpace(req.RecordID),
		Limit:    req.Limit,
		Table:    strings.TrimSpace(req.Table),
	})
	if err != nil {
		handleRunError(w, r, err)
		return
	}
	a.writeSummary(w, summary)
}

func (a *API) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req, err := decodePushBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := a.runner.Run(r.Context(), migration.Request{
		RecordID: strings.TrimSpace(req.RecordID),
		Limit:    req.Limit,
		Table:    strings.TrimSpace(req.Table),
	})
	if err != nil {
		handleRunError(w, r, err)
		return
	}
	a.writeSummary(w, summary)
}

func (a *API) handlePushAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	req, err := decodePushBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	runReq := migration.Request{
		RunID:    ids.New(),
		RecordID: strings.TrimSpace(req.RecordID),
		Limit:    req.Limit,
		Table:    strings.TrimSpace(req.Table),
	}
	a.tracker.Start(runReq.RunID, runReq)

	// The run outlives the request; it carries only the audit identifiers
	// from the inbound context.
	ctx := audit.WithRequestID(context.Background(), audit.RequestIDFromContext(r.Context()))
	go func() {
		summary, err := a.runner.Run(ctx, runReq)
		if err != nil {
			a.tracker.Abort(runReq.RunID, err)
			return
		}
		a.tracker.Complete(runReq.RunID, summary)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"run_id":  runReq.RunID,
		"status":  migration.RunRunning,
	})
}

func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": a.tracker.List(),
	})
}

func (a *API) handleRunResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "run not found")
		return
	}
	info, ok := a.tracker.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	result := map[string]any{"success": true}
	code := http.StatusOK

	if err := a.catalog.Ping(r.Context()); err != nil {
		result["success"] = false
		result["database"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		result["database"] = "ok"
	}

	if _, err := a.remote.Authenticate(r.Context()); err != nil {
		result["success"] = false
		result["retro_api"] = err.Error()
		if code == http.StatusOK {
			code = http.StatusBadGateway
		}
	} else {
		result["retro_api"] = "ok"
	}

	writeJSON(w, code, result)
}

func (a *API) handleMappings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":   a.defaultTable,
		"fields":  mapping.Invoice,
		"dropped": mapping.Dropped,
	})
}

func (a *API) handlePendingAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, err := a.remote.Authenticate(r.Context())
	if err != nil {
		handleRunError(w, r, err)
		return
	}
	items, err := a.remote.PendingAssignments(r.Context(), sess)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(items),
		"items":   items,
	})
}

func (a *API) writeSummary(w http.ResponseWriter, summary *migration.Summary) {
	msg := "migration completed"
	if summary.Failed > 0 {
		msg = "migration completed with failures"
	}
	writeJSON(w, http.StatusOK, runResponse{
		Success: summary.Failed == 0,
		Message: msg,
		Summary: summary,
	})
}

// decodePushBody tolerates an absent body: a bare POST means "run with
// defaults".
func decodePushBody(w http.ResponseWriter, r *http.Request) (pushRequest, error) {
	var req pushRequest
	err := decodeJSON(w, r, &req)
	if err != nil && err.Error() == "request body is required" {
		err = nil
	}
	if err != nil {
		return pushRequest{}, err
	}
	if req.Limit < 0 {
		return pushRequest{}, errors.New("limit must be >= 0")
	}
	if req.Limit == 0 {
		req.Limit = defaultPushLimit
	}
	return req, nil
}

// --- helpers ---

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit is out of range")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, source.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, source.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, retro.ErrAuthFailed):
		writeError(w, r, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "request cancelled")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
