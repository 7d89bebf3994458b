package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jypelle/kioskdisplay/apimodel"
	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/drm"
	"github.com/jypelle/kioskdisplay/internal/edid/manager"
	"github.com/jypelle/kioskdisplay/internal/edid/store"
	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/jypelle/kioskdisplay/internal/tool"
	"github.com/sirupsen/logrus"
)

type ConnectorLister interface {
	ListConnectors() ([]drm.Connector, error)
}

type Api struct {
	router    *mux.Router
	apiRouter *mux.Router
	handler   http.Handler
	server    *http.Server

	config       *config.ServerConfig
	manager      *manager.Manager
	connectors   ConnectorLister
	displayState *config.DisplayState
	guard        *ConnectorGuard
	worker       *PatternWorker
}

func NewApi(config *config.ServerConfig, manager *manager.Manager, connectors ConnectorLister, displayState *config.DisplayState, guard *ConnectorGuard, worker *PatternWorker) *Api {
	api := Api{
		config:       config,
		manager:      manager,
		connectors:   connectors,
		displayState: displayState,
		guard:        guard,
		worker:       worker,
	}

	api.router = mux.NewRouter().StrictSlash(false)

	// API Routes
	api.apiRouter = api.router.PathPrefix("/api").Subrouter()
	api.apiRouter.NotFoundHandler = http.HandlerFunc(ErrorNotFoundAction)
	api.apiRouter.MethodNotAllowedHandler = http.HandlerFunc(ErrorMethodNotAllowedAction)

	// Auth middleware
	api.apiRouter.Use(
		func(handler http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer func() {
					if rec := recover(); rec != nil {
						logrus.Warningf("recovered from panic : [%v] - stack trace : \n [%s]", rec, debug.Stack())
						strMessage := fmt.Sprintf("%v", rec)
						GlobalErrorAction(w, strMessage, http.StatusInternalServerError)
					}
				}()

				// Check API Key
				apiKey := r.Header.Get("x-api-key")
				if apiKey != config.ServerParam.ApiParam.ApiKey {
					ErrorStatusAction(w, r, http.StatusForbidden)
					return
				}

				logrus.Debugf("PATH: %s %s %s", r.Method, r.Host, r.URL.Path)

				handler.ServeHTTP(w, r)
			})
		})

	// Create server check endpoint
	api.apiRouter.HandleFunc("/is_alive",
		func(w http.ResponseWriter, r *http.Request) {
			ErrorStatusAction(w, r, http.StatusOK)
		}).Methods("GET")

	// Display state
	api.apiRouter.HandleFunc("/status", api.statusAction).Methods("GET")
	api.apiRouter.HandleFunc("/state", api.setStateAction).Methods("PUT")

	// Connectors
	api.apiRouter.HandleFunc("/connectors", api.connectorsAction).Methods("GET")
	api.apiRouter.HandleFunc("/connectors/{connector}/take", api.takeAction).Methods("POST")
	api.apiRouter.HandleFunc("/connectors/{connector}/release", api.releaseAction).Methods("POST")
	api.apiRouter.HandleFunc("/connectors/{connector}/edid", api.readEdidAction).Methods("GET")
	api.apiRouter.HandleFunc("/connectors/{connector}/identify", api.identifyAction).Methods("GET")
	api.apiRouter.HandleFunc("/targets", api.targetsAction).Methods("GET")

	// EDID
	api.apiRouter.HandleFunc("/edid/validate", api.validateAction).Methods("POST")
	api.apiRouter.HandleFunc("/edid/decode", api.decodeAction).Methods("POST")
	api.apiRouter.HandleFunc("/edid/compare", api.compareAction).Methods("POST")
	api.apiRouter.HandleFunc("/edid/save", api.saveAction).Methods("POST")
	api.apiRouter.HandleFunc("/edid/match", api.matchAction).Methods("POST")
	api.apiRouter.HandleFunc("/edid/files", api.filesAction).Methods("GET")
	api.apiRouter.HandleFunc("/edid/write", api.writeAction).Methods("POST")

	// Tell the browser that it's OK for JS to communicate with the server
	headersOk := handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "x-api-key"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})

	api.handler = handlers.CompressHandler(handlers.CORS(originsOk, headersOk, methodsOk)(api.router))

	api.server = &http.Server{
		Addr:         ":" + strconv.FormatInt(config.ServerParam.ApiParam.SslPort, 10),
		Handler:      api.handler,
		ReadTimeout:  time.Second * 240,
		WriteTimeout: time.Second * 240,
		IdleTimeout:  time.Second * 240,
	}

	return &api
}

func (d *Api) Handler() http.Handler {
	return d.handler
}

func (d *Api) Start() {
	logrus.Infof("Start api device")

	existServerCert, err := tool.IsFileExists(d.selfSignedCertFilename())
	if err != nil {
		logrus.Fatalf("Unable to access %s: %v\n", d.selfSignedCertFilename(), err)
	}

	existServerKey, err := tool.IsFileExists(d.selfSignedKeyFilename())
	if err != nil {
		logrus.Fatalf("Unable to access %s: %v\n", d.selfSignedKeyFilename(), err)
	}

	if !existServerCert || !existServerKey {
		logrus.Info("Missing cert and key files, trying to generate them...")
		err = tool.GenerateTlsCertificate(
			"kioskdisplay",
			"Kiosk Display Server",
			d.selfSignedKeyFilename(),
			d.selfSignedCertFilename(),
			[]string{})
		if err != nil {
			logrus.Fatalf("Unable to generate cert and key files : %v\n", err)
		}
		logrus.Info("Self-signed cert and key files generated")
	}

	// Launch https server
	go func() {
		err := d.server.ListenAndServeTLS(d.selfSignedCertFilename(), d.selfSignedKeyFilename())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Error(err)
		}
	}()
}

func (d *Api) Stop() {
	logrus.Infof("Stop api device")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		logrus.Warnf("Api shutdown: %v", err)
	}
}

func (d *Api) selfSignedKeyFilename() string {
	return filepath.Join(d.config.ConfigDir, "key.pem")
}

func (d *Api) selfSignedCertFilename() string {
	return filepath.Join(d.config.ConfigDir, "cert.pem")
}

// region Display state

func (d *Api) status() apimodel.Status {
	desired := d.displayState.Get()
	workerStatus := d.worker.Status()

	status := apimodel.Status{
		Desired: apimodel.DesiredState{
			Output: desired.Output,
			Mode:   string(desired.Mode),
			Value:  desired.Value,
			Active: desired.Active,
		},
		LastError:             workerStatus.LastError,
		Owned:                 d.guard.Owned(),
		DisplayManagerStopped: d.guard.ServiceStopped(),
	}
	if applied := workerStatus.Applied; applied != nil {
		status.Applied = &apimodel.AppliedOutput{
			Connector: applied.Connector,
			Mode:      string(applied.Mode),
			Value:     applied.Value,
			RunId:     applied.RunId,
			StartedAt: applied.StartedAt,
		}
	}
	return status
}

func (d *Api) statusAction(w http.ResponseWriter, r *http.Request) {
	JsonAction(w, http.StatusOK, d.status())
}

func (d *Api) setStateAction(w http.ResponseWriter, r *http.Request) {
	var request apimodel.StateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		apimodel.WrongParametersErrorMessage.SendError(w)
		return
	}

	update := config.StateUpdate{
		Output:     request.Output,
		Value:      request.Value,
		ClearValue: request.ClearValue,
		Active:     request.Active,
	}
	if request.Mode != nil {
		mode := config.Mode(*request.Mode)
		if mode != config.OFF_MODE && !mode.IsOutput() {
			GlobalErrorAction(w, fmt.Sprintf("unknown mode %q", mode), http.StatusBadRequest)
			return
		}
		update.Mode = &mode
	}

	if d.displayState.Update(update) {
		logrus.Infof("Desired state changed: %+v", d.displayState.Get())
	}
	JsonAction(w, http.StatusOK, d.status())
}

// endregion

// region Connectors

func (d *Api) connectorsAction(w http.ResponseWriter, r *http.Request) {
	connectors, err := d.connectors.ListConnectors()
	if err != nil {
		ErrorAction(w, err)
		return
	}

	infos := make([]apimodel.ConnectorInfo, 0, len(connectors))
	for _, c := range connectors {
		infos = append(infos, apimodel.ConnectorInfo{
			Name:        c.Name,
			Card:        c.Card,
			Connected:   c.Connected,
			EdidPresent: c.EdidPresent,
			Owned:       d.guard.IsOwned(c.FullName()),
			Protected:   d.guard.IsProtected(c.FullName()),
		})
	}
	JsonAction(w, http.StatusOK, infos)
}

func (d *Api) takeAction(w http.ResponseWriter, r *http.Request) {
	connector := mux.Vars(r)["connector"]
	handover := false
	if value := r.URL.Query().Get("handover"); value != "" {
		var err error
		handover, err = strconv.ParseBool(value)
		if err != nil {
			apimodel.WrongParametersErrorMessage.SendError(w)
			return
		}
	}

	if err := d.guard.Take(r.Context(), connector, handover); err != nil {
		ErrorAction(w, err)
		return
	}
	ErrorStatusAction(w, r, http.StatusOK)
}

func (d *Api) releaseAction(w http.ResponseWriter, r *http.Request) {
	connector := mux.Vars(r)["connector"]

	// The worker must not restart the output it loses
	if state := d.displayState.Get(); state.Active && d.guard.key(state.Output) == d.guard.key(connector) {
		inactive := false
		d.displayState.Update(config.StateUpdate{Active: &inactive})
	}

	if err := d.guard.Release(r.Context(), connector); err != nil {
		ErrorAction(w, err)
		return
	}
	ErrorStatusAction(w, r, http.StatusOK)
}

func (d *Api) readRequest(r *http.Request) manager.ReadRequest {
	transport := r.URL.Query().Get("transport")
	if transport == "" {
		transport = "drm"
	}
	return manager.ReadRequest{
		Transport: transport,
		Target:    mux.Vars(r)["connector"],
		Options:   edid.ReadOptions{Validate: true},
	}
}

func (d *Api) readEdidAction(w http.ResponseWriter, r *http.Request) {
	result, err := d.manager.Read(r.Context(), d.readRequest(r))
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusOK, toEdidReport(d.manager.Inspect(result), nil))
}

func (d *Api) identifyAction(w http.ResponseWriter, r *http.Request) {
	identification, err := d.manager.Identify(r.Context(), d.readRequest(r))
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusOK, toEdidReport(identification.Report, identification.Matches))
}

func (d *Api) targetsAction(w http.ResponseWriter, r *http.Request) {
	JsonAction(w, http.StatusOK, d.manager.Discover(r.Context()))
}

func toEdidReport(report *manager.Report, matches []store.Match) apimodel.EdidReport {
	return apimodel.EdidReport{
		Transport:       report.Transport,
		Target:          report.Target,
		EdidHex:         edid.FormatHex(report.Data, 16),
		Length:          len(report.Data),
		Valid:           report.Valid,
		ValidationError: firstNonEmpty(report.Error, report.ValidationError),
		Hash:            report.Hash,
		Info:            report.Info,
		Matches:         matches,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// endregion

// region EDID

func decodeEdidRequest(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var request apimodel.EdidRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		apimodel.WrongParametersErrorMessage.SendError(w)
		return nil, false
	}
	data, err := edid.ParseHex(request.EdidHex)
	if err != nil {
		GlobalErrorAction(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

func (d *Api) validateAction(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeEdidRequest(w, r)
	if !ok {
		return
	}
	response := apimodel.ValidateResponse{Valid: true}
	if err := d.manager.Validate(data); err != nil {
		response = apimodel.ValidateResponse{Valid: false, Error: err.Error(), Kind: string(edid.Classify(err))}
	}
	JsonAction(w, http.StatusOK, response)
}

func (d *Api) decodeAction(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeEdidRequest(w, r)
	if !ok {
		return
	}
	info, err := d.manager.Decode(data)
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusOK, info)
}

func (d *Api) compareAction(w http.ResponseWriter, r *http.Request) {
	var request apimodel.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		apimodel.WrongParametersErrorMessage.SendError(w)
		return
	}
	a, err := edid.ParseHex(request.EdidHexA)
	if err != nil {
		GlobalErrorAction(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := edid.ParseHex(request.EdidHexB)
	if err != nil {
		GlobalErrorAction(w, err.Error(), http.StatusBadRequest)
		return
	}

	comparison := d.manager.Compare(a, b)
	response := apimodel.CompareResponse{
		Equal:   comparison.Equal,
		LengthA: comparison.LengthA,
		LengthB: comparison.LengthB,
		Diffs:   make([]string, 0, len(comparison.Diffs)),
	}
	for _, diff := range comparison.Diffs {
		response.Diffs = append(response.Diffs, diff.String())
	}
	JsonAction(w, http.StatusOK, response)
}

func (d *Api) saveAction(w http.ResponseWriter, r *http.Request) {
	var request apimodel.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		apimodel.WrongParametersErrorMessage.SendError(w)
		return
	}
	data, err := edid.ParseHex(request.EdidHex)
	if err != nil {
		GlobalErrorAction(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, err := d.manager.Save(data, request.Name, store.SaveOptions{Overwrite: request.Overwrite, Strict: request.Strict})
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusCreated, apimodel.SaveResponse{Path: path})
}

func (d *Api) matchAction(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeEdidRequest(w, r)
	if !ok {
		return
	}
	matches, err := d.manager.FindMatches(data)
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusOK, apimodel.MatchResponse{Matches: matches})
}

func (d *Api) filesAction(w http.ResponseWriter, r *http.Request) {
	entries, err := d.manager.ListSaved()
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusOK, entries)
}

func (d *Api) writeAction(w http.ResponseWriter, r *http.Request) {
	var request apimodel.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		apimodel.WrongParametersErrorMessage.SendError(w)
		return
	}
	writeRequest := manager.WriteRequest{
		Transport: request.Transport,
		Target:    request.Target,
		Verify:    request.Verify,
		Force:     request.Force,
	}

	var result *edid.WriteResult
	var err error
	if request.Filename != "" {
		result, err = d.manager.WriteSaved(r.Context(), request.Filename, writeRequest)
	} else {
		var data []byte
		data, err = edid.ParseHex(request.EdidHex)
		if err != nil {
			GlobalErrorAction(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err = d.manager.Write(r.Context(), data, writeRequest)
	}
	if err != nil {
		ErrorAction(w, err)
		return
	}
	JsonAction(w, http.StatusOK, result)
}

// endregion

// ErrorStatus maps an error to its HTTP status and kind.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotOwned):
		return http.StatusConflict, "not_owned"
	case errors.Is(err, ErrProtected), errors.Is(err, ErrHandoverNotAllowed):
		return http.StatusForbidden, "protected"
	case errors.Is(err, ErrService):
		return http.StatusBadGateway, "service"
	case errors.Is(err, store.ErrDuplicateContent), errors.Is(err, store.ErrFilenameExists):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, string(edid.KindNotPresent)
	}

	kind := edid.Classify(err)
	switch kind {
	case edid.KindNotPresent:
		return http.StatusNotFound, string(kind)
	case edid.KindInvalidData:
		return http.StatusUnprocessableEntity, string(kind)
	case edid.KindUnsupported:
		return http.StatusNotImplemented, string(kind)
	}
	return http.StatusInternalServerError, string(kind)
}

func ErrorAction(w http.ResponseWriter, err error) {
	status, kind := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.Warnf("Api error: %v", err)
	}
	apimodel.ErrorMessage{ErrStatusCode: status, ErrMessage: err.Error(), ErrKind: kind}.SendError(w)
}

func JsonAction(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Unable to encode response: %v", err)
	}
}

func ErrorNotFoundAction(w http.ResponseWriter, r *http.Request) {
	ErrorStatusAction(w, r, http.StatusNotFound)
}

func ErrorMethodNotAllowedAction(w http.ResponseWriter, r *http.Request) {
	ErrorStatusAction(w, r, http.StatusMethodNotAllowed)
}

func ErrorStatusAction(w http.ResponseWriter, r *http.Request, status int) {
	ErrorMessageAction(w, "", status)
}

func GlobalErrorAction(w http.ResponseWriter, message string, status int) {
	ErrorMessageAction(w, message, status)
}

func ErrorMessageAction(w http.ResponseWriter, title string, status int) {
	apimodel.ErrorMessage{
		ErrStatusCode: status,
		ErrMessage:    title,
	}.SendError(w)
}
