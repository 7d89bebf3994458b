package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jypelle/kioskdisplay/apimodel"
	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/drm"
	"github.com/jypelle/kioskdisplay/internal/edid/manager"
	"github.com/jypelle/kioskdisplay/internal/edid/store"
	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testApiKey = "secret"

func sampleEdid(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, edid.BlockSize)
	copy(data, edid.Header)
	data[8], data[9] = 0x10, 0xAC
	data[10], data[11] = 0x34, 0x12
	data[17] = 30
	fixed, err := edid.FixChecksum(data)
	require.NoError(t, err)
	return fixed
}

type apiFixture struct {
	api          *Api
	displayState *config.DisplayState
	guard        *ConnectorGuard
	driver       *fakeDriver
	service      *fakeService
	edid         []byte
	drmRoot      string
}

func newApiFixture(t *testing.T) *apiFixture {
	t.Helper()
	data := sampleEdid(t)

	drmRoot := t.TempDir()
	connectorDir := filepath.Join(drmRoot, "card0-HDMI-A-1")
	require.NoError(t, os.MkdirAll(connectorDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(connectorDir, "status"), []byte("connected\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(connectorDir, "edid"), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(connectorDir, drm.DefaultOverrideAttribute), nil, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(drmRoot, "card0-DSI-1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(drmRoot, "card0-DSI-1", "status"), []byte("connected\n"), 0644))

	serverConfig := &config.ServerConfig{
		ConfigDir: t.TempDir(),
		ServerParam: &config.ServerParam{
			OutputParam: config.OutputParam{Protected: []string{"DSI-1"}},
			ApiParam:    config.ApiParam{Enabled: true, SslPort: 8443, ApiKey: testApiKey},
		},
	}

	drmTransport := drm.NewTransport(drmRoot, "")
	edidManager := manager.New(store.New(t.TempDir()), false, drmTransport)

	driver := &fakeDriver{}
	service := &fakeService{}
	guard := NewConnectorGuard(driver, service, drmTransport, GuardParam{Protected: []string{"DSI-1"}, Service: "lightdm", HandoverAllowed: true})
	displayState := config.NewDisplayState()
	worker := NewPatternWorker(displayState, guard, testWorkerParam)

	return &apiFixture{
		api:          NewApi(serverConfig, edidManager, drmTransport, displayState, guard, worker),
		displayState: displayState,
		guard:        guard,
		driver:       driver,
		service:      service,
		edid:         data,
		drmRoot:      drmRoot,
	}
}

func (f *apiFixture) do(t *testing.T, method string, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("x-api-key", testApiKey)
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestApi_RequiresApiKey(t *testing.T) {
	f := newApiFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/is_alive", nil)
	rec := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/is_alive", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/nothing", nil).Code)
}

func TestApi_StateAndStatus(t *testing.T) {
	f := newApiFixture(t)

	rec := f.do(t, http.MethodPut, "/api/state", map[string]interface{}{"output": "HDMI-A-1", "mode": "solid", "value": "red", "active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var status apimodel.Status
	decodeBody(t, rec, &status)
	assert.Equal(t, "HDMI-A-1", status.Desired.Output)
	assert.Equal(t, "solid", status.Desired.Mode)
	require.NotNil(t, status.Desired.Value)
	assert.Equal(t, "red", *status.Desired.Value)
	assert.True(t, status.Desired.Active)
	assert.Nil(t, status.Applied)

	rec = f.do(t, http.MethodPut, "/api/state", map[string]interface{}{"mode": "disco"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, config.SOLID_MODE, f.displayState.Get().Mode)

	rec = f.do(t, http.MethodPut, "/api/state", map[string]interface{}{"clear_value": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.displayState.Get().Value)
}

func TestApi_TakeRelease(t *testing.T) {
	f := newApiFixture(t)

	rec := f.do(t, http.MethodPost, "/api/connectors/DSI-1/take", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var errorMessage apimodel.ErrorMessage
	decodeBody(t, rec, &errorMessage)
	assert.Equal(t, "protected", errorMessage.ErrKind)
	rec = f.do(t, http.MethodPost, "/api/connectors/card0-DSI-1/take", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/connectors/HDMI-A-9/take", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/connectors/HDMI-A-1/take?handover=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"stop lightdm"}, f.service.history())

	rec = f.do(t, http.MethodGet, "/api/connectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var connectors []apimodel.ConnectorInfo
	decodeBody(t, rec, &connectors)
	require.Len(t, connectors, 2)
	assert.Equal(t, "DSI-1", connectors[0].Name)
	assert.True(t, connectors[0].Protected)
	assert.Equal(t, "HDMI-A-1", connectors[1].Name)
	assert.True(t, connectors[1].Owned)
	assert.True(t, connectors[1].EdidPresent)

	f.displayState.Update(config.StateUpdate{Output: strPtr("HDMI-A-1"), Mode: modePtr(config.SOLID_MODE), Active: boolPtr(true)})
	handle, err := f.guard.StartOutput(solidRed("HDMI-A-1"))
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/connectors/card0-HDMI-A-1/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, handle.(*fakeHandle).running())
	assert.False(t, f.displayState.Get().Active)
	assert.Equal(t, []string{"stop lightdm", "start lightdm"}, f.service.history())

	rec = f.do(t, http.MethodPost, "/api/connectors/HDMI-A-1/take?handover=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApi_ReadAndIdentify(t *testing.T) {
	f := newApiFixture(t)

	rec := f.do(t, http.MethodGet, "/api/connectors/HDMI-A-1/edid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report apimodel.EdidReport
	decodeBody(t, rec, &report)
	assert.Equal(t, "drm", report.Transport)
	assert.Equal(t, 128, report.Length)
	assert.True(t, report.Valid)
	require.NotNil(t, report.Info)
	assert.Equal(t, "DEL", report.Info.Manufacturer)
	parsed, err := edid.ParseHex(report.EdidHex)
	require.NoError(t, err)
	assert.Equal(t, f.edid, parsed)

	rec = f.do(t, http.MethodGet, "/api/connectors/HDMI-A-9/edid", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errorMessage apimodel.ErrorMessage
	decodeBody(t, rec, &errorMessage)
	assert.Equal(t, "not_present", errorMessage.ErrKind)

	rec = f.do(t, http.MethodGet, "/api/connectors/HDMI-A-1/edid?transport=hdmi-cec", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/edid/save", apimodel.SaveRequest{EdidHex: edid.FormatHex(f.edid, 16), Name: "Lobby Screen"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/connectors/HDMI-A-1/identify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &report)
	require.Len(t, report.Matches, 1)
	assert.Equal(t, "lobby_screen.bin", report.Matches[0].Filename)

	rec = f.do(t, http.MethodGet, "/api/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var targets map[string][]string
	decodeBody(t, rec, &targets)
	assert.Equal(t, []string{"HDMI-A-1"}, targets["drm"])
}

func TestApi_EdidOperations(t *testing.T) {
	f := newApiFixture(t)
	hexEdid := edid.FormatHex(f.edid, 16)

	rec := f.do(t, http.MethodPost, "/api/edid/validate", apimodel.EdidRequest{EdidHex: hexEdid})
	require.Equal(t, http.StatusOK, rec.Code)
	var validation apimodel.ValidateResponse
	decodeBody(t, rec, &validation)
	assert.True(t, validation.Valid)

	broken := append([]byte(nil), f.edid...)
	broken[20] ^= 0xFF
	rec = f.do(t, http.MethodPost, "/api/edid/validate", apimodel.EdidRequest{EdidHex: edid.FormatHex(broken, 16)})
	decodeBody(t, rec, &validation)
	assert.False(t, validation.Valid)
	assert.Equal(t, "invalid_data", validation.Kind)

	rec = f.do(t, http.MethodPost, "/api/edid/validate", apimodel.EdidRequest{EdidHex: "zz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/edid/decode", apimodel.EdidRequest{EdidHex: hexEdid})
	require.Equal(t, http.StatusOK, rec.Code)
	var info edid.Info
	decodeBody(t, rec, &info)
	assert.Equal(t, "DEL", info.Manufacturer)
	assert.Equal(t, uint16(0x1234), info.ProductCode)
	assert.Equal(t, 2020, info.Year)

	rec = f.do(t, http.MethodPost, "/api/edid/compare", apimodel.CompareRequest{EdidHexA: hexEdid, EdidHexB: edid.FormatHex(broken, 16)})
	require.Equal(t, http.StatusOK, rec.Code)
	var comparison apimodel.CompareResponse
	decodeBody(t, rec, &comparison)
	assert.False(t, comparison.Equal)
	assert.Len(t, comparison.Diffs, 1)

	rec = f.do(t, http.MethodPost, "/api/edid/save", apimodel.SaveRequest{EdidHex: hexEdid, Name: "Lobby"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/edid/save", apimodel.SaveRequest{EdidHex: hexEdid, Name: "Other"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/edid/match", apimodel.EdidRequest{EdidHex: hexEdid})
	require.Equal(t, http.StatusOK, rec.Code)
	var matches apimodel.MatchResponse
	decodeBody(t, rec, &matches)
	require.Len(t, matches.Matches, 1)
	assert.Equal(t, "lobby.bin", matches.Matches[0].Filename)

	rec = f.do(t, http.MethodGet, "/api/edid/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []store.Entry
	decodeBody(t, rec, &entries)
	assert.Len(t, entries, 1)
}

func TestApi_Write(t *testing.T) {
	f := newApiFixture(t)
	hexEdid := edid.FormatHex(f.edid, 16)

	rec := f.do(t, http.MethodPost, "/api/edid/write", apimodel.WriteRequest{EdidHex: hexEdid, Transport: "drm", Target: "HDMI-A-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result edid.WriteResult
	decodeBody(t, rec, &result)
	assert.Equal(t, 128, result.BytesWritten)
	written, err := os.ReadFile(filepath.Join(f.drmRoot, "card0-HDMI-A-1", drm.DefaultOverrideAttribute))
	require.NoError(t, err)
	assert.Equal(t, f.edid, written)

	rec = f.do(t, http.MethodPost, "/api/edid/write", apimodel.WriteRequest{EdidHex: "00FF", Target: "HDMI-A-1", Force: true})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/edid/write", apimodel.WriteRequest{EdidHex: hexEdid, Target: "DSI-1"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/edid/write", apimodel.WriteRequest{Filename: "missing.bin", Target: "HDMI-A-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("take: %w", ErrNotOwned), http.StatusConflict, "not_owned"},
		{ErrProtected, http.StatusForbidden, "protected"},
		{ErrHandoverNotAllowed, http.StatusForbidden, "protected"},
		{fmt.Errorf("%w: exit status 1", ErrService), http.StatusBadGateway, "service"},
		{&store.DuplicateError{Filename: "dell.bin"}, http.StatusConflict, "duplicate"},
		{store.ErrNotFound, http.StatusNotFound, "not_present"},
		{&edid.ReadError{Source: "drm", Err: edid.ErrConnectorNotFound}, http.StatusNotFound, "not_present"},
		{edid.ErrBadHeader, http.StatusUnprocessableEntity, "invalid_data"},
		{edid.ErrOverrideUnsupported, http.StatusNotImplemented, "unsupported"},
		{errors.New("i2c: nack"), http.StatusInternalServerError, "io"},
	}
	for _, c := range cases {
		status, kind := ErrorStatus(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.kind, kind, c.err.Error())
	}
}
