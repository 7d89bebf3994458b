package device

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/drm"
	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/jypelle/kioskdisplay/internal/srv/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(param GuardParam) (*ConnectorGuard, *fakeDriver, *fakeService) {
	driver := &fakeDriver{}
	service := &fakeService{}
	if param.Service == "" {
		param.Service = "lightdm"
	}
	return NewConnectorGuard(driver, service, nil, param), driver, service
}

// newSysfsGuard resolves connectors through a fake DRM tree holding
// card0-HDMI-A-1 (id 33) and card0-HDMI-A-2 (id 34).
func newSysfsGuard(t *testing.T, param GuardParam) (*ConnectorGuard, *fakeDriver) {
	t.Helper()
	root := t.TempDir()
	for entry, id := range map[string]string{"card0-HDMI-A-1": "33", "card0-HDMI-A-2": "34"} {
		dir := filepath.Join(root, entry)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte("connected\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "connector_id"), []byte(id+"\n"), 0644))
	}
	driver := &fakeDriver{}
	return NewConnectorGuard(driver, &fakeService{}, drm.NewTransport(root, ""), param), driver
}

// returnsWithin runs f and reports whether it finished in time.
func returnsWithin(d time.Duration, f func()) bool {
	done := make(chan struct{})
	go func() {
		f()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func solidRed(connector string) OutputRequest {
	return OutputRequest{Connector: connector, Mode: config.SOLID_MODE, Value: "red"}
}

func TestGuard_StartRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	guard, driver, _ := newTestGuard(GuardParam{})

	_, err := guard.StartOutput(solidRed("HDMI-A-1"))
	require.ErrorIs(t, err, ErrNotOwned)
	assert.Equal(t, 0, driver.starts())

	require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))
	handle, err := guard.StartOutput(solidRed("HDMI-A-1"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", handle.RunId())
	assert.Equal(t, 1, driver.starts())

	_, err = guard.StartOutput(solidRed("HDMI-A-2"))
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestGuard_ReleaseStopsOutputBeforeReturning(t *testing.T) {
	ctx := context.Background()
	guard, driver, _ := newTestGuard(GuardParam{})

	require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))
	_, err := guard.StartOutput(solidRed("HDMI-A-1"))
	require.NoError(t, err)
	require.True(t, driver.last().running())

	require.NoError(t, guard.Release(ctx, "HDMI-A-1"))
	assert.False(t, driver.last().running())
	assert.Equal(t, 1, driver.stops())
	assert.False(t, guard.IsOwned("HDMI-A-1"))

	_, err = guard.StartOutput(solidRed("HDMI-A-1"))
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestGuard_StartReplacesPreviousOutput(t *testing.T) {
	ctx := context.Background()
	guard, driver, _ := newTestGuard(GuardParam{})
	require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))

	_, err := guard.StartOutput(solidRed("HDMI-A-1"))
	require.NoError(t, err)
	first := driver.last()

	_, err = guard.StartOutput(OutputRequest{Connector: "HDMI-A-1", Mode: config.PATTERN_MODE, Value: "smpte"})
	require.NoError(t, err)
	assert.False(t, first.running())
	assert.True(t, driver.last().running())
	assert.Equal(t, 2, driver.starts())

	require.NoError(t, guard.StopOutput("HDMI-A-1"))
	assert.False(t, driver.last().running())
	assert.NoError(t, guard.StopOutput("HDMI-A-2"))
}

func TestGuard_Protected(t *testing.T) {
	guard, _, _ := newTestGuard(GuardParam{Protected: []string{"DSI-1"}})
	err := guard.Take(context.Background(), "DSI-1", false)
	assert.ErrorIs(t, err, ErrProtected)
	assert.Empty(t, guard.Owned())
}

func TestGuard_HandoverStopsServiceOnceAndRestartsOnLastRelease(t *testing.T) {
	ctx := context.Background()
	guard, _, service := newTestGuard(GuardParam{HandoverAllowed: true})

	require.NoError(t, guard.Take(ctx, "HDMI-A-1", true))
	require.NoError(t, guard.Take(ctx, "HDMI-A-2", true))
	assert.Equal(t, []string{"stop lightdm"}, service.history())
	assert.True(t, guard.ServiceStopped())
	assert.Equal(t, []string{"HDMI-A-1", "HDMI-A-2"}, guard.Owned())

	require.NoError(t, guard.Release(ctx, "HDMI-A-1"))
	assert.Equal(t, []string{"stop lightdm"}, service.history())

	require.NoError(t, guard.Release(ctx, "HDMI-A-2"))
	assert.Equal(t, []string{"stop lightdm", "start lightdm"}, service.history())
	assert.False(t, guard.ServiceStopped())

	// Releasing again is harmless
	require.NoError(t, guard.Release(ctx, "HDMI-A-2"))
	assert.Len(t, service.history(), 2)
}

func TestGuard_HandoverFailures(t *testing.T) {
	ctx := context.Background()

	guard, _, _ := newTestGuard(GuardParam{HandoverAllowed: false})
	assert.ErrorIs(t, guard.Take(ctx, "HDMI-A-1", true), ErrHandoverNotAllowed)
	assert.Empty(t, guard.Owned())

	guard, _, service := newTestGuard(GuardParam{HandoverAllowed: true})
	service.failStop = true
	err := guard.Take(ctx, "HDMI-A-1", true)
	require.ErrorIs(t, err, ErrService)
	assert.Contains(t, err.Error(), "unit not loaded")
	assert.Empty(t, guard.Owned())
	assert.False(t, guard.ServiceStopped())
}

func TestGuard_ReleaseAll(t *testing.T) {
	ctx := context.Background()
	guard, driver, service := newTestGuard(GuardParam{HandoverAllowed: true})

	require.NoError(t, guard.Take(ctx, "HDMI-A-1", true))
	require.NoError(t, guard.Take(ctx, "HDMI-A-2", false))
	_, err := guard.StartOutput(solidRed("HDMI-A-1"))
	require.NoError(t, err)
	_, err = guard.StartOutput(solidRed("HDMI-A-2"))
	require.NoError(t, err)

	require.NoError(t, guard.ReleaseAll(ctx))
	assert.Empty(t, guard.Owned())
	assert.Equal(t, 2, driver.stops())
	assert.Equal(t, []string{"stop lightdm", "start lightdm"}, service.history())
}

func TestGuard_Events(t *testing.T) {
	ctx := context.Background()
	guard, _, _ := newTestGuard(GuardParam{})

	require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))
	require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))
	require.NoError(t, guard.Release(ctx, "HDMI-A-1"))

	require.Len(t, guard.EventChannel(), 2)
	taken := <-guard.EventChannel()
	assert.Equal(t, event.GuardEventTakenData{Connector: "HDMI-A-1"}, taken.Data)
	released := <-guard.EventChannel()
	assert.Equal(t, event.GuardEventReleasedData{Connector: "HDMI-A-1"}, released.Data)
}

func TestGuard_ConcurrentStartAndRelease(t *testing.T) {
	ctx := context.Background()
	guard, driver, _ := newTestGuard(GuardParam{})

	for i := 0; i < 50; i++ {
		require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = guard.StartOutput(solidRed("HDMI-A-1"))
		}()
		go func() {
			defer wg.Done()
			_ = guard.Release(ctx, "HDMI-A-1")
		}()
		wg.Wait()
		// Whatever the interleaving, nothing keeps running once released
		require.NoError(t, guard.Release(ctx, "HDMI-A-1"))
	}
	for _, h := range driver.handles {
		assert.False(t, h.running())
	}
}

func TestGuard_ProtectedAliases(t *testing.T) {
	ctx := context.Background()
	guard, driver := newSysfsGuard(t, GuardParam{Protected: []string{"HDMI-A-1"}})

	for _, alias := range []string{"HDMI-A-1", "card0-HDMI-A-1", "33"} {
		assert.ErrorIs(t, guard.Take(ctx, alias, false), ErrProtected, alias)
		assert.True(t, guard.IsProtected(alias), alias)
		_, err := guard.StartOutput(solidRed(alias))
		assert.ErrorIs(t, err, ErrNotOwned, alias)
	}
	assert.Empty(t, guard.Owned())
	assert.Equal(t, 0, driver.starts())
	assert.False(t, guard.IsProtected("HDMI-A-2"))

	// Protection configured by connector id
	guard, _ = newSysfsGuard(t, GuardParam{Protected: []string{"34"}})
	assert.ErrorIs(t, guard.Take(ctx, "card0-HDMI-A-2", false), ErrProtected)
	assert.NoError(t, guard.Take(ctx, "33", false))

	assert.ErrorIs(t, guard.Take(ctx, "HDMI-A-9", false), edid.ErrConnectorNotFound)
}

func TestGuard_AliasesShareOwnership(t *testing.T) {
	ctx := context.Background()
	guard, driver := newSysfsGuard(t, GuardParam{})

	require.NoError(t, guard.Take(ctx, "34", false))
	assert.Equal(t, []string{"card0-HDMI-A-2"}, guard.Owned())
	assert.True(t, guard.IsOwned("HDMI-A-2"))
	assert.False(t, guard.IsOwned("HDMI-A-1"))

	_, err := guard.StartOutput(solidRed("HDMI-A-2"))
	require.NoError(t, err)
	// The renderer gets the identifier it was asked for
	assert.Equal(t, "HDMI-A-2", driver.requests[0].Connector)

	_, err = guard.StartOutput(solidRed("card0-HDMI-A-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, driver.stops())

	require.NoError(t, guard.Release(ctx, "HDMI-A-2"))
	assert.False(t, driver.last().running())
	assert.Empty(t, guard.Owned())
}

func TestGuard_ServiceCallDoesNotBlockOutputs(t *testing.T) {
	ctx := context.Background()
	guard, driver, service := newTestGuard(GuardParam{HandoverAllowed: true})
	require.NoError(t, guard.Take(ctx, "HDMI-A-1", false))

	service.block = make(chan struct{})
	service.entered = make(chan string, 1)
	taken := make(chan error, 1)
	go func() {
		taken <- guard.Take(ctx, "HDMI-A-2", true)
	}()
	assert.Equal(t, "stop", <-service.entered)

	var startErr error
	require.True(t, returnsWithin(time.Second, func() {
		_, startErr = guard.StartOutput(solidRed("HDMI-A-1"))
	}), "StartOutput waited for the display manager")
	require.NoError(t, startErr)

	var owned []string
	require.True(t, returnsWithin(time.Second, func() {
		owned = guard.Owned()
	}), "Owned waited for the display manager")
	assert.Equal(t, []string{"HDMI-A-1"}, owned)
	assert.False(t, guard.ServiceStopped())

	close(service.block)
	require.NoError(t, <-taken)
	assert.Equal(t, []string{"HDMI-A-1", "HDMI-A-2"}, guard.Owned())
	assert.True(t, guard.ServiceStopped())
	assert.Equal(t, 1, driver.starts())
}

func TestGuard_ServiceCallTimeout(t *testing.T) {
	guard, _, service := newTestGuard(GuardParam{HandoverAllowed: true, ServiceTimeout: 50 * time.Millisecond})
	service.block = make(chan struct{})
	defer close(service.block)

	var err error
	require.True(t, returnsWithin(5*time.Second, func() {
		err = guard.Take(context.Background(), "HDMI-A-1", true)
	}))
	require.ErrorIs(t, err, ErrService)
	assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
	assert.Empty(t, guard.Owned())
	assert.False(t, guard.ServiceStopped())
}
