package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jypelle/kioskdisplay/internal/edid/drm"
	"github.com/jypelle/kioskdisplay/internal/srv/event"
	"github.com/sirupsen/logrus"
)

var (
	ErrProtected          = errors.New("connector is protected")
	ErrNotOwned           = errors.New("connector not owned")
	ErrService            = errors.New("display manager service control failed")
	ErrHandoverNotAllowed = errors.New("display manager handover not allowed")
)

const defaultServiceTimeout = 30 * time.Second

// outputSlot holds the renderer of one connector. Its lock serializes
// stop-then-start sequences on the connector.
type outputSlot struct {
	lock    sync.Mutex
	request OutputRequest
	handle  OutputHandle
}

func (s *outputSlot) stop() error {
	if s.handle == nil {
		return nil
	}
	err := s.handle.Stop()
	s.handle = nil
	s.request = OutputRequest{}
	return err
}

type GuardParam struct {
	Protected       []string
	Service         string
	HandoverAllowed bool
	ServiceTimeout  time.Duration
}

// ConnectorResolver maps any identifier of a connector (name, card-prefixed
// name, connector id) to the connector.
type ConnectorResolver interface {
	Lookup(name string) (*drm.Connector, error)
}

// ConnectorGuard controls which connectors this process may draw on. A
// renderer is only started on a connector that was taken first.
// Connectors are keyed by their card-prefixed name whatever identifier the
// caller used.
type ConnectorGuard struct {
	lock     sync.Mutex
	driver   OutputDriver
	service  ServiceController
	resolver ConnectorResolver
	param    GuardParam

	protected      map[string]bool
	owned          map[string]bool
	slots          map[string]*outputSlot
	serviceStopped bool

	// serviceLock serializes display manager transitions, lock is never held
	// while systemctl runs
	serviceLock sync.Mutex

	eventChannel chan event.GuardEvent
}

// NewConnectorGuard builds a guard. Without resolver, connector names are
// used as given.
func NewConnectorGuard(driver OutputDriver, service ServiceController, resolver ConnectorResolver, param GuardParam) *ConnectorGuard {
	if param.ServiceTimeout <= 0 {
		param.ServiceTimeout = defaultServiceTimeout
	}
	guard := &ConnectorGuard{
		driver:       driver,
		service:      service,
		resolver:     resolver,
		param:        param,
		protected:    make(map[string]bool),
		owned:        make(map[string]bool),
		slots:        make(map[string]*outputSlot),
		eventChannel: make(chan event.GuardEvent, 16),
	}
	for _, connector := range param.Protected {
		guard.protected[connector] = true
	}
	return guard
}

func (g *ConnectorGuard) EventChannel() chan event.GuardEvent {
	return g.eventChannel
}

func (g *ConnectorGuard) sendEvent(e event.GuardEvent) {
	select {
	case g.eventChannel <- e:
	default:
		logrus.Debugf("Guard event dropped: %T", e.Data)
	}
}

// resolve returns the ownership key of connector and every identifier it is
// known by.
func (g *ConnectorGuard) resolve(connector string) (string, []string, error) {
	if g.resolver == nil {
		return connector, []string{connector}, nil
	}
	c, err := g.resolver.Lookup(connector)
	if err != nil {
		return "", nil, err
	}
	return c.FullName(), c.Aliases(), nil
}

// key is resolve for callers that only give back: an identifier that no
// longer resolves is used as is.
func (g *ConnectorGuard) key(connector string) string {
	key, _, err := g.resolve(connector)
	if err != nil {
		return connector
	}
	return key
}

func (g *ConnectorGuard) isProtected(aliases []string) bool {
	for _, alias := range aliases {
		if g.protected[alias] {
			return true
		}
	}
	return false
}

// IsProtected tells whether connector, under any of its identifiers, is
// configured as protected.
func (g *ConnectorGuard) IsProtected(connector string) bool {
	_, aliases, err := g.resolve(connector)
	if err != nil {
		return g.protected[connector]
	}
	return g.isProtected(aliases)
}

// Take marks connector as owned. With handover, the display manager is
// stopped first, once for all the connectors taken.
func (g *ConnectorGuard) Take(ctx context.Context, connector string, handover bool) error {
	key, aliases, err := g.resolve(connector)
	if err != nil {
		return err
	}
	if g.isProtected(aliases) {
		return fmt.Errorf("%w: %s", ErrProtected, connector)
	}
	if handover {
		if !g.param.HandoverAllowed {
			return ErrHandoverNotAllowed
		}
		// Held until the connector is owned, so no release restarts the
		// display manager in between
		g.serviceLock.Lock()
		defer g.serviceLock.Unlock()
		if err := g.stopService(ctx); err != nil {
			return err
		}
	}

	g.lock.Lock()
	defer g.lock.Unlock()
	if !g.owned[key] {
		g.owned[key] = true
		logrus.Infof("Connector %s taken", key)
		g.sendEvent(event.GuardEvent{Data: event.GuardEventTakenData{Connector: key, Handover: handover}})
	}
	return nil
}

// stopService is called with serviceLock held.
func (g *ConnectorGuard) stopService(ctx context.Context) error {
	if g.ServiceStopped() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.param.ServiceTimeout)
	defer cancel()
	if err := g.service.StopService(ctx, g.param.Service); err != nil {
		return fmt.Errorf("%w: %v", ErrService, err)
	}

	g.lock.Lock()
	g.serviceStopped = true
	g.lock.Unlock()
	logrus.Infof("Display manager %s stopped", g.param.Service)
	return nil
}

// restartServiceIfIdle gives the display back to the display manager when no
// connector is owned anymore.
func (g *ConnectorGuard) restartServiceIfIdle(ctx context.Context) error {
	g.serviceLock.Lock()
	defer g.serviceLock.Unlock()

	g.lock.Lock()
	idle := len(g.owned) == 0 && g.serviceStopped
	g.lock.Unlock()
	if !idle {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.param.ServiceTimeout)
	defer cancel()
	if err := g.service.StartService(ctx, g.param.Service); err != nil {
		return fmt.Errorf("%w: %v", ErrService, err)
	}

	g.lock.Lock()
	g.serviceStopped = false
	g.lock.Unlock()
	logrus.Infof("Display manager %s restarted", g.param.Service)
	return nil
}

// Release stops the renderer of connector before giving it back. The display
// manager is restarted when the last owned connector is released.
func (g *ConnectorGuard) Release(ctx context.Context, connector string) error {
	key := g.key(connector)

	g.lock.Lock()
	wasOwned := g.owned[key]
	delete(g.owned, key)
	slot := g.slots[key]
	g.lock.Unlock()

	var stopErr error
	if slot != nil {
		slot.lock.Lock()
		stopErr = slot.stop()
		slot.lock.Unlock()
		if stopErr != nil {
			logrus.Errorf("Unable to stop renderer of %s: %v", key, stopErr)
		}
	}

	if wasOwned {
		logrus.Infof("Connector %s released", key)
		g.sendEvent(event.GuardEvent{Data: event.GuardEventReleasedData{Connector: key}})
	}

	if err := g.restartServiceIfIdle(ctx); err != nil {
		return err
	}
	return stopErr
}

// StartOutput replaces the renderer of req.Connector. The ownership check
// and the start happen without a release in between.
func (g *ConnectorGuard) StartOutput(req OutputRequest) (OutputHandle, error) {
	key, _, err := g.resolve(req.Connector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotOwned, err)
	}

	g.lock.Lock()
	if !g.owned[key] {
		g.lock.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotOwned, req.Connector)
	}
	slot, ok := g.slots[key]
	if !ok {
		slot = &outputSlot{}
		g.slots[key] = slot
	}
	slot.lock.Lock()
	g.lock.Unlock()
	defer slot.lock.Unlock()

	if err := slot.stop(); err != nil {
		logrus.Errorf("Unable to stop previous renderer of %s: %v", req.Connector, err)
	}

	handle, err := g.driver.Start(req)
	if err != nil {
		return nil, err
	}
	slot.request = req
	slot.handle = handle
	return handle, nil
}

// StopOutput stops the renderer of connector, if any.
func (g *ConnectorGuard) StopOutput(connector string) error {
	key := g.key(connector)

	g.lock.Lock()
	slot := g.slots[key]
	g.lock.Unlock()

	if slot == nil {
		return nil
	}
	slot.lock.Lock()
	defer slot.lock.Unlock()
	return slot.stop()
}

func (g *ConnectorGuard) IsOwned(connector string) bool {
	key := g.key(connector)

	g.lock.Lock()
	defer g.lock.Unlock()
	return g.owned[key]
}

func (g *ConnectorGuard) Owned() []string {
	g.lock.Lock()
	defer g.lock.Unlock()

	owned := make([]string, 0, len(g.owned))
	for connector := range g.owned {
		owned = append(owned, connector)
	}
	sort.Strings(owned)
	return owned
}

func (g *ConnectorGuard) ServiceStopped() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.serviceStopped
}

// ReleaseAll gives every connector back, used on shutdown. A handover with
// no connector taken is undone too.
func (g *ConnectorGuard) ReleaseAll(ctx context.Context) error {
	var lastErr error
	for _, connector := range g.Owned() {
		if err := g.Release(ctx, connector); err != nil {
			lastErr = err
		}
	}
	if err := g.restartServiceIfIdle(ctx); err != nil {
		return err
	}
	return lastErr
}
