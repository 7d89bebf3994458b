// Package manager composes the EDID codec, transports and store into the
// read / validate / save / write / compare workflows.
package manager

import (
	"context"
	"fmt"
	"sort"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/store"
	"github.com/sirupsen/logrus"
)

type Manager struct {
	transports       map[string]edid.Transport
	defaultTransport string
	store            *store.Store
	verifyByDefault  bool
}

// New registers the transports by name; the first one is the default.
func New(store *store.Store, verifyByDefault bool, transports ...edid.Transport) *Manager {
	m := &Manager{
		transports:      make(map[string]edid.Transport),
		store:           store,
		verifyByDefault: verifyByDefault,
	}
	for _, t := range transports {
		if m.defaultTransport == "" {
			m.defaultTransport = t.Name()
		}
		m.transports[t.Name()] = t
	}
	return m
}

func (m *Manager) Store() *store.Store {
	return m.store
}

func (m *Manager) TransportNames() []string {
	names := make([]string, 0, len(m.transports))
	for name := range m.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) transport(name string) (edid.Transport, error) {
	if name == "" {
		name = m.defaultTransport
	}
	t, ok := m.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q", edid.ErrUnsupported, name)
	}
	return t, nil
}

type ReadRequest struct {
	Transport string
	Target    string
	Options   edid.ReadOptions
}

type Report struct {
	*edid.ReadResult
	Info  *edid.Info `json:"info,omitempty"`
	Hash  string     `json:"hash"`
	Error string     `json:"error,omitempty"`
}

func (m *Manager) Read(ctx context.Context, req ReadRequest) (*edid.ReadResult, error) {
	t, err := m.transport(req.Transport)
	if err != nil {
		return nil, err
	}
	reader, ok := t.(edid.Reader)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot read", edid.ErrUnsupported, t.Name())
	}
	return reader.ReadEdid(ctx, req.Target, req.Options)
}

// ReadConnector reads the EDID a DRM connector exposes, with a validation verdict.
func (m *Manager) ReadConnector(ctx context.Context, connector string) (*edid.ReadResult, error) {
	return m.Read(ctx, ReadRequest{
		Transport: "drm",
		Target:    connector,
		Options:   edid.ReadOptions{Validate: true},
	})
}

func (m *Manager) Validate(data []byte) error {
	if len(data) >= len(edid.Header) && !edid.HasHeader(data) {
		return edid.ErrBadHeader
	}
	return edid.Validate(data)
}

func (m *Manager) Decode(data []byte) (*edid.Info, error) {
	return edid.DecodeBasic(data)
}

// Inspect decodes and validates data in one report, keeping the validation
// failure as a verdict. result itself is left untouched.
func (m *Manager) Inspect(result *edid.ReadResult) *Report {
	verdict := *result
	report := &Report{ReadResult: &verdict, Hash: store.Hash(result.Data)}
	if info, err := edid.DecodeBasic(result.Data); err == nil {
		report.Info = info
	}
	if err := m.Validate(result.Data); err != nil {
		report.Valid = false
		report.Error = err.Error()
	}
	return report
}

func (m *Manager) Save(data []byte, name string, opts store.SaveOptions) (string, error) {
	return m.store.Save(data, name, opts)
}

func (m *Manager) FindMatches(data []byte) ([]store.Match, error) {
	return m.store.FindMatches(data)
}

func (m *Manager) ListSaved() ([]store.Entry, error) {
	return m.store.List()
}

func (m *Manager) Compare(a, b []byte) edid.Comparison {
	return edid.Compare(a, b)
}

type WriteRequest struct {
	Transport string
	Target    string
	// Verify nil uses the configured default.
	Verify *bool
	Force  bool
}

func (m *Manager) Write(ctx context.Context, data []byte, req WriteRequest) (*edid.WriteResult, error) {
	if len(data) < edid.BlockSize {
		return nil, &edid.WriteError{Target: req.Target, Err: fmt.Errorf("%w: %d bytes", edid.ErrTooShort, len(data))}
	}
	t, err := m.transport(req.Transport)
	if err != nil {
		return nil, err
	}
	writer, ok := t.(edid.Writer)
	if !ok {
		return nil, &edid.WriteError{Target: req.Target, Err: fmt.Errorf("%w: %s cannot write", edid.ErrUnsupported, t.Name())}
	}

	verify := m.verifyByDefault
	if req.Verify != nil {
		verify = *req.Verify
	}
	if req.Force {
		logrus.Warnf("Forced EDID write on %s:%s, validation skipped", t.Name(), req.Target)
	}
	return writer.WriteEdid(ctx, req.Target, data, edid.WriteOptions{Verify: verify, Force: req.Force})
}

// WriteSaved writes a stored EDID file.
func (m *Manager) WriteSaved(ctx context.Context, filename string, req WriteRequest) (*edid.WriteResult, error) {
	data, err := m.store.Load(filename)
	if err != nil {
		return nil, err
	}
	return m.Write(ctx, data, req)
}

type Identification struct {
	Report  *Report       `json:"report"`
	Matches []store.Match `json:"matches"`
}

// Identify reads a target and looks its EDID up in the store.
func (m *Manager) Identify(ctx context.Context, req ReadRequest) (*Identification, error) {
	result, err := m.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	matches, err := m.store.FindMatches(result.Data)
	if err != nil {
		return nil, err
	}
	return &Identification{Report: m.Inspect(result), Matches: matches}, nil
}

// Discover lists the targets of every transport able to discover them.
// A failing transport is logged and reported empty.
func (m *Manager) Discover(ctx context.Context) map[string][]string {
	found := make(map[string][]string)
	for _, name := range m.TransportNames() {
		discoverer, ok := m.transports[name].(edid.Discoverer)
		if !ok {
			continue
		}
		targets, err := discoverer.Discover(ctx)
		if err != nil {
			logrus.Warnf("Discovery failed on %s: %v", name, err)
			targets = []string{}
		}
		found[name] = targets
	}
	return found
}
