// Package drm reads EDID data and connector state from the DRM sysfs tree
// (/sys/class/drm/card0-HDMI-A-1/{status,edid,connector_id,ddc}).
package drm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRoot              = "/sys/class/drm"
	DefaultOverrideAttribute = "edid_override"

	edidAttribute   = "edid"
	statusAttribute = "status"
	idAttribute     = "connector_id"
)

type Connector struct {
	Name        string `json:"name"`
	Card        string `json:"card"`
	ConnectorId *int   `json:"connector_id,omitempty"`
	Connected   bool   `json:"connected"`
	EdidPresent bool   `json:"edid_present"`
	SysfsPath   string `json:"sysfs_path"`
}

type Transport struct {
	root              string
	overrideAttribute string
}

func NewTransport(root string, overrideAttribute string) *Transport {
	if root == "" {
		root = DefaultRoot
	}
	if overrideAttribute == "" {
		overrideAttribute = DefaultOverrideAttribute
	}
	return &Transport{root: root, overrideAttribute: overrideAttribute}
}

func (t *Transport) Name() string {
	return "drm"
}

func (t *Transport) Root() string {
	return t.root
}

// Read returns the content of an EDID attribute file.
func Read(path string) ([]byte, error) {
	source := "drm:" + path
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &edid.ReadError{Source: source, Err: fmt.Errorf("%w: %s", edid.ErrConnectorNotFound, path)}
		}
		return nil, &edid.ReadError{Source: source, Err: err}
	}
	if len(data) == 0 {
		return nil, &edid.ReadError{Source: source, Err: edid.ErrNotConnected}
	}
	if len(data) < edid.BlockSize {
		return nil, &edid.ReadError{Source: source, Err: fmt.Errorf("%w: %d bytes", edid.ErrTooShort, len(data))}
	}
	if !edid.HasHeader(data) {
		return nil, &edid.ReadError{Source: source, Err: edid.ErrBadHeader}
	}
	return data, nil
}

// ListConnectors scans the DRM root for cardN-<connector> entries, sorted by
// name. A missing root yields an empty list.
func (t *Transport) ListConnectors() ([]Connector, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Connector{}, nil
		}
		return nil, fmt.Errorf("unable to scan %s: %w", t.root, err)
	}

	connectors := []Connector{}
	for _, entry := range entries {
		card, name, ok := splitEntryName(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(t.root, entry.Name())
		connector := Connector{
			Name:      name,
			Card:      card,
			SysfsPath: path,
		}
		if status, err := os.ReadFile(filepath.Join(path, statusAttribute)); err == nil {
			connector.Connected = strings.TrimSpace(string(status)) == "connected"
		}
		if info, err := os.Stat(filepath.Join(path, edidAttribute)); err == nil {
			// sysfs reports 0 for binary attributes: the content decides.
			if info.Size() > 0 {
				connector.EdidPresent = true
			} else if data, err := os.ReadFile(filepath.Join(path, edidAttribute)); err == nil {
				connector.EdidPresent = len(data) > 0
			}
		}
		if raw, err := os.ReadFile(filepath.Join(path, idAttribute)); err == nil {
			if id, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
				connector.ConnectorId = &id
			}
		}
		connectors = append(connectors, connector)
	}

	sort.Slice(connectors, func(i, j int) bool {
		if connectors[i].Name == connectors[j].Name {
			return connectors[i].Card < connectors[j].Card
		}
		return connectors[i].Name < connectors[j].Name
	})
	return connectors, nil
}

// "card0-HDMI-A-1" -> ("card0", "HDMI-A-1")
func splitEntryName(entry string) (string, string, bool) {
	if !strings.HasPrefix(entry, "card") {
		return "", "", false
	}
	idx := strings.IndexByte(entry, '-')
	if idx < 0 || idx == len(entry)-1 {
		return "", "", false
	}
	return entry[:idx], entry[idx+1:], true
}

// FullName is the sysfs entry name, unique across cards.
func (c Connector) FullName() string {
	return c.Card + "-" + c.Name
}

// Aliases lists every identifier Lookup resolves to c.
func (c Connector) Aliases() []string {
	aliases := []string{c.Name, c.FullName()}
	if c.ConnectorId != nil {
		aliases = append(aliases, strconv.Itoa(*c.ConnectorId))
	}
	return aliases
}

func (c Connector) matches(name string) bool {
	for _, alias := range c.Aliases() {
		if alias == name {
			return true
		}
	}
	return false
}

// Lookup finds the single connector named name. "HDMI-A-1",
// "card0-HDMI-A-1" and the numeric connector_id are accepted.
func (t *Transport) Lookup(name string) (*Connector, error) {
	connectors, err := t.ListConnectors()
	if err != nil {
		return nil, err
	}
	var found []Connector
	for _, c := range connectors {
		if c.matches(name) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", edid.ErrConnectorNotFound, name)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d cards", edid.ErrAmbiguousConnector, name, len(found))
	}
}

func (t *Transport) ReadEdid(ctx context.Context, target string, opts edid.ReadOptions) (*edid.ReadResult, error) {
	connector, err := t.Lookup(target)
	if err != nil {
		return nil, &edid.ReadError{Source: "drm:" + target, Err: err}
	}
	data, err := Read(filepath.Join(connector.SysfsPath, edidAttribute))
	if err != nil {
		return nil, err
	}
	if opts.Length > 0 && len(data) > opts.Length {
		data = data[:opts.Length]
	}

	result := &edid.ReadResult{
		Transport: t.Name(),
		Target:    connector.Name,
		Data:      data,
		Valid:     true,
	}
	if opts.Validate {
		if err := edid.Validate(data); err != nil {
			if opts.Strict {
				return nil, &edid.ReadError{Source: "drm:" + connector.Name, Err: err}
			}
			result.Valid = false
			result.ValidationError = err.Error()
		}
	}
	logrus.Debugf("Read %d EDID bytes from DRM connector %s", len(data), connector.Name)
	return result, nil
}

// WriteEdid writes the override attribute of the connector. Verification
// reads the regular EDID attribute back.
func (t *Transport) WriteEdid(ctx context.Context, target string, data []byte, opts edid.WriteOptions) (*edid.WriteResult, error) {
	if err := edid.CheckWritable(data, opts.Force); err != nil {
		return nil, &edid.WriteError{Target: "drm:" + target, Err: err}
	}
	connector, err := t.Lookup(target)
	if err != nil {
		return nil, &edid.WriteError{Target: "drm:" + target, Err: err}
	}
	if err := t.WriteOverride(connector.SysfsPath, data); err != nil {
		return nil, err
	}

	result := &edid.WriteResult{
		Transport:    t.Name(),
		Target:       connector.Name,
		BytesWritten: len(data),
		Forced:       opts.Force,
	}
	if opts.Verify {
		// Raw content: an empty or damaged readback is a mismatch, not a read failure
		readback, err := os.ReadFile(filepath.Join(connector.SysfsPath, edidAttribute))
		if err != nil {
			return nil, &edid.WriteError{Target: "drm:" + connector.Name, Err: fmt.Errorf("readback failed: %w", err)}
		}
		if cmp := edid.Compare(data, readback); !cmp.Equal {
			return nil, &edid.WriteError{Target: "drm:" + connector.Name, Diffs: cmp.Diffs, Err: edid.ErrVerifyMismatch}
		}
		result.Verified = true
	}
	logrus.Infof("EDID override written on DRM connector %s (%d bytes)", connector.Name, len(data))
	return result, nil
}

// WriteOverride writes data to the override attribute of connectorPath.
// A missing attribute, a permission failure and any other I/O failure are
// reported with distinct errors.
func (t *Transport) WriteOverride(connectorPath string, data []byte) error {
	path := filepath.Join(connectorPath, t.overrideAttribute)
	target := "drm:" + path

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return &edid.WriteError{Target: target, Err: edid.ErrOverrideUnsupported}
		case errors.Is(err, fs.ErrPermission):
			return &edid.WriteError{Target: target, Err: fmt.Errorf("%w: %v", edid.ErrPermission, err)}
		}
		return &edid.WriteError{Target: target, Err: err}
	}

	_, err = f.Write(data)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &edid.WriteError{Target: target, Err: fmt.Errorf("%w: %v", edid.ErrPermission, err)}
		}
		return &edid.WriteError{Target: target, Err: err}
	}
	return nil
}

// Discover lists the connectors currently exposing an EDID.
func (t *Transport) Discover(ctx context.Context) ([]string, error) {
	connectors, err := t.ListConnectors()
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, c := range connectors {
		if c.Connected && c.EdidPresent {
			names = append(names, c.Name)
		}
	}
	return names, nil
}
