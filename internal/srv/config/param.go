package config

import (
	_ "embed"
	"fmt"
	"time"
)

//go:embed param_default.yaml
var ParamDefaultFile []byte

type ServerParam struct {
	DrmRoot             string              `yaml:"drm_root"`
	OverrideAttribute   string              `yaml:"override_attribute"`
	EdidDir             string              `yaml:"edid_dir"`
	DdcParam            DdcParam            `yaml:"ddc"`
	WorkerParam         WorkerParam         `yaml:"worker"`
	OutputParam         OutputParam         `yaml:"output"`
	DisplayManagerParam DisplayManagerParam `yaml:"display_manager"`
	PanelParam          PanelParam          `yaml:"panel"`
	ApiParam            ApiParam            `yaml:"api"`
}

type DdcParam struct {
	PacingMs int64 `yaml:"pacing_ms"`
	Verify   bool  `yaml:"verify"`
}

func (p DdcParam) Pacing() time.Duration {
	return time.Duration(p.PacingMs) * time.Millisecond
}

type WorkerParam struct {
	PollMs        int64 `yaml:"poll_ms"`
	StopTimeoutMs int64 `yaml:"stop_timeout_ms"`
	RetryMs       int64 `yaml:"retry_ms"`
}

func (p WorkerParam) PollInterval() time.Duration {
	return time.Duration(p.PollMs) * time.Millisecond
}

func (p WorkerParam) StopTimeout() time.Duration {
	return time.Duration(p.StopTimeoutMs) * time.Millisecond
}

func (p WorkerParam) RetryDelay() time.Duration {
	return time.Duration(p.RetryMs) * time.Millisecond
}

// OutputParam holds the argv template of the renderer of every mode. Templates
// see .Connector, .Mode and .Value.
type OutputParam struct {
	Commands  map[Mode][]string `yaml:"commands"`
	Protected []string          `yaml:"protected"`
}

type DisplayManagerParam struct {
	Service   string `yaml:"service"`
	Handover  bool   `yaml:"handover"`
	UseSudo   bool   `yaml:"use_sudo"`
	TimeoutMs int64  `yaml:"timeout_ms"`
}

// Timeout bounds one start or stop of the display manager.
func (p DisplayManagerParam) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

type PanelParam struct {
	Enabled bool   `yaml:"enabled"`
	Bus     string `yaml:"bus"`
}

type ApiParam struct {
	Enabled bool   `yaml:"enabled"`
	SslPort int64  `yaml:"ssl_port"`
	ApiKey  string `yaml:"api_key"`
}

func (p *ServerParam) Validate() error {
	if p.DdcParam.PacingMs <= 0 {
		return fmt.Errorf("ddc.pacing_ms must be positive, got %d", p.DdcParam.PacingMs)
	}
	if p.WorkerParam.PollMs <= 0 {
		return fmt.Errorf("worker.poll_ms must be positive, got %d", p.WorkerParam.PollMs)
	}
	if p.WorkerParam.StopTimeoutMs <= 0 {
		return fmt.Errorf("worker.stop_timeout_ms must be positive, got %d", p.WorkerParam.StopTimeoutMs)
	}
	if p.WorkerParam.RetryMs < 0 {
		return fmt.Errorf("worker.retry_ms must not be negative, got %d", p.WorkerParam.RetryMs)
	}
	for mode, argv := range p.OutputParam.Commands {
		if !mode.IsOutput() {
			return fmt.Errorf("output.commands: unknown mode %q", mode)
		}
		if len(argv) == 0 {
			return fmt.Errorf("output.commands.%s is empty", mode)
		}
	}
	if p.DisplayManagerParam.TimeoutMs <= 0 {
		return fmt.Errorf("display_manager.timeout_ms must be positive, got %d", p.DisplayManagerParam.TimeoutMs)
	}
	if p.DisplayManagerParam.Handover && p.DisplayManagerParam.Service == "" {
		return fmt.Errorf("display_manager.service is required when handover is enabled")
	}
	if p.ApiParam.Enabled && p.ApiParam.ApiKey == "" {
		return fmt.Errorf("api.api_key is required when the api is enabled")
	}
	return nil
}
