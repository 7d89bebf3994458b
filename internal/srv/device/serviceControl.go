package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ServiceController starts and stops an OS service. Both calls are
// idempotent on the service side.
type ServiceController interface {
	StartService(ctx context.Context, name string) error
	StopService(ctx context.Context, name string) error
}

// SystemctlController drives systemd units, through "sudo -n" when the
// service account is not allowed to manage units itself.
type SystemctlController struct {
	useSudo bool
}

func NewSystemctlController(useSudo bool) *SystemctlController {
	return &SystemctlController{useSudo: useSudo}
}

func (c *SystemctlController) StartService(ctx context.Context, name string) error {
	return c.systemctl(ctx, "start", name)
}

func (c *SystemctlController) StopService(ctx context.Context, name string) error {
	return c.systemctl(ctx, "stop", name)
}

func (c *SystemctlController) Command(action string, name string) []string {
	argv := []string{"systemctl", action, name}
	if c.useSudo {
		argv = append([]string{"sudo", "-n"}, argv...)
	}
	return argv
}

func (c *SystemctlController) systemctl(ctx context.Context, action string, name string) error {
	argv := c.Command(action, name)
	logrus.Infof("Run %s", strings.Join(argv, " "))
	output, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s failed: %w: %s", action, name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// SimulatedServiceController only logs, for simulation mode.
type SimulatedServiceController struct{}

func (SimulatedServiceController) StartService(ctx context.Context, name string) error {
	logrus.Infof("[simulation] start service %s", name)
	return nil
}

func (SimulatedServiceController) StopService(ctx context.Context, name string) error {
	logrus.Infof("[simulation] stop service %s", name)
	return nil
}
