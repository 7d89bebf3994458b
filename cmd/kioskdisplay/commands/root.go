package commands

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jypelle/kioskdisplay/internal/edid/drm"
	"github.com/jypelle/kioskdisplay/internal/edid/manager"
	"github.com/jypelle/kioskdisplay/internal/srv"
	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/jypelle/kioskdisplay/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const configSuffix = "kioskdisplay"

type globalOptions struct {
	configDir      string
	debugMode      bool
	simulationMode bool
}

func defaultConfigDir() string {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "./." + configSuffix
	}
	return filepath.Join(userConfigDir, configSuffix)
}

func (o *globalOptions) loadConfig() (*config.ServerConfig, error) {
	return config.LoadServerConfig(o.configDir, o.debugMode, o.simulationMode)
}

func (o *globalOptions) edidManager() (*manager.Manager, *drm.Transport, error) {
	serverConfig, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	drmTransport := drm.NewTransport(serverConfig.DrmRoot, serverConfig.OverrideAttribute)
	return srv.NewEdidManager(serverConfig, drmTransport), drmTransport, nil
}

// NewRootCmd builds the kioskdisplay command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "kioskdisplay",
		Short: "Kiosk display output and EDID manager",
		Long: `kioskdisplay drives the video outputs of a kiosk device.

It reads, validates, stores and writes display EDID data through the DRM
sysfs interface or the DDC I2C bus, and runs a server that keeps a test
pattern, solid color or screensaver renderer running on an owned connector.`,
		Version: version.Full(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debugMode {
				logrus.SetLevel(logrus.DebugLevel)
				logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
				logrus.Debugf("Debug mode activated")
			}
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configDir, "config", "c", defaultConfigDir(), "Location of kioskdisplay config folder")
	rootCmd.PersistentFlags().BoolVarP(&opts.debugMode, "debug", "d", false, "Enable debug mode")
	rootCmd.PersistentFlags().BoolVarP(&opts.simulationMode, "simulation", "s", false, "Enable simulation mode")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newVersionCmd(),
		newConnectorsCmd(opts),
		newTargetsCmd(opts),
		newEdidCmd(opts),
	)
	return rootCmd
}
