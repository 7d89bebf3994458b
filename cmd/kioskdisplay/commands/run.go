package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jypelle/kioskdisplay/internal/srv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Create kioskdisplay server, configuration errors are fatal
			serverApp := srv.NewServerApp(opts.configDir, opts.debugMode, opts.simulationMode)

			// Listen stop signal
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

			serverApp.Start()

			sig := <-ch
			logrus.Infof("Received signal: %v", sig)
			serverApp.Stop()
			return nil
		},
	}
}
