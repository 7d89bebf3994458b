package main

import (
	"os"

	"github.com/jypelle/kioskdisplay/cmd/kioskdisplay/commands"
	"github.com/sirupsen/logrus"
)

func main() {

	// Logger
	logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true})

	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
