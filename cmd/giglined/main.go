package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/gigline/internal/daemon"
	"github.com/matheus3301/gigline/internal/profile"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

func main() {
	profileFlag := pflag.String("profile", "", "profile name (overrides config default)")
	configFlag := pflag.String("config", "", "config file (default ~/.gigline/config.toml)")
	pflag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, ConfigPath: *configFlag}),
	)

	app.Run()
}
