package bridge

import (
	"context"

	"github.com/goccy/go-yaml"
	"github.com/mattmelling/asl-zello-bridge/codec"
	"github.com/mattmelling/asl-zello-bridge/shared"
	"github.com/mattmelling/asl-zello-bridge/token"
	"github.com/mattmelling/asl-zello-bridge/usrp"
	"github.com/mattmelling/asl-zello-bridge/zello"
)

// Supervisor prints startup progress and owns the Controller for the
// process lifetime, reconnecting it is not its job — Session already
// reconnects internally; the Supervisor's job ends at "run until ctx
// is cancelled, report the outcome".
type Supervisor struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
}

// NewSupervisor returns a Supervisor that reports progress through printer.
func NewSupervisor(logger shared.LoggerAdapter, printer *shared.Printer) *Supervisor {
	return &Supervisor{logger: logger, printer: printer}
}

// Run builds the Controller's dependencies, prints the effective
// configuration, and runs the bridge until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context, usrpCfg usrp.Config, zelloCfg zello.Config, tokenSvc *token.Service, codecOpts codec.Options) error {
	sv.writeln("🌉 Starting ASL Zello bridge...")

	c, err := codec.New(codecOpts)
	if err != nil {
		sv.logger.Error("constructing Opus codec", err)
		sv.writeln("❌ Failed to construct Opus codec.")
		return err
	}
	sv.writeln("✅ Opus codec ready.")

	sv.writeln("📋 Effective configuration")
	sv.writeConfigYAML(usrpCfg, zelloCfg)

	ctrl, err := New(sv.logger, usrpCfg, zelloCfg, tokenSvc, c)
	if err != nil {
		sv.logger.Error("constructing bridge controller", err)
		sv.writeln("❌ Failed to bind USRP socket.")
		return err
	}
	sv.writeln("✅ USRP socket bound.")

	sv.writeln("🚀 Running bridge. Press Ctrl-C to stop.")
	err = ctrl.Run(ctx)
	if err != nil {
		sv.logger.Error("bridge run loop exited with error", err)
		sv.writeln("❌ Bridge exited with an error.")
		return err
	}
	sv.writeln("👋 Bridge shut down cleanly.")
	return nil
}

type effectiveConfig struct {
	USRP  usrp.Config `yaml:"usrp"`
	Zello struct {
		WSEndpoint string `yaml:"ws_endpoint"`
		Username   string `yaml:"username"`
		Channel    string `yaml:"channel"`
	} `yaml:"zello"`
}

func (sv *Supervisor) writeConfigYAML(usrpCfg usrp.Config, zelloCfg zello.Config) {
	cfg := effectiveConfig{USRP: usrpCfg}
	cfg.Zello.WSEndpoint = zelloCfg.WSEndpoint
	cfg.Zello.Username = zelloCfg.Username
	cfg.Zello.Channel = zelloCfg.Channel
	out, err := yaml.Marshal(cfg)
	if err != nil {
		sv.logger.Error("marshaling effective configuration", err)
		return
	}
	if err := sv.printer.Write(string(out), 1); err != nil {
		sv.logger.Error("printing effective configuration", err)
	}
}

func (sv *Supervisor) writeln(s string) {
	if err := sv.printer.Writeln(s, 0); err != nil {
		sv.logger.Error("printing startup message", err)
	}
}
