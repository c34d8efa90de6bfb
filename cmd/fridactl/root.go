package main

import (
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	frida "github.com/wippyai/frida-go"
	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/internal/config"
	"github.com/wippyai/frida-go/native/local"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *http.Server
	styles  styles
}

func newRootCmd() *cobra.Command {
	a := &app{
		v:   viper.New(),
		reg: prometheus.NewRegistry(),
		log: zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "fridactl",
		Short: "Inspect devices, processes and sessions of an instrumentation engine",
		Long: `fridactl talks to an in-process instrumentation engine configured from
fridactl.yaml, FRIDACTL_* environment variables and flags.

Examples:
  # List devices
  fridactl devices

  # List processes on a device
  fridactl ps -D local

  # Spawn and resume a program
  fridactl spawn /bin/cat --resume

  # Attach and load a WebAssembly script
  fridactl attach 1337 --script agent.wasm`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/fridactl/fridactl.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringP("device", "D", "", "device id (default is the first local device)")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	root.AddCommand(
		newDevicesCmd(a),
		newPsCmd(a),
		newSpawnCmd(a),
		newKillCmd(a),
		newAttachCmd(a),
		newUICmd(a),
	)
	return root
}

// setup loads configuration, installs the logger and starts the metrics endpoint.
func (a *app) setup(cmd *cobra.Command) error {
	config.SetDefaults(a.v)

	if cfgFile := a.v.GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("fridactl")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath("$HOME/.config/fridactl")
		a.v.AddConfigPath(".")
	}

	a.v.AutomaticEnv()
	a.v.SetEnvPrefix("FRIDACTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read configuration")
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.log = logger
	frida.SetLogger(logger)

	a.styles = newStyles(isTerminal(cmd.OutOrStdout()))

	if cfg.Metrics.Addr != "" {
		return a.serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func (a *app) teardown() {
	if a.metrics != nil {
		_ = a.metrics.Close()
		a.metrics = nil
	}
	_ = a.log.Sync()
}

// newLogger builds a zap logger from the log section.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "metrics.addr")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metrics = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// inventory is an open manager and the devices it enumerated.
type inventory struct {
	mgr     *frida.Manager
	devices []*frida.Device
}

// connect starts an engine from the configuration and enumerates its devices.
func (a *app) connect() (*inventory, error) {
	lib := local.New(a.cfg.LocalConfig())
	rt := bridge.NewRuntime(lib, bridge.WithMetrics(bridge.NewMetrics(a.reg)))

	mgr, err := frida.NewManager(lib, frida.WithRuntime(rt), frida.WithRegisterer(a.reg))
	if err != nil {
		return nil, err
	}
	devices, err := mgr.EnumerateDevices()
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return &inventory{mgr: mgr, devices: devices}, nil
}

// find returns the device with id, or the first local device when id is empty.
func (inv *inventory) find(id string) (*frida.Device, error) {
	for _, d := range inv.devices {
		if id == "" {
			if t, err := d.Type(); err == nil && t == frida.DeviceTypeLocal {
				return d, nil
			}
			continue
		}
		if did, err := d.ID(); err == nil && did == id {
			return d, nil
		}
	}
	if id == "" {
		return nil, errors.NotFound(errors.PhaseCall, "device", "local")
	}
	return nil, errors.NotFound(errors.PhaseCall, "device", id)
}

// Close closes every device and then the manager. The engine shuts down with the
// last of them.
func (inv *inventory) Close() {
	for _, d := range inv.devices {
		_ = d.Close()
	}
	_ = inv.mgr.Close()
}
