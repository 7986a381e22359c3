package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"printlink/internal/config"
	"printlink/internal/host"
	"printlink/internal/logging"
	"printlink/internal/netscan"
	"printlink/internal/printer"
	"printlink/internal/registry"
	"printlink/internal/sgd"
	"printlink/internal/transport"
)

const (
	AppVersion = "0.3.0"
	AppName    = "printlink"
)

// App holds everything a subcommand needs.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	svc      *printer.Service
	monitor  printer.LinkMonitor
	registry *registry.Registry
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, a *App, args []string) error
}

// commands is populated in init to break the initialization cycle through
// flagSet, which itself looks up usage strings in this table.
var commands []command

func init() {
	commands = []command{
		{"discover", "[--kind bluetooth|network|serial]", "scan for printers", runDiscover},
		{"paired", "", "list printers paired with this host", runPaired},
		{"pair", "[-w DURATION] ADDRESS", "pair with a Bluetooth printer", runPair},
		{"unpair", "ADDRESS", "remove a Bluetooth pairing", runUnpair},
		{"send", "[--encoding NAME] ADDRESS FILE|-", "send a label file to a printer", runSend},
		{"query", "ADDRESS SETTING...", "read printer settings", runQuery},
		{"info", "ADDRESS", "show model, serial number and firmware", runInfo},
		{"status", "ADDRESS", "show paper, head and pause state", runStatus},
		{"devices", "[alias ADDRESS NAME | forget ADDRESS]", "list or edit remembered printers", runDevices},
		{"shell", "", "interactive session holding a connection open", runShell},
	}
}

func main() {
	global := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", "", "config file (default: search printlink.yaml)")
	logLevel := global.StringP("log-level", "l", "", "override log.level")
	showVersion := global.BoolP("version", "v", false, "print version and exit")
	global.Usage = func() { usage(global) }

	if err := global.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *showVersion || global.Arg(0) == "version" {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		return
	}
	if global.NArg() == 0 {
		usage(global)
		os.Exit(2)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == global.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", AppName, global.Arg(0))
		usage(global)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	log, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: logging: %v\n", AppName, err)
		os.Exit(1)
	}
	defer log.Sync()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, a, global.Args()[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s %s: %s\n", AppName, cmd.name, describe(err))
		}
		a.Close()
		os.Exit(1)
	}
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "%s v%s - label printer connection tool\n\n", AppName, AppVersion)
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] COMMAND [args]\n\nCommands:\n", AppName)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "  %-9s %s\n\nFlags:\n%s", "version", "print version", fs.FlagUsages())
}

func newApp(cfg *config.Config, log *zap.Logger) (*App, error) {
	factory := transport.NewFactory(transport.Options{
		RFCOMMChannel: cfg.Transport.RFCOMMChannel,
		NetworkPort:   cfg.Transport.NetworkPort,
		BaudRate:      cfg.Transport.BaudRate,
		DialTimeout:   cfg.Transport.DialTimeout,
		ReadTimeout:   cfg.Transport.ReadTimeout,
	})
	querier := sgd.New(cfg.Transport.ReadTimeout)
	bt := host.New(host.Options{ScanTimeout: cfg.Discovery.BluetoothTimeout, Logger: log})

	var prefix netip.Prefix
	if cfg.Discovery.NetworkCIDR != "" {
		prefix = netip.MustParsePrefix(cfg.Discovery.NetworkCIDR)
	}
	sweeper := netscan.New(netscan.Options{
		Prefix:  prefix,
		Port:    cfg.Discovery.NetworkPort,
		Timeout: cfg.Discovery.NetworkTimeout,
		Workers: cfg.Discovery.NetworkWorkers,
		Querier: querier,
		Logger:  log,
	})

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	svc := printer.New(printer.Config{
		Transports: factory,
		Querier:    querier,
		Host:       bt,
		Scanners: map[transport.Kind]printer.Scanner{
			transport.KindBluetooth: bt,
			transport.KindNetwork:   sweeper,
			transport.KindSerial:    host.NewSerialScanner(),
		},
		Logger: log,
	})
	return &App{cfg: cfg, log: log, svc: svc, monitor: bt, registry: reg}, nil
}

func (a *App) Close() {
	if a.svc != nil {
		a.svc.Close()
		a.svc = nil
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.log.Warn("closing registry", zap.Error(err))
		}
		a.registry = nil
	}
}

// resolve maps a remembered alias or name to its address.
func (a *App) resolve(name string) string {
	if e, err := a.registry.Lookup(name); err == nil {
		return e.Address
	}
	return name
}

// describe renders an error with its wire code for the terminal.
func describe(err error) string {
	var perr *printer.Error
	if errors.As(err, &perr) {
		msg := fmt.Sprintf("%s [%s]", perr.Message, perr.Code)
		if d := perr.Detail(); d != "" {
			msg += ": " + d
		}
		return msg
	}
	return err.Error()
}

func flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(AppName+" "+name, pflag.ContinueOnError)
	for _, c := range commands {
		if c.name == name {
			fs.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: %s %s %s\n%s", AppName, c.name, c.usage, fs.FlagUsages())
			}
		}
	}
	return fs
}

func needArgs(fs *pflag.FlagSet, n int) error {
	if fs.NArg() < n {
		fs.Usage()
		return fmt.Errorf("expected %d argument(s), got %d", n, fs.NArg())
	}
	return nil
}

func kindList() string {
	names := make([]string, 0, 3)
	for _, k := range []transport.Kind{transport.KindBluetooth, transport.KindNetwork, transport.KindSerial} {
		names = append(names, k.String())
	}
	return strings.Join(names, "|")
}
