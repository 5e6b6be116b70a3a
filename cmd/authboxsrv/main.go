package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/jypelle/authbox/internal/srv"
	"github.com/jypelle/authbox/internal/version"
	"github.com/sirupsen/logrus"
)

const configSuffix = "authbox"

type options struct {
	configDir      string
	debugMode      bool
	simulationMode bool
}

// command is a subcommand taking no positional argument.
type command struct {
	summary     string
	description string
	exec        func(opts options) error
}

var commands = map[string]command{
	"run": {
		summary:     "Run server",
		description: "Drive the door until interrupted or shut down through the api",
		exec:        runServer,
	},
	"version": {
		summary:     "Show the version number",
		description: "Show the version information",
		exec: func(options) error {
			fmt.Printf("Version %s\n", version.AppVersion.Full())
			return nil
		},
	},
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true})

	mainCommand := filepath.Base(os.Args[0])

	var opts options
	flag.BoolVar(&opts.debugMode, "d", false, "Enable debug mode")
	flag.BoolVar(&opts.simulationMode, "s", false, "Enable simulation mode (fake gpio, console display)")
	flag.StringVar(&opts.configDir, "c", defaultConfigDir(), "Location of authbox config folder")
	flag.Usage = func() { usage(mainCommand) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("\n%s is not an authbox command\n", name)
		flag.Usage()
		os.Exit(1)
	}

	cmdFlags := flag.NewFlagSet(name, flag.ExitOnError)
	cmdFlags.Usage = func() {
		fmt.Printf("\nUsage: %s %s\n", mainCommand, name)
		fmt.Printf("\n%s\n", cmd.description)
	}
	cmdFlags.Parse(flag.Args()[1:])
	if cmdFlags.NArg() > 0 {
		fmt.Printf("\n\"%s %s\" accepts no arguments\n", mainCommand, name)
		cmdFlags.Usage()
		os.Exit(1)
	}

	if opts.debugMode {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
		logrus.Printf("Debug mode activated")
	}

	if err := cmd.exec(opts); err != nil {
		logrus.Fatalf("%v\n", err)
	}
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, configSuffix)
	}
	return "./." + configSuffix
}

func usage(mainCommand string) {
	fmt.Printf("\nUsage: %s [OPTIONS] [COMMAND]\n", mainCommand)
	fmt.Printf("\nA badge operated door controller\n")
	fmt.Printf("\nOptions:\n")
	flag.PrintDefaults()

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("\nCommands:\n")
	for _, name := range names {
		fmt.Printf("  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Printf("\nRun '%s COMMAND --help' for more information on a command.\n", mainCommand)
}

func runServer(opts options) error {
	serverApp := srv.NewServerApp(opts.configDir, opts.debugMode, opts.simulationMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	return serverApp.Run(ctx)
}
