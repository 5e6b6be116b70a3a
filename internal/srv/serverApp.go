package srv

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jypelle/authbox/internal/srv/api"
	"github.com/jypelle/authbox/internal/srv/config"
	"github.com/jypelle/authbox/internal/srv/device"
	"github.com/jypelle/authbox/internal/srv/dispatch"
	"github.com/jypelle/authbox/internal/srv/display"
	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/jypelle/authbox/internal/srv/reporter"
	"github.com/jypelle/authbox/internal/srv/scheduler"
	"github.com/jypelle/authbox/internal/version"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Pin names with a role in the access flow. Other configured pins are
// started too, their events are only logged.
const (
	badgeReaderPin = "badge_reader"
	exitButtonPin  = "exit_button"
	doorRelayPin   = "door_relay"
	buzzerPin      = "buzzer"
	relockTimerPin = "relock_timer"
)

type ServerApp struct {
	*config.ServerConfig

	queue      *event.Queue
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	display    *display.CharacterDisplay
	console    *display.Console
	api        *api.Api
	reporter   *reporter.MqttReporter
	closers    []io.Closer

	doorRelay   *device.Relay
	exitButton  *device.Button
	buzzer      *device.Buzzer
	relockTimer *device.Timer

	// deniedGen invalidates pending returns to the ready screen.
	deniedGen   uint64
	deniedReset scheduler.Handle

	simulatedPins map[string]*gpiotest.Pin
	now           func() time.Time
}

func NewServerApp(configDir string, debugMode bool, simulationMode bool) *ServerApp {
	logrus.Debugf("Creation of authbox server %s ...", version.AppVersion.String())

	sch := scheduler.New()
	app, err := newServerApp(config.NewServerConfig(configDir, debugMode, simulationMode, sch), sch)
	if err != nil {
		logrus.Fatalf("Unable to create server: %v\n", err)
	}

	logrus.Debugln("Server created")
	return app
}

func newServerApp(serverConfig *config.ServerConfig, sch *scheduler.Scheduler) (*ServerApp, error) {
	app := &ServerApp{
		ServerConfig: serverConfig,
		queue:        event.NewQueue(event.DefaultQueueSize),
		scheduler:    sch,
		now:          time.Now,
	}
	app.dispatcher = dispatch.New(app.queue, dispatch.DefaultRegistry())

	if app.SimulationMode {
		if err := app.registerSimulatedPins(); err != nil {
			return nil, err
		}
	} else if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("unable to initialize periph host: %w", err)
	}

	if err := app.openDisplay(); err != nil {
		app.close()
		return nil, err
	}
	// Nothing runs yet, the boot screen can be drawn from here.
	if err := app.display.SetState("boot", nil); err != nil {
		logrus.Warnf("Unable to show boot screen: %v", err)
	}

	if err := app.registerDevices(); err != nil {
		app.close()
		return nil, err
	}

	if app.ApiParam.Enabled {
		app.api = api.NewApi(app.ConfigDir, app.ApiParam, app.queue, app)
	}
	if app.MqttParam != nil {
		app.reporter = reporter.NewMqttReporter(app.MqttParam, deviceName(app.MqttParam))
	}

	return app, nil
}

func deviceName(param *config.MqttParam) string {
	if param.ClientId != "" {
		return param.ClientId
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "authbox"
}

// registerSimulatedPins fakes every gpio named in the pins section.
func (s *ServerApp) registerSimulatedPins() error {
	s.simulatedPins = make(map[string]*gpiotest.Pin)
	for _, raw := range s.Pins {
		parts := strings.Split(raw, ":")
		var names []string
		switch parts[0] {
		case "Button", "Buzzer":
			names = parts[1:]
		case "Relay":
			if len(parts) > 2 {
				names = parts[2:]
			}
		}
		for _, name := range names {
			if existing, ok := gpioreg.ByName(name).(*gpiotest.Pin); ok {
				s.simulatedPins[name] = existing
				continue
			}
			pin := &gpiotest.Pin{N: name, Num: -1}
			if err := gpioreg.Register(pin); err != nil {
				return fmt.Errorf("unable to simulate pin %s: %w", name, err)
			}
			s.simulatedPins[name] = pin
		}
	}
	return nil
}

func (s *ServerApp) openDisplay() error {
	param := s.DisplayParam
	var driver display.Driver
	switch {
	case s.SimulationMode || param.Driver == "console":
		s.console = display.NewConsole(param.Rows, param.Columns)
		driver = s.console
	case param.Driver == "openlcd":
		bus, err := i2creg.Open(param.I2CBus)
		if err != nil {
			return fmt.Errorf("unable to open i2c bus %q: %w", param.I2CBus, err)
		}
		s.closers = append(s.closers, bus)
		driver = display.NewOpenLCD(&i2c.Dev{Bus: bus, Addr: param.Address}, param.Rows)
	default:
		return fmt.Errorf("unknown display driver %q", param.Driver)
	}

	displayConfig, err := s.LoadDisplayConfig()
	if err != nil {
		return err
	}
	s.display = display.New(display.NewTextDriver(driver, param.Columns), displayConfig, s.scheduler, s.queue)
	return nil
}

// registerDevices instantiates the configured pins in name order.
func (s *ServerApp) registerDevices() error {
	names := make([]string, 0, len(s.Pins))
	for name := range s.Pins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		worker, err := s.dispatcher.RegisterFromConfig(s.Lookup, name, s.handlerFor(name))
		if err != nil {
			return err
		}

		var ok bool
		switch name {
		case exitButtonPin:
			s.exitButton, ok = worker.(*device.Button)
		case doorRelayPin:
			s.doorRelay, ok = worker.(*device.Relay)
		case buzzerPin:
			s.buzzer, ok = worker.(*device.Buzzer)
		case relockTimerPin:
			s.relockTimer, ok = worker.(*device.Timer)
		default:
			ok = true
		}
		if !ok {
			return fmt.Errorf("pin %s: unexpected device %v", name, worker)
		}
	}

	if s.doorRelay != nil && s.relockTimer == nil {
		return fmt.Errorf("pin %s requires a %s Timer", doorRelayPin, relockTimerPin)
	}
	return nil
}

func (s *ServerApp) handlerFor(name string) event.Callback {
	switch name {
	case badgeReaderPin:
		return s.onBadge
	case exitButtonPin:
		return s.onExitButton
	case relockTimerPin:
		return s.onRelock
	default:
		return s.onOtherDevice
	}
}

// Run serves until a shutdown is requested or ctx is done.
func (s *ServerApp) Run(ctx context.Context) error {
	logrus.Printf("Starting authbox server ...")

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go s.scheduler.Run(schedulerCtx)

	if s.api != nil {
		if err := s.api.Start(); err != nil {
			s.close()
			return err
		}
	}

	s.queue.Push(event.NewAction("startup", func(...interface{}) error {
		return s.showReady()
	}))

	err := s.dispatcher.Run(ctx)

	stopScheduler()
	s.stop()
	return err
}

func (s *ServerApp) stop() {
	logrus.Printf("Stopping authbox server ...")

	if s.api != nil {
		s.api.Stop()
	}

	// The dispatcher is gone, devices are driven from here.
	if s.doorRelay != nil {
		if err := s.doorRelay.Off(); err != nil {
			logrus.Errorf("Unable to lock the door: %v", err)
		}
	}
	if s.exitButton != nil {
		if err := s.exitButton.SetLight(false); err != nil {
			logrus.Warnf("%v", err)
		}
	}
	if err := s.display.SetState("bye", nil); err != nil {
		logrus.Warnf("Unable to show shutdown screen: %v", err)
	}

	if err := s.FlushSave(); err != nil {
		logrus.Errorf("%v", err)
	}
	if s.reporter != nil {
		s.reporter.Close()
	}
	s.close()

	logrus.Printf("Server stopped")
}

func (s *ServerApp) close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			logrus.Warnf("%v", err)
		}
	}
	s.closers = nil
}

// SimulatedPin returns the fake gpio registered for name in simulation mode.
func (s *ServerApp) SimulatedPin(name string) *gpiotest.Pin {
	return s.simulatedPins[name]
}

// Console returns the in-memory screen in simulation mode.
func (s *ServerApp) Console() *display.Console {
	return s.console
}

func (s *ServerApp) doorOpen() bool {
	return s.doorRelay != nil && s.doorRelay.IsOn()
}
