package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cjeanneret/FocusGo/internal/config"
	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/hw/camera"
	"github.com/cjeanneret/FocusGo/internal/hw/gpio"
	"github.com/cjeanneret/FocusGo/internal/hw/stepper"
	"github.com/cjeanneret/FocusGo/internal/hw/timer"
	"github.com/cjeanneret/FocusGo/internal/iface/mqtt"
	"github.com/cjeanneret/FocusGo/internal/iface/serial"
	"github.com/cjeanneret/FocusGo/internal/logic/geometry"
	"github.com/cjeanneret/FocusGo/internal/logic/rig"
	"github.com/cjeanneret/FocusGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	serialDevice := flag.String("serial", "", "serial device for the command link (overrides config)")
	moveSteps := flag.Int64("move", 0, "move N steps (negative = reverse) and exit")
	runStack := flag.Bool("stack", false, "run one focus stack with the configured settings and exit")
	flag.Parse()

	if err := validateOneShot(*moveSteps, *runStack); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("environment override failed: %v", err)
	}
	if *serialDevice != "" {
		cfg.Interface.SerialDevice = *serialDevice
	}
	if port := webPort.port(); port > 0 {
		cfg.Defaults.WebPort = port
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.close()

	// The tick service runs for the whole process lifetime.
	go func() {
		if err := a.timer.Run(ctx); err != nil {
			log.Fatalf("timer service: %v", err)
		}
	}()

	if *moveSteps != 0 || *runStack {
		if err := runOneShot(ctx, a.rig, int32(*moveSteps), *runStack); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := a.serve(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}

// app holds the process-wide hardware and logic instances.
type app struct {
	cfg     *config.Config
	gpio    gpio.Driver
	stepper *stepper.Controller
	timer   *timer.Interval
	rig     *rig.Rig
	events  *web.EventBroadcaster
}

func newApp(cfg *config.Config) (*app, error) {
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}

	debug.Step(2, "Initializing stepper motion controller")
	ctrl := stepper.NewController(g, stepperConfig(cfg))
	debug.PrintStruct("Motor config", cfg.Motor)

	debug.Step(3, "Initializing camera")
	cam, err := newCameraFromConfig(g, cfg)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("init camera: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Focus pin", cfg.Camera.FocusPin)
	debug.Value("Shutter pin", cfg.Camera.ShutterPin)

	events := web.NewEventBroadcaster(web.DefaultHistory)
	return &app{
		cfg:     cfg,
		gpio:    g,
		stepper: ctrl,
		timer:   timer.NewInterval(cfg.TickPeriod(), ctrl.OnTick),
		rig:     rig.New(cfg, ctrl, cam, events),
		events:  events,
	}, nil
}

func (a *app) close() {
	a.rig.Stop()
	if err := a.gpio.Close(); err != nil {
		log.Printf("closing GPIO driver failed: %v", err)
	}
}

// serve runs every enabled interface until ctx is done or one fails.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var services []func(context.Context) error
	if port := a.cfg.Defaults.WebPort; port > 0 {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.LogWriter(a.events)))
		srv := web.NewServer(fmt.Sprintf(":%d", port), a.events, a.rig, geometry.NewStepsCalculator(a.cfg))
		services = append(services, srv.Run)
	}
	if dev := a.cfg.Interface.SerialDevice; dev != "" {
		scfg := serial.Config{Device: dev, Baud: a.cfg.Interface.SerialBaud, ReadTimeout: 100 * time.Millisecond}
		services = append(services, func(ctx context.Context) error {
			return serial.ListenAndServe(ctx, scfg, a.rig)
		})
	}
	if broker := a.cfg.Interface.MQTTBroker; broker != "" {
		services = append(services, func(ctx context.Context) error {
			client, err := mqtt.Connect(mqtt.Config{
				Broker:   broker,
				ClientID: a.cfg.Interface.MQTTClientID,
				Topic:    a.cfg.Interface.MQTTTopic,
			})
			if err != nil {
				return err
			}
			defer client.Disconnect(250)
			return mqtt.NewTelemetry(client, a.rig, a.cfg.Interface.MQTTTopic).Run(ctx)
		})
	}
	if len(services) == 0 {
		return errors.New("nothing to do: enable -web, -serial or an MQTT broker, or use -move / -stack")
	}

	errCh := make(chan error, len(services))
	var wg sync.WaitGroup
	for _, run := range services {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}(run)
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// runOneShot performs a single move or stack and waits for it. An
// interrupt stops the action.
func runOneShot(ctx context.Context, r *rig.Rig, steps int32, stack bool) error {
	var err error
	if stack {
		debug.Section("Focus stack")
		err = r.StartStack()
	} else {
		debug.Section("Single move")
		err = r.MoveMotor(steps)
	}
	if err != nil {
		return err
	}
	if err := r.Wait(ctx); err != nil {
		r.Stop()
		return fmt.Errorf("interrupted: %w", err)
	}
	st := r.Status()
	if stack && !st.Stack.IsStackFinished {
		return fmt.Errorf("stack stopped at step %d/%d", st.Stack.CurrentStep, st.Stack.StackCount)
	}
	debug.Summary("Done")
	return nil
}

// validateOneShot rejects contradictory one-shot flags.
func validateOneShot(moveSteps int64, stack bool) error {
	if moveSteps != 0 && stack {
		return errors.New("-move and -stack are mutually exclusive")
	}
	if moveSteps != int64(int32(moveSteps)) {
		return fmt.Errorf("-move must fit in 32 bits, got %d", moveSteps)
	}
	return nil
}

func stepperConfig(cfg *config.Config) stepper.Config {
	return stepper.Config{
		StepPin:    cfg.Motor.StepPin,
		DirPin:     cfg.Motor.DirPin,
		EnablePin:  cfg.Motor.EnablePin,
		InvertDir:  cfg.Motor.InvertDir,
		TickPeriod: cfg.Motor.TickPeriodUs,
		Profile: stepper.Profile{
			MinWidth:   cfg.Motor.MinWidthUs,
			MaxWidth:   cfg.Motor.MaxWidthUs,
			RampLength: cfg.Motor.RampLength,
		},
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (rig.Camera, error) {
	cam, err := camera.New(
		cfg.Camera.Type,
		g,
		cfg.Camera.FocusPin,
		cfg.Camera.ShutterPin,
		cfg.FocusDuration(),
		cfg.ShutterDuration(),
	)
	if err != nil {
		return nil, err
	}
	rc, ok := cam.(rig.Camera)
	if !ok {
		return nil, fmt.Errorf("camera type %s does not support runtime timings", cfg.Camera.Type)
	}
	return rc, nil
}
