package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/tarm/serial"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/voltscan/generichttp"
	httpscan "github.com/nasa-jpl/voltscan/generichttp/scan"
	"github.com/nasa-jpl/voltscan/scan"
	"github.com/nasa-jpl/voltscan/scanner"
	"github.com/nasa-jpl/voltscan/scanrec"
	"github.com/nasa-jpl/voltscan/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scan-http.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Enabled turns auto-saving of completed scans on
	Enabled bool `yaml:"Enabled"`
}

type device struct {
	// Kind selects the device, "mock" or "remote"
	Kind string `yaml:"Kind"`

	// Addr is host:port for TCP remotes, or the port path for serial ones
	Addr string `yaml:"Addr"`

	// Serial attaches over RS232 instead of TCP
	Serial bool `yaml:"Serial"`

	// Baud is the serial baud rate
	Baud int `yaml:"Baud"`

	// Realtime paces the mock at the clock frequency
	Realtime bool `yaml:"Realtime"`
}

type session struct {
	ClockFrequency float64 `yaml:"ClockFrequency"`
	ScanSpeed      float64 `yaml:"ScanSpeed"`
	GotoSpeed      float64 `yaml:"GotoSpeed"`
	SmoothingSteps int     `yaml:"SmoothingSteps"`
	Repeats        int     `yaml:"Repeats"`
}

type config struct {
	Addr     string   `yaml:"Addr"`
	Root     string   `yaml:"Root"`
	Device   device   `yaml:"Device"`
	Session  session  `yaml:"Session"`
	Recorder recorder `yaml:"Recorder"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr: ":8000",
		Root: "/",
		Device: device{
			Kind: "mock",
			Addr: "localhost:8001",
			Baud: 57600,
		},
		Session: session{
			ClockFrequency: scan.DefaultClockFrequency,
			ScanSpeed:      scan.DefaultScanSpeed,
			GotoSpeed:      scan.DefaultGotoSpeed,
			SmoothingSteps: scan.DefaultSmoothingSteps,
			Repeats:        scan.DefaultRepeats,
		},
		Recorder: recorder{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `scan-http exposes control of voltage sweep sessions over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	scan-http <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `scan-http is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  The command mkconf
generates the configuration file with the default values.

Device Kind 'mock' runs against a simulated scan head and needs no hardware;
'remote' connects to a scan head over TCP, or RS232 when Serial is true, in
which case Addr is the port path (e.g. /dev/ttyS0).

Session holds the sweep parameters applied at boot; all of them can be
changed over HTTP afterwards while no scan is running.

When Recorder.Enabled is true, every completed scan is written under
Recorder.Root in yyyy-mm-dd subfolders as a CSV and a FITS file.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("scan-http version %v\n", Version)
}

// setupDevice builds the scanner from the config and a teardown function
func setupDevice(cfg config) (scanner.VoltageScanner, func()) {
	switch strings.ToLower(cfg.Device.Kind) {
	case "mock":
		m := scanner.NewMock()
		m.Realtime = cfg.Device.Realtime
		return m, func() {}
	case "remote":
		r := scanner.NewRemote(cfg.Device.Addr)
		if cfg.Device.Serial {
			r.Serial = &serial.Config{Name: cfg.Device.Addr, Baud: cfg.Device.Baud}
		}
		if err := r.Open(); err != nil {
			log.Fatal("could not connect to scan head: ", err)
		}
		return r, func() { r.Disconnect() }
	default:
		log.Fatalf("unknown device kind %q", cfg.Device.Kind)
		return nil, nil
	}
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)

	dev, teardown := setupDevice(cfg)
	ctl, err := scan.NewController(dev)
	if err != nil {
		log.Fatal("could not initialize controller: ", err)
	}
	ctl.SetClockFrequency(cfg.Session.ClockFrequency)
	ctl.SetScanSpeed(cfg.Session.ScanSpeed)
	ctl.SetGotoSpeed(cfg.Session.GotoSpeed)
	ctl.SetSmoothingSteps(cfg.Session.SmoothingSteps)
	ctl.SetRepeats(cfg.Session.Repeats)

	rec := &scanrec.Recorder{
		Root:    cfg.Recorder.Root,
		Prefix:  cfg.Recorder.Prefix,
		Enabled: cfg.Recorder.Enabled,
	}
	w := httpscan.NewHTTPScanController(ctl, rec)
	lock := locker.New()
	locker.Inject(w, lock)
	scanrec.NewHTTPWrapper(rec).Inject(w)

	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	rootR := chi.NewRouter()
	rootR.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	rootR.Mount(hndlrS, mux)
	w.RT().Bind(mux)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Println("shutting down, stopping any running scan")
		ctl.Stop()
		ctl.Close() // waits for the session to park and unlock
		teardown()
		os.Exit(0)
	}()

	log.Println("now listening for requests at ", cfg.Addr+hndlrS)
	log.Fatal(http.ListenAndServe(cfg.Addr, rootR))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
