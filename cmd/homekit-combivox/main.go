package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	combivox "github.com/caarlos0/homekit-combivox"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type Executor = func(func(ctx context.Context, cli *combivox.Client) error) error

const (
	manufacturer = "Combivox"
	// the panel takes a moment to apply a command
	settle = 2 * time.Second
)

func main() {
	log.Info(
		"homekit-combivox",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Combivox Amica alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}
	if err := cfg.validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	level, err := logp.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal("invalid log level", "level", cfg.LogLevel, "err", err)
	}
	log.SetLevel(level)
	clientLog := log.WithPrefix("combivox")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []combivox.Option{
		combivox.WithUsername(cfg.Username),
		combivox.WithRevision(cfg.revision()),
		combivox.WithTransport(instrumented(http.DefaultTransport)),
		combivox.WithLogger(clientLog),
	}
	cat, cached, err := loadCatalog(cfg.CatalogFile, cfg.Host)
	if err != nil {
		log.Warn("could not load cached catalog, downloading it", "err", err)
	}
	if cached {
		log.Info("using cached catalog", "file", cfg.CatalogFile)
		opts = append(opts, combivox.WithCatalog(cat))
	}

	cli, err := combivox.New(cfg.Host, cfg.Port, cfg.Code, opts...)
	if err != nil {
		log.Fatal("could not create client", "err", err)
	}
	defer func() {
		_ = cli.Close()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 5
	bo.MaxElapsedTime = time.Minute
	if err := backoff.RetryNotify(func() error {
		err := cli.Connect(ctx)
		if errors.Is(err, combivox.ErrInvalidCode) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, _ time.Duration) {
		log.Error("could not connect to the panel", "err", err)
	}); err != nil {
		log.Fatal("could not connect to the panel", "err", err)
	}
	cat = cli.Catalog()
	if !cached {
		if err := saveCatalog(cfg.CatalogFile, cfg.Host, cat); err != nil {
			log.Warn("could not cache catalog", "err", err)
		}
	}

	var clientLock sync.Mutex
	execute := func(fn func(ctx context.Context, cli *combivox.Client) error) error {
		t := time.Now()
		clientLock.Lock()
		defer clientLock.Unlock()
		log.Debugf("got client lock after %s", time.Since(t))

		commandCounter.Inc()
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := fn(ctx, cli); err != nil {
			commandErrorCounter.Inc()
			return err
		}
		return nil
	}

	poller := combivox.NewPoller(
		cli, cfg.Interval,
		combivox.WithMaxFailures(cfg.MaxFailures),
		combivox.WithPollerLogger(clientLog),
	)
	status, err := poller.Poll(ctx)
	if err != nil {
		log.Fatal("could not init accessories", "err", err)
	}

	var model string
	if info, err := cli.DeviceInfo(ctx); err != nil {
		log.Warn("could not get device info", "err", err)
	} else {
		model = info.Variant
	}
	if trouble, ok, err := cli.ActiveTrouble(ctx); err != nil {
		log.Warn("could not get troubles", "err", err)
	} else if ok {
		log.Warn("panel reports a trouble", "trouble", trouble)
	}
	macAddr, err := combivox.MacAddress(cfg.Host)
	if err != nil {
		log.Warn(
			"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
			"err", err,
		)
	}
	log.Info(
		"got alarm system information",
		"manufacturer", manufacturer,
		"model", model,
		"revision", status.Revision,
		"mac", macAddr,
	)
	log.Info(
		"loading accessories",
		"areas",
		strings.Join([]string{
			fmt.Sprintf("away: %v (macro %d)", cfg.AwayAreas, cfg.AwayMacro),
			fmt.Sprintf("stay: %v (macro %d)", cfg.StayAreas, cfg.StayMacro),
			fmt.Sprintf("night: %v (macro %d)", cfg.NightAreas, cfg.NightMacro),
		}, "\n"),
		"zones", allZoneConfigs(cfg.allZones(cat)).String(),
	)

	refresh := func() {
		time.Sleep(settle)
		if _, err := poller.Poll(ctx); err != nil && !errors.Is(err, combivox.ErrAlreadyPolling) {
			log.Warn("could not refresh status", "err", err)
		}
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	alarm := NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: macAddr,
		Manufacturer: manufacturer,
		Model:        model,
	}, cfg, execute, refresh)
	alarm.Id = 2

	if state := cfg.getAlarmState(status); state >= 0 {
		err := alarm.SecuritySystem.SecuritySystemTargetState.SetValue(state)
		log.Info("set target state", "state", state, "err", err)
	}

	memory := setupMemorySwitch(execute)
	memory.Id = 3

	sensors := setupZones(execute, cfg, cat, status, macAddr)
	outputs := setupOutputs(execute, cfg, cat)
	macros := setupMacros(execute, cfg, cat)

	update := func(status combivox.Status) {
		alarm.Update(status)
		sensors.Update(status)
		outputs.Update(status)
		memory.Switch.On.SetValue(hasAlarmMemory(status))
		for _, area := range status.Areas {
			areaArmedGauge.WithLabelValues(cat.AreaName(area.Number)).Set(boolToFloat(area.Armed))
		}
		if status.GSM.Available {
			gsmSignalGauge.Set(float64(status.GSM.Percent))
		}
	}
	update(status)

	poller.Subscribe(func(u combivox.Update) {
		pollFailuresGauge.Set(float64(u.Failures))
		unavailableGauge.Set(boolToFloat(u.Unavailable))
		if u.Err != nil {
			alarm.SetUnavailable(u.Unavailable)
			return
		}
		update(u.Status)
	})
	poller.Start(ctx)
	defer poller.Stop()

	if cfg.CatalogRefresh > 0 {
		go refreshCatalog(ctx, cfg, execute)
	}

	fs := hap.NewFsStore("./db")

	server, err := hap.NewServer(
		fs, bridge.A,
		securityAccessories(alarm, memory, sensors, outputs, macros)...,
	)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := "Unknown"
		if v := alarm.SecuritySystem.SecuritySystemCurrentState.Value(); v >= 0 && v < 5 {
			state = [5]string{
				"Armed: Stay",
				"Armed: Away",
				"Armed: Night",
				"Disarmed",
				"Alarm Triggered",
			}[v]
		}

		var hSensors []PageItem
		for _, zone := range sensors {
			z := PageItem{
				Number: zone.Number,
				Name:   zone.Name(),
				Memory: zone.Fault.Value() == 1,
			}
			if zone.Motion != nil {
				z.Open = zone.Motion.MotionDetected.Value()
			} else if zone.Contact != nil {
				z.Open = zone.Contact.ContactSensorState.Value() == 1
			}
			if zone.Bypass != nil {
				z.Bypassed = !zone.Bypass.On.Value()
			}
			hSensors = append(hSensors, z)
		}

		var hOutputs []PageItem
		for _, o := range outputs {
			hOutputs = append(hOutputs, PageItem{
				Number: o.ID,
				Name:   o.Name(),
				Open:   o.Switch.Switch.On.Value(),
			})
		}

		tpl := template.Must(template.New("index").Parse(string(index)))
		_ = tpl.Execute(w, struct {
			State       string
			Unavailable bool
			Model       string
			Zones       []PageItem
			Outputs     []PageItem
		}{
			State:       state,
			Unavailable: poller.Unavailable(),
			Model:       model,
			Zones:       hSensors,
			Outputs:     hOutputs,
		})
	}))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

// refreshCatalog downloads the catalog periodically and caches it when it
// changed. The accessories only pick it up after a restart.
func refreshCatalog(ctx context.Context, cfg Config, execute Executor) {
	tick := time.NewTicker(cfg.CatalogRefresh)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		var cat combivox.Catalog
		var changed bool
		if err := execute(func(ctx context.Context, cli *combivox.Client) (err error) {
			cat, changed, err = cli.ReloadCatalog(ctx)
			return err
		}); err != nil {
			log.Error("could not refresh catalog", "err", err)
			continue
		}
		if !changed {
			continue
		}
		log.Warn("panel catalog changed, restart to update accessories")
		if err := saveCatalog(cfg.CatalogFile, cfg.Host, cat); err != nil {
			log.Error("could not cache catalog", "err", err)
		}
	}
}

func securityAccessories(
	alarm *SecuritySystem,
	memory *accessory.Switch,
	sensors AlarmSensors,
	outputs Outputs,
	macros []*accessory.Switch,
) []*accessory.A {
	result := []*accessory.A{
		memory.A,
		alarm.A,
	}
	for _, c := range sensors {
		result = append(result, c.A)
	}
	for _, c := range outputs {
		result = append(result, c.A)
	}
	for _, c := range macros {
		result = append(result, c.A)
	}
	return result
}

type PageItem struct {
	Number   int
	Name     string
	Open     bool
	Bypassed bool
	Memory   bool
}
