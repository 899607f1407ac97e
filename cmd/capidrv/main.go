package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/isdn_capi/pkg/capi"
	"github.com/arzzra/isdn_capi/pkg/config"
	"github.com/arzzra/isdn_capi/pkg/driver"
	"github.com/arzzra/isdn_capi/pkg/logging"
	"github.com/arzzra/isdn_capi/pkg/metrics"
	"github.com/arzzra/isdn_capi/pkg/pbx"
)

var version = "dev"

type options struct {
	Config  string   `short:"c" long:"config" default:"/etc/capi.conf" description:"файл конфигурации"`
	Debug   bool     `short:"d" long:"debug" description:"отладочное логирование в консоль"`
	Dump    bool     `long:"dump" description:"зарегистрироваться, вывести состояние линий и выйти"`
	Exten   []string `short:"e" long:"exten" description:"номер плана набора context/exten для встроенной АТС"`
	Version bool     `short:"V" long:"version" description:"версия"`
}

func main() {
	var o options
	p := flags.NewParser(&o, flags.Default)
	if _, err := p.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if o.Version {
		fmt.Println("capidrv", version)
		return
	}
	if err := run(o); err != nil {
		fmt.Fprintln(os.Stderr, "capidrv:", err)
		os.Exit(1)
	}
}

func newLogger(g config.General, debug bool) (logging.StructuredLogger, error) {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(g.ConsoleLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	if debug {
		cfg.Level = logging.LogLevelDebug
	}
	if g.LogFile != "" {
		fileLevel, err := logging.ParseLevel(g.FileLevel)
		if err != nil {
			return nil, err
		}
		cfg.File = g.LogFile
		cfg.FileLevel = fileLevel
	}
	return logging.New(cfg), nil
}

func run(o options) error {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.General, o.Debug)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host := pbx.NewRecorder()
	for _, e := range o.Exten {
		k := strings.IndexByte(e, '/')
		if k <= 0 || k == len(e)-1 {
			return fmt.Errorf("--exten %q: ожидается context/exten", e)
		}
		host.AddExtension(e[:k], e[k+1:])
	}

	mcfg := metrics.DefaultConfig()
	mcfg.Enabled = cfg.General.MetricsAddr != ""
	mcfg.Registerer = prometheus.DefaultRegisterer
	collector := metrics.New(mcfg)

	dev, err := capi.OpenDevice(cfg.General.Device)
	if err != nil {
		return err
	}
	d, err := driver.New(cfg, dev, host, driver.WithLogger(logger), driver.WithMetrics(collector))
	if err != nil {
		dev.Close()
		return err
	}
	defer d.Close()

	if o.Dump {
		if err := d.Start(ctx); err != nil {
			return err
		}
		// ответ на запрос supplementary services приходит сообщением
		waitCtx, cancel := context.WithTimeout(ctx, cfg.General.WaitTimeout)
		defer cancel()
		_ = d.Run(waitCtx)
		dump(d)
		return nil
	}

	if cfg.General.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.General.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError(ctx, err, "metrics server failed", logging.String("addr", cfg.General.MetricsAddr))
			}
		}()
		defer srv.Close()
		logger.Info(ctx, "metrics server started", logging.String("addr", cfg.General.MetricsAddr))
	}

	go controlSignals(ctx, d, logger)

	logger.Info(ctx, "capidrv started", logging.String("version", version), logging.Int("lines", len(cfg.Lines)))
	if err := d.Run(ctx); err != nil {
		logger.LogError(ctx, err, "monitor stopped")
		return err
	}
	return nil
}

// controlSignals SIGUSR1 выводит состояние каналов, SIGUSR2 переключает
// отладку, SIGHUP пытается перечитать конфигурацию
func controlSignals(ctx context.Context, d *driver.Driver, logger logging.StructuredLogger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(sigs)

	debug := false
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sigs:
			switch s {
			case syscall.SIGUSR1:
				dump(d)
			case syscall.SIGUSR2:
				debug = !debug
				d.SetDebug(debug)
				logger.Info(ctx, "debug toggled", logging.Bool("debug", debug))
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					logger.LogError(ctx, err, "reload")
				}
			}
		}
	}
}

func dump(d *driver.Driver) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTROLLER\tB-CHANNELS\tFREE\tUSED\tSERVICES\tREADY")
	for _, s := range d.LineStatus() {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t0x%04x\t%v\n", s.Controller, s.Total, s.Free, s.Used, uint32(s.Services), s.Ready)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "INTERFACE\tSTATE\tISDN\tPLCI\tNCCI\tCHANNEL\tCID\tDNID")
	for _, c := range d.ChannelDump() {
		fmt.Fprintf(w, "%s\t%s\t%s\t0x%04x\t0x%06x\t%s\t%s\t%s\n",
			c.Name, c.State, c.Isdn, c.PLCI, c.NCCI, c.Owner, c.CID, c.DNID)
	}
	w.Flush()
}
