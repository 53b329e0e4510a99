package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoollights/internal/config"
	"schoollights/internal/ics"
	"schoollights/internal/light"
	appLog "schoollights/internal/log"
	"schoollights/internal/model"
	"schoollights/internal/schedule"
	"schoollights/internal/termdates"
	"schoollights/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	date       string
	testLights bool
}

// runnerFunc adapts a function to schedule.Runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("schoollights starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"feed_configured", conf.Calendar.URL != "",
		"horizon_days", conf.Calendar.HorizonDays,
		"refresh", conf.Schedule.Refresh,
		"lights", conf.Schedule.Lights,
		"biweekly", conf.Schedule.Biweekly,
		"mqtt_broker", conf.MQTT.Broker,
		"device", conf.MQTT.Device,
		"steps", len(conf.Sequence),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.testLights {
		os.Exit(runTestLights(ctx, conf))
	}

	loc := conf.Location()
	cache := ics.NewFileCache(conf.Calendar.CacheDir, conf.Calendar.URL)
	feed := ics.NewFeed(ics.NewFetcher(conf.Calendar.URL, cache), loc, conf.Calendar.HorizonDays)
	cal := termdates.NewCalendar()
	resolver := termdates.NewResolver(feed, cal)

	if flags.once {
		os.Exit(runOnce(ctx, resolver, loc, flags.date))
	}

	// A failed startup pass is not fatal; the cache or the next refresh may
	// fill the gap, and queries say "no data yet" until then.
	if _, err := resolver.Resolve(ctx); err != nil {
		appLog.Error("initial term resolution failed", err)
	}

	lights, closeLights := dialLights(conf)
	defer closeLights()

	sched, err := schedule.New(conf.Schedule, loc, resolver, cal, lights)
	if err != nil {
		appLog.Error("failed to set up scheduler", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	srv := web.NewServer(conf, cal, resolver)
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	appLog.Info("schoollights exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schoollights/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Resolve term dates once, print the day's status and exit")
	flag.StringVar(&cfg.date, "date", "", "Date reported by -once (YYYY-MM-DD, default today)")
	flag.BoolVar(&cfg.testLights, "test-lights", false, "Play the light sequence once and exit")

	flag.Parse()

	return cfg
}

// runOnce resolves and prints the status of one date. It returns the exit
// code.
func runOnce(ctx context.Context, resolver *termdates.Resolver, loc *time.Location, date string) int {
	day := model.Today(loc)
	if date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			appLog.Error("invalid -date", err)
			return 2
		}
		day = d
	}

	res, err := resolver.Resolve(ctx)
	if err != nil {
		appLog.Error("term resolution failed", err)
		return 1
	}

	out := struct {
		termdates.DayStatus
		Ranges string `json:"ranges"`
		Issues int    `json:"issues"`
	}{
		DayStatus: resolver.Calendar().Status(day),
		Ranges:    res.ValidDays.String(),
		Issues:    len(res.Issues),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		appLog.Error("failed to write status", err)
		return 1
	}
	return 0
}

func runTestLights(ctx context.Context, conf *config.Config) int {
	pub, err := light.Dial(conf.MQTT)
	if err != nil {
		appLog.Error("mqtt dial failed", err, "broker", conf.MQTT.Broker)
		return 1
	}
	defer pub.Close()

	if err := light.NewSequencer(pub, conf.MQTT.Device, conf.Sequence).Run(ctx); err != nil {
		appLog.Error("test light sequence failed", err)
		return 1
	}
	return 0
}

// dialLights connects the light publisher. Without a broker the scheduler
// still runs and logs each skipped morning.
func dialLights(conf *config.Config) (schedule.Runner, func()) {
	pub, err := light.Dial(conf.MQTT)
	if err != nil {
		appLog.Error("mqtt unavailable; lights disabled", err, "broker", conf.MQTT.Broker)
		return runnerFunc(func(context.Context) error {
			return fmt.Errorf("lights disabled: %w", err)
		}), func() {}
	}
	return light.NewSequencer(pub, conf.MQTT.Device, conf.Sequence), pub.Close
}
