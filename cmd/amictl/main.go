// Command amictl is a small demonstration client for the gami package: it
// connects to an Asterisk Manager Interface, logs in, subscribes to events,
// prints them as they arrive, and exits cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fmuellner/gami/gami"
	"github.com/fmuellner/gami/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars also apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	session := gami.NewSession(gami.Config{
		Host:   cfg.AMI.Host,
		Port:   cfg.AMI.Port,
		Logger: &logger,
	})
	session.Events(func(e gami.Event) {
		logger.Info().Str("event", e.Name).Fields(toFields(e.Map())).Msg("AMI event")
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AMI.Timeout)
	defer cancel()

	mask := parseEventMask(cfg.AMI.Events)
	err = session.Connect(ctx, &gami.Credentials{
		Username: cfg.AMI.Username,
		Secret:   cfg.AMI.Secret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to AMI")
	}
	defer session.Close()

	setCtx, setCancel := context.WithTimeout(context.Background(), cfg.AMI.Timeout)
	defer setCancel()
	if err := session.SetEventMask(setCtx, mask); err != nil {
		logger.Warn().Err(err).Msg("setting event mask")
	}

	logger.Info().Str("host", cfg.AMI.Host).Msg("connected, waiting for events (ctrl-c to exit)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logoffCtx, logoffCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer logoffCancel()
	if err := session.Logoff(logoffCtx); err != nil {
		logger.Warn().Err(err).Msg("logging off")
	}
}

// parseEventMask turns a comma-separated category list (or "on"/"off")
// from config into an EventMask, matching the encoding Session.SetEventMask
// produces in the other direction.
func parseEventMask(spec string) gami.EventMask {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "off":
		return gami.EventNone
	case "on", "all":
		return gami.EventAll
	}

	var mask gami.EventMask
	for _, name := range strings.Split(spec, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "call":
			mask |= gami.EventCall
		case "cdr":
			mask |= gami.EventCDR
		case "system":
			mask |= gami.EventSystem
		case "agent":
			mask |= gami.EventAgent
		case "log":
			mask |= gami.EventLog
		case "user":
			mask |= gami.EventUser
		}
	}
	return mask
}

func toFields(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}
