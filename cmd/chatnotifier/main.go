package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/chatnotifier/internal/cfg"
	"github.com/simplesurance/chatnotifier/internal/chatmsg"
	"github.com/simplesurance/chatnotifier/internal/logfields"
	"github.com/simplesurance/chatnotifier/internal/mailer"
	"github.com/simplesurance/chatnotifier/internal/mailqueue"
	"github.com/simplesurance/chatnotifier/internal/notifier"
	"github.com/simplesurance/chatnotifier/internal/provider/gitlab"
)

const appName = "chatnotifier"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const shutdownTimeout = 30 * time.Second

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func startHTTPSServer(listenAddr string, certFile, keyFile string, mux *http.ServeMux) *http.Server {
	httpsServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()

	return &httpsServer
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) *http.Server {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()

	return &httpServer
}

func shutdownServer(srv *http.Server) {
	ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelFn()

	logger.Debug(
		"terminating server",
		logfields.Event("http_server_terminating"),
		zap.String("listenAddr", srv.Addr),
		zap.Duration("shutdown_timeout", shutdownTimeout),
	)

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn(
			"shutting down server failed",
			logfields.Event("http_server_termination_failed"),
			zap.String("listenAddr", srv.Addr),
			zap.Error(err),
		)
	}
}

type arguments struct {
	Verbose       *bool
	ConfigFile    *string
	ShowVersion   *bool
	FormatPayload *string
	Dialect       *string
}

var args arguments

const defConfigFile = "/etc/chatnotifier/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the chatnotifier configuration file, files with a .yaml or .yml extension are parsed as YAML, others as TOML",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		FormatPayload: pflag.String(
			"format-payload",
			"",
			"print the chat message for the GitLab webhook payload in the given file and exit",
		),
		Dialect: pflag.String(
			"dialect",
			"slack",
			"message dialect used by --format-payload, slack or mattermost",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nReceive GitLab webhook events and send chat and mail notifications.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file, cfg.FormatFromPath(*args.ConfigFile))
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	return config
}

func mustFormatPayload(path, dialect string) {
	formatter, ok := chatmsg.FormatterFor(dialect)
	if !ok {
		exitOnErr("invalid --dialect argument", fmt.Errorf("unsupported dialect: %q", dialect))
	}

	payload, err := os.ReadFile(path)
	exitOnErr("could not read payload file", err)

	msg, err := formatter.FormatPayload(payload)
	exitOnErr("formatting payload failed", err)

	out, err := json.MarshalIndent(msg, "", "  ")
	exitOnErr("encoding message failed", err)

	fmt.Println(string(out))
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

// mustStartMailer opens the mail queue and starts the mailer that drains it.
// nil is returned for both when the mail queue is not configured.
func mustStartMailer(config *cfg.Config) (*mailqueue.Store, *mailer.Mailer) {
	if config.MailQueue.Database == "" {
		return nil, nil
	}

	store, err := mailqueue.Open(config.MailQueue.Database)
	if err != nil {
		logger.Fatal(
			"opening mail queue failed",
			logfields.Event("mail_queue_open_failed"),
			zap.String("database", config.MailQueue.Database),
			zap.Error(err),
		)
	}

	smtpCfg := config.MailQueue.SMTP
	sender := mailer.NewSMTPSender(smtpCfg.Addr, smtpCfg.User, smtpCfg.Password)

	m := mailer.New(
		store,
		sender,
		smtpCfg.From,
		mailer.WithBatchSize(config.MailQueue.BatchSize),
		mailer.WithMaxAttempts(config.MailQueue.MaxAttempts),
	)

	if err := m.Start(config.MailQueue.DrainSchedule); err != nil {
		logger.Fatal(
			"starting mailer failed",
			logfields.Event("mailer_start_failed"),
			zap.Error(err),
		)
	}

	logger.Info(
		"mail queue opened",
		logfields.Event("mail_queue_opened"),
		zap.String("database", config.MailQueue.Database),
		zap.Stringer("smtp_server", sender),
		zap.String("smtp_user", smtpCfg.User),
		zap.String("smtp_password", hide(smtpCfg.Password)),
	)

	return store, m
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	if *args.FormatPayload != "" {
		mustFormatPayload(*args.FormatPayload, *args.Dialect)
		os.Exit(0)
	}

	config := mustParseCfg()

	mustInitLogger(config)

	var deps notifier.Dependencies
	mailStore, mailr := mustStartMailer(config)
	if mailStore != nil {
		deps.MailQueue = mailStore
	}

	rules, err := notifier.RulesFromCfg(config, &deps)
	exitOnErr(fmt.Sprintf("could not parse rules from configuration file: %s", *args.ConfigFile), err)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("gitlab_webhook_endpoint", config.HTTPGitlabWebhookEndpoint),
		zap.String("gitlab_webhook_secret", hide(config.GitlabWebhookSecret)),
		zap.String("metrics_endpoint", config.MetricsEndpoint),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.String("rules", rules.String()),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	if len(rules) == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: config file %s does not define any rules, nothing to do\n", *args.ConfigFile)
		os.Exit(1)
	}

	evLoop := notifier.NewEventLoop(
		rules,
		notifier.WithActionRoutineDeferFunc(panicHandler),
	)
	go evLoop.Start()

	gl := gitlab.New(
		[]chan<- *gitlab.Event{evLoop.C()},
		gitlab.WithSecretToken(config.GitlabWebhookSecret),
	)

	mux := http.NewServeMux()

	mux.HandleFunc(config.HTTPGitlabWebhookEndpoint, gl.HTTPHandler)
	logger.Info(
		"registered gitlab webhook event http endpoint",
		logfields.Event("gitlab_http_handler_registered"),
		zap.String("endpoint", config.HTTPGitlabWebhookEndpoint),
	)

	if config.MetricsEndpoint != "" {
		mux.Handle(config.MetricsEndpoint, promhttp.Handler())
		logger.Info(
			"registered prometheus metrics http endpoint",
			logfields.Event("metrics_http_handler_registered"),
			zap.String("endpoint", config.MetricsEndpoint),
		)
	}

	if mailStore != nil && config.MailQueue.StatusEndpoint != "" {
		mailqueue.NewHTTPService(mailStore).RegisterHandlers(mux, config.MailQueue.StatusEndpoint)
		logger.Info(
			"registered mail queue status http endpoint",
			logfields.Event("mail_queue_http_handler_registered"),
			zap.String("endpoint", config.MailQueue.StatusEndpoint),
		)
	}

	var servers []*http.Server

	if config.HTTPListenAddr != "" {
		servers = append(servers, startHTTPServer(config.HTTPListenAddr, mux))
	}

	if config.HTTPSListenAddr != "" {
		servers = append(servers, startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		))
	}

	// the servers must be stopped before the event loop, they send to
	// its channel
	goodbye.Register(func(context.Context, os.Signal) {
		sdNotify(daemon.SdNotifyStopping)

		for _, srv := range servers {
			shutdownServer(srv)
		}

		logger.Debug("stopping event loop", logfields.Event("event_loop_stopping"))
		evLoop.Stop()

		if mailr != nil {
			logger.Debug("stopping mailer", logfields.Event("mailer_stopping"))
			mailr.Stop()
		}

		if mailStore != nil {
			if err := mailStore.Close(); err != nil {
				logger.Warn(
					"closing mail queue failed",
					logfields.Event("mail_queue_close_failed"),
					zap.Error(err),
				)
			}
		}
	})

	sdNotify(daemon.SdNotifyReady)

	select {}
}

// sdNotify sends a state notification to systemd. It is a no-op when the
// process was not started by systemd with Type=notify.
func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn(
			"sending systemd notification failed",
			logfields.Event("systemd_notify_failed"),
			zap.String("state", state),
			zap.Error(err),
		)
		return
	}

	if sent {
		logger.Debug(
			"sent systemd notification",
			logfields.Event("systemd_notified"),
			zap.String("state", state),
		)
	}
}
