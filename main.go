package main

import (
	"flag"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"crypto/tls"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lawRathod/minidote/comm"
	"github.com/lawRathod/minidote/config"
	"github.com/lawRathod/minidote/crypto"
	"github.com/lawRathod/minidote/node"
	"github.com/lawRathod/minidote/storage"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

func main() {

	// Set CPUs usable by minidote to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flag that defines a config path.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	flag.Parse()

	logger := initLogger(*loglevelFlag)

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	// Overlay host-specific values from the environment.
	env, err := config.LoadEnv()
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the environment", "err", err,
		)
		os.Exit(1)
	}
	env.Apply(conf)

	name := conf.Replica.Name
	logger = log.With(logger, "replica", name)

	metrics := NewMinidoteMetrics(conf.Replica.PrometheusAddr)
	go runPromHTTP(logger, conf.Replica.PrometheusAddr)

	// Build the TLS config of the sync transport when
	// certificate material is configured.
	var tlsConfig *tls.Config
	if conf.Replica.TLS != nil {

		tlsConfig, err = crypto.NewInternalTLSConfig(
			conf.Replica.TLS.CertLoc,
			conf.Replica.TLS.KeyLoc,
			conf.Replica.TLS.RootCertLoc,
		)
		if err != nil {
			level.Error(logger).Log(
				"msg", "failed to build internal TLS config", "err", err,
			)
			os.Exit(1)
		}
	}

	// Open the durable artefacts.
	wal, err := storage.OpenWAL(
		log.With(logger, "component", "wal"),
		filepath.Join(conf.Replica.DataDir, "wal"),
		conf.Replica.WALSegmentSize,
		conf.Replica.WALSegmentRetention,
	)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to open write-ahead log", "err", err,
		)
		os.Exit(1)
	}

	snapshots, err := storage.OpenSnapshotStore(filepath.Join(conf.Replica.DataDir, "snapshot.db"))
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to open snapshot store", "err", err,
		)
		os.Exit(1)
	}

	// Start to listen for incoming sync envelopes.
	var socket net.Listener
	if tlsConfig != nil {
		socket, err = tls.Listen("tcp", conf.Replica.ListenSyncAddr, tlsConfig)
	} else {
		socket, err = net.Listen("tcp", conf.Replica.ListenSyncAddr)
	}
	if err != nil {
		level.Error(logger).Log(
			"msg", "listening for sync connections failed", "err", err,
		)
		os.Exit(1)
	}

	level.Info(logger).Log(
		"msg", "listening for incoming sync envelopes",
		"addr", socket.Addr().String(),
	)

	membership := comm.NewStaticMembership(name, conf.Peers)

	bcast, sender := comm.InitSender(
		log.With(logger, "component", "sender"),
		name, tlsConfig, membership,
	)

	// Recover the replica engine from snapshot and log.
	svc, err := node.NewService(
		log.With(logger, "component", "engine"),
		name,
		node.Options{
			SnapshotInterval: conf.Replica.SnapshotInterval,
			WaitDeadline:     time.Duration(conf.Replica.WaitDeadlineMS) * time.Millisecond,
			Metrics:          metrics.Engine,
		},
		wal, snapshots, bcast,
	)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to recover replica engine", "err", err,
		)
		os.Exit(1)
	}

	svc = node.NewInstrumentingService(svc, metrics.Engine)
	svc = node.NewLoggingService(svc, log.With(logger, "component", "engine"))

	receiver := comm.InitReceiver(
		log.With(logger, "component", "receiver"),
		name, socket,
	)
	receiver.RegisterReceiver(svc.InjectEnvelope)

	level.Info(logger).Log(
		"msg", "replica is up",
		"peers", len(membership.OtherMembers()),
	)

	// Wait for a shutdown signal, then stop the transport
	// first and close the engine last so that a final
	// snapshot covers everything applied.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	level.Info(logger).Log("msg", "shutting down")

	receiver.Shutdown()
	sender.Shutdown()

	if err := svc.Close(); err != nil {
		level.Error(logger).Log(
			"msg", "failed to close replica engine", "err", err,
		)
		os.Exit(1)
	}
}
