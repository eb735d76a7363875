package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	kafka "github.com/segmentio/kafka-go"

	"github.com/GamerOZE123/campus-social-grid-sub000/auth"
	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
	"github.com/GamerOZE123/campus-social-grid-sub000/store"
	"github.com/GamerOZE123/campus-social-grid-sub000/ws"
)

const (
	kafkaGroupId = "chatgrid"
	kafkaTopic   = "chatgrid-row-changes"

	kafkaReadTimeout  = 10 * time.Second
	kafkaWriteTimeout = 10 * time.Second

	// msgContentMaxBytes caps one outgoing message's content.
	msgContentMaxBytes = 4096

	// feedValueMaxBytes caps one change-feed payload; a Change wraps a full
	// row plus envelope, so it is larger than the content cap.
	feedValueMaxBytes = 16384
)

var (
	flagAddr         = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile      = flag.String("pid-file", "chatgrid.pid", "pid file")
	flagMysqlDsn     = flag.String("mysql-dsn", "root:@tcp(127.0.0.1:3306)/chatgrid?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci", "mysql server dsn")
	flagKafkaBrokers = flag.String("kafka-brokers", "127.0.0.1:9092", "comma separated kafka brokers")
	flagRedisAddr    = flag.String("redis-addr", "127.0.0.1:6379", "redis server address, host:port")
	flagJournalFile  = flag.String("journal-file", "chatgrid-feed.db", "local feed offset journal file")

	flagJwtSecret = flag.String("jwt-secret", "", "HMAC secret for bearer token auth")
	flagMockAuth  = flag.Bool("mock-auth", false, "trust the x-uid cookie instead of bearer tokens, dev only")

	flagPageSize   = flag.Uint("page-size", 50, "timeline page size, allowed value in [10, 200]")
	flagTypingIdle = flag.Duration("typing-idle", 3*time.Second, "typing indicator auto-clear window")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	db, err := sql.Open("mysql", *flagMysqlDsn)
	if err != nil {
		return errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(1)

	glog.Info("chatgrid server is starting")

	journal, err := feed.OpenJournal(*flagJournalFile)
	if err != nil {
		return errorf("journal: %v", err)
	}

	kafkaBrokers := strings.Split(*flagKafkaBrokers, ",")

	kafkaReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: kafkaBrokers,
		GroupID: kafkaGroupId,
		Topic:   kafkaTopic,
		Dialer: &kafka.Dialer{
			Timeout:   kafkaReadTimeout,
			DualStack: true,
		},
	})

	kafkaWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  kafkaBrokers,
		Topic:    kafkaTopic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})

	redisClient := redis.NewClient(&redis.Options{Addr: *flagRedisAddr})

	dispatcher := feed.NewDispatcher()
	kafkaSource := feed.NewKafkaSource(kafkaReader, dispatcher, journal, kafkaGroupId, feedValueMaxBytes)
	redisSource := feed.NewRedisSource(redisClient, "", dispatcher)

	kafkaPublisher := feed.NewKafkaPublisher(kafkaWriter)
	publisher := &feed.Router{
		Durable:   kafkaPublisher,
		Ephemeral: feed.NewRedisPublisher(redisClient, ""),
	}

	conversations := store.NewConversations(db, publisher)

	hub := ws.NewHub(newAuthClient(), conversations, dispatcher, &ws.Conf{
		MaxMsgSize: msgContentMaxBytes,
		PageSize:   int(*flagPageSize),
		TypingIdle: *flagTypingIdle,
	})

	mux := http.DefaultServeMux
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kafkaStopC := make(chan struct{})
	redisStopC := make(chan struct{})
	hubStopC := make(chan struct{})

	go kafkaSource.Run(ctx, kafkaStopC)
	go redisSource.Run(ctx, redisStopC)
	go hub.Run(ctx, hubStopC)

	httpServer := &http.Server{Addr: *flagAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("http server error: %v", err)
		}
	}()

	glog.Infof("chatgrid server is serving at %s", *flagAddr)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			if prof != nil {
				prof.dumpGoroutines()
			}
		case syscall.SIGUSR2:
			if prof == nil {
				prof = StartProfiler(pprofDir)
			} else {
				prof.Stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("chatgrid server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s`, stopping", sig.String())
			go func() {
				if prof != nil {
					prof.Stop()
				}

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = httpServer.Shutdown(shutdownCtx)
				shutdownCancel()

				cancel()
				<-kafkaStopC
				<-redisStopC
				<-hubStopC

				_ = kafkaPublisher.Close()
				_ = redisClient.Close()
				_ = journal.Close()
				_ = db.Close()
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	glog.Info("chatgrid server exited")
	return 0
}

func newAuthClient() auth.Client {
	if *flagMockAuth {
		return &auth.MockClient{}
	}
	return auth.NewJWTClient(*flagJwtSecret)
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagJournalFile == "" {
		return errorf("--journal-file is required")
	}

	if len(*flagKafkaBrokers) == 0 {
		return errorf("--kafka-brokers is required.")
	}
	if *flagRedisAddr == "" {
		return errorf("--redis-addr is required.")
	}
	if *flagMysqlDsn == "" {
		return errorf("--mysql-dsn is required.")
	}

	if !*flagMockAuth && *flagJwtSecret == "" {
		return errorf("--jwt-secret is required unless --mock-auth is set")
	}

	if *flagPageSize < 10 || *flagPageSize > 200 {
		return errorf("invalid --page-size, expect in range [10, 200]")
	}
	if *flagTypingIdle < time.Second || *flagTypingIdle > time.Minute {
		return errorf("invalid --typing-idle, expect in range [1s, 1m]")
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// Ok, see, if we have a stale lockfile here
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			} else {
				glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
