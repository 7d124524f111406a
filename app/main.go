package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	gonotify "github.com/go-pkgz/notify"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/jobtrack/app/notify"
	"github.com/umputun/jobtrack/app/persistence"
	"github.com/umputun/jobtrack/app/store"
	"github.com/umputun/jobtrack/app/web"
)

var opts struct {
	Listen     string        `short:"l" long:"listen" env:"JOBTRACK_LISTEN" default:":8080" description:"listen address"`
	DB         string        `long:"db" env:"JOBTRACK_DB" default:"jobtrack.db" description:"sqlite database file"`
	OpenSignup bool          `long:"open-signup" env:"JOBTRACK_OPEN_SIGNUP" description:"allow self-registration"`
	LoginTTL   time.Duration `long:"login-ttl" env:"JOBTRACK_LOGIN_TTL" default:"24h" description:"session lifetime"`

	Remote struct {
		URL     string        `long:"url" env:"URL" description:"remote records backend url, sqlite used when empty"`
		APIKey  string        `long:"apikey" env:"APIKEY" description:"remote backend api key"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"remote backend request timeout"`
	} `group:"remote" namespace:"remote" env-namespace:"JOBTRACK_REMOTE"`

	Reminder struct {
		Enabled      bool          `long:"enabled" env:"ENABLED" description:"enable deadline reminders"`
		Schedule     string        `long:"schedule" env:"SCHEDULE" default:"0 8 * * *" description:"reminder sweep schedule"`
		Horizon      int           `long:"horizon" env:"HORIZON" default:"3" description:"reminder horizon, days"`
		Destinations []string      `long:"to" env:"TO" env-delim:"," description:"destinations, {email} is replaced per user"`
		Concurrency  int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"parallel user sweeps"`
		SMTPHost     string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort     int           `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP port"`
		SMTPUsername string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS      bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut  time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP connection timeout"`
	} `group:"reminder" namespace:"reminder" env-namespace:"JOBTRACK_REMINDER"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times repeat failed delivery"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"JOBTRACK_REPEATER"`

	Log struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		File       string `long:"file" env:"FILE" description:"log to file instead of stdout"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size, megabytes"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"rotated files to keep"`
	} `group:"log" namespace:"log" env-namespace:"JOBTRACK_LOG"`

	Dbg bool `long:"dbg" env:"JOBTRACK_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("jobtrack %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	db, err := persistence.NewSQLite(opts.DB)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", opts.DB, err)
	}
	defer func() {
		if e := db.Close(); e != nil {
			log.Printf("[WARN] failed to close database: %v", e)
		}
	}()

	// records live in sqlite unless a remote backend is configured,
	// accounts stay local either way
	var records store.Persistence = db
	if opts.Remote.URL != "" {
		records = persistence.NewRemote(opts.Remote.URL, opts.Remote.APIKey, opts.Remote.Timeout)
		log.Printf("[INFO] using remote records backend %s", opts.Remote.URL)
	}

	srv, err := web.New(web.Config{
		Persistence: records,
		Users:       db,
		Version:     revision,
		LoginTTL:    opts.LoginTTL,
		OpenSignup:  opts.OpenSignup,
	})
	if err != nil {
		return fmt.Errorf("failed to make web server: %w", err)
	}

	if opts.Reminder.Enabled {
		rptr := repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
			Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})
		reminders := &notify.Service{
			Data:         reminderData{users: db, records: records},
			Senders:      makeSenders(),
			Repeater:     rptr,
			Destinations: opts.Reminder.Destinations,
			Schedule:     opts.Reminder.Schedule,
			HorizonDays:  opts.Reminder.Horizon,
			Concurrency:  opts.Reminder.Concurrency,
		}
		go func() {
			if e := reminders.Run(ctx); e != nil && !errors.Is(e, context.Canceled) {
				log.Printf("[WARN] reminder service terminated: %v", e)
			}
		}()
	}

	return srv.Run(ctx, opts.Listen)
}

// reminderData joins the local account table with whichever backend holds the
// records, satisfies notify.DataSource
type reminderData struct {
	users   *persistence.SQLite
	records store.Persistence
}

func (d reminderData) ListUsers(ctx context.Context) ([]persistence.User, error) {
	return d.users.ListUsers(ctx)
}

func (d reminderData) ListJobs(ctx context.Context, userID string) ([]store.JobRecord, error) {
	return d.records.ListJobs(ctx, userID)
}

func makeSenders() []notify.Sender {
	var senders []notify.Sender
	if opts.Reminder.SMTPHost != "" {
		senders = append(senders, gonotify.NewEmail(gonotify.SMTPParams{
			Host:        opts.Reminder.SMTPHost,
			Port:        opts.Reminder.SMTPPort,
			TLS:         opts.Reminder.SMTPTLS,
			Username:    opts.Reminder.SMTPUsername,
			Password:    opts.Reminder.SMTPPassword,
			TimeOut:     opts.Reminder.SMTPTimeOut,
			ContentType: "text/plain",
		}))
	}
	senders = append(senders, gonotify.NewWebhook(gonotify.WebhookParams{Timeout: 10 * time.Second}))
	return senders
}

func setupLogs() {
	if !opts.Log.Enabled {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return
	}

	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.LevelBraces, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}
	if opts.Log.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.Log.File,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			Compress:   true,
		}
		logOpts = append(logOpts, log.Out(fileWriter), log.Err(fileWriter))
	}
	log.Setup(logOpts...)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM or SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
