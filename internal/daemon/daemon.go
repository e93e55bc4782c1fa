// Package daemon runs the kbreplay playback daemon: the UDS command
// surface, the playback session manager, the skill store, and the event
// journal.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hkondo/kbreplay/internal/events"
	"github.com/hkondo/kbreplay/internal/hid"
	"github.com/hkondo/kbreplay/internal/lock"
	"github.com/hkondo/kbreplay/internal/metrics"
	"github.com/hkondo/kbreplay/internal/model"
	"github.com/hkondo/kbreplay/internal/player"
	"github.com/hkondo/kbreplay/internal/skill"
	"github.com/hkondo/kbreplay/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// SinkFactory opens the output sink for one playback session. The returned
// closer releases the device when the session ends.
type SinkFactory func() (player.Sink, func() error, error)

// Daemon is the main kbreplay daemon process.
type Daemon struct {
	baseDir  string
	config   model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	adminSrv *http.Server

	bus      *events.Bus
	journal  *events.Journal
	unsubs   []func()
	met      *metrics.Metrics
	skills   *skill.Store
	sessions *sessionManager
	lockMap  *lock.MutexMap

	sinkFactory SinkFactory

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a new Daemon instance logging to logs/daemon.log.
func New(baseDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(baseDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(baseDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(baseDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	lockMap := lock.NewMutexMap()

	d := &Daemon{
		baseDir:  baseDir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(baseDir, "locks", "daemon.lock")),
		server:   uds.NewServer(ctx, filepath.Join(baseDir, uds.DefaultSocketName)),
		bus:      events.NewBus(256),
		met:      metrics.New(),
		skills:   skill.NewStore(filepath.Join(baseDir, "skills", "skills.yaml"), lockMap),
		sessions: newSessionManager(),
		lockMap:  lockMap,
		ctx:      ctx,
		cancel:   cancel,
	}
	d.sinkFactory = func() (player.Sink, func() error, error) {
		g, err := hid.OpenGadget(cfg.Output.Device)
		if err != nil {
			return nil, nil, err
		}
		return g, g.Close, nil
	}

	return d, nil
}

// SetSinkFactory overrides how sessions open their output sink.
// Must be called before Run().
func (d *Daemon) SetSinkFactory(f SinkFactory) {
	d.sinkFactory = f
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Singleton lock
	if err := os.MkdirAll(filepath.Join(d.baseDir, "locks"), 0700); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Event journal wired as a bus subscriber, so writing it can
	// never block playback
	journalPath := d.config.Journal.Path
	if journalPath == "" {
		journalPath = filepath.Join(d.baseDir, "logs", "events.jsonl")
	}
	journal, err := events.NewJournal(journalPath, d.config.Journal.MaxSizeBytes)
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("open journal: %w", err)
	}
	d.journal = journal
	d.subscribeJournal()

	// Step 3: Watch skill and recording directories
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	skillsDir := filepath.Join(d.baseDir, "skills")
	recordingsDir := filepath.Join(d.baseDir, "recordings")
	for _, dir := range []string{skillsDir, recordingsDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			d.cleanup()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	// Step 4: Register UDS handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.baseDir, uds.DefaultSocketName))

	// Step 5: Admin endpoint (metrics + health), when configured
	if addr := d.config.Daemon.AdminAddr; addr != "" {
		d.startAdmin(addr)
	}

	// Step 6: Background loops
	d.wg.Add(1)
	go d.fsnotifyLoop()

	d.log(LogLevelInfo, "daemon ready device=%s", d.config.Output.Device)

	// Step 7: Wait for signals
	d.waitSignals()

	return nil
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle("play", d.handlePlay)
	d.server.Handle("stop", d.handleStop)
	d.server.Handle("status", d.handleStatus)

	d.server.Handle("skill_list", d.handleSkillList)
	d.server.Handle("skill_create", d.handleSkillCreate)
	d.server.Handle("skill_update", d.handleSkillUpdate)
	d.server.Handle("skill_delete", d.handleSkillDelete)
	d.server.Handle("skill_reorder", d.handleSkillReorder)
}

func (d *Daemon) subscribeJournal() {
	record := func(e events.Event) {
		details := e.Data
		if details == nil {
			details = map[string]interface{}{}
		}
		if err := d.journal.Record(string(e.Type), details); err != nil {
			d.log(LogLevelWarn, "journal write error=%v", err)
		}
	}
	for _, et := range []events.EventType{
		events.EventPlaybackStarted,
		events.EventPlaybackCompleted,
		events.EventPlaybackCancelled,
		events.EventPlaybackFailed,
		events.EventSkillChanged,
	} {
		d.unsubs = append(d.unsubs, d.bus.Subscribe(et, record))
	}
}

func (d *Daemon) startAdmin(addr string) {
	handler := d.met.Router(func() {
		d.met.SetActivePlaybacks(d.sessions.activeCount())
	})
	d.adminSrv = &http.Server{Addr: addr, Handler: handler}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.log(LogLevelInfo, "admin endpoint listening on %s", addr)
		if err := d.adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log(LogLevelError, "admin server error=%v", err)
		}
	}()
}

// fsnotifyLoop surfaces skill store edits made behind the daemon's back.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	skillsFile := filepath.Join(d.baseDir, "skills", "skills.yaml")
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
			if event.Name == skillsFile {
				d.bus.Publish(events.EventSkillChanged, map[string]interface{}{
					"source": "filesystem",
				})
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once). Any
// in-flight playback is cancelled, which releases its held keys before the
// session goroutine exits.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context: stops the active playback and the loops
		d.cancel()

		// 2. Stop producers
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}
		if d.adminSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = d.adminSrv.Shutdown(shutdownCtx)
			cancel()
		}

		// 3. Drain in-flight sessions with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	d.bus.Close()
	if d.journal != nil {
		_ = d.journal.Close()
	}
	_ = os.Remove(filepath.Join(d.baseDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
