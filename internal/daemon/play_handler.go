package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hkondo/kbreplay/internal/events"
	"github.com/hkondo/kbreplay/internal/keymap"
	"github.com/hkondo/kbreplay/internal/model"
	"github.com/hkondo/kbreplay/internal/player"
	"github.com/hkondo/kbreplay/internal/recording"
	"github.com/hkondo/kbreplay/internal/skill"
	"github.com/hkondo/kbreplay/internal/transform"
	"github.com/hkondo/kbreplay/internal/uds"
)

// recentSessionLimit bounds the status history kept in memory.
const recentSessionLimit = 20

// PlayParams are the parameters of a play request. SkillID and Recording are
// mutually exclusive: a skill supplies recording and transform settings from
// the store, a bare recording uses the remaining fields directly.
type PlayParams struct {
	SkillID         string   `json:"skill_id,omitempty"`
	Recording       string   `json:"recording,omitempty"`
	Speed           float64  `json:"speed,omitempty"`
	JitterTime      float64  `json:"jitter_time,omitempty"`
	JitterHold      float64  `json:"jitter_hold,omitempty"`
	LoopCount       int      `json:"loop_count,omitempty"`
	IgnoreKeys      []string `json:"ignore_keys,omitempty"`
	IgnoreTolerance float64  `json:"ignore_tolerance,omitempty"`
	// Seed fixes the randomization source for reproducible runs.
	Seed *int64 `json:"seed,omitempty"`
}

// StopParams identify the session to cancel. An empty ID stops whatever is
// currently running.
type StopParams struct {
	ID string `json:"id,omitempty"`
}

// SessionInfo is the wire form of one playback session.
type SessionInfo struct {
	ID        string               `json:"id"`
	Status    model.PlaybackStatus `json:"status"`
	Recording string               `json:"recording"`
	SkillID   string               `json:"skill_id,omitempty"`
	StartedAt string               `json:"started_at"`
	EndedAt   string               `json:"ended_at,omitempty"`
	Error     string               `json:"error,omitempty"`
	HeldKeys  int                  `json:"held_keys"`
	Loops     int                  `json:"loops"`
}

type session struct {
	mu        sync.Mutex
	id        string
	skillID   string
	recording string
	loops     int
	status    model.PlaybackStatus
	startedAt time.Time
	endedAt   time.Time
	errMsg    string
	cancel    context.CancelFunc
	plr       *player.Player
}

func (s *session) transition(to model.PlaybackStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := model.ValidatePlaybackTransition(s.status, to); err != nil {
		return
	}
	s.status = to
	if model.IsTerminal(to) {
		s.endedAt = time.Now()
		s.errMsg = errMsg
	}
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:        s.id,
		Status:    s.status,
		Recording: s.recording,
		SkillID:   s.skillID,
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
		Error:     s.errMsg,
		Loops:     s.loops,
	}
	if !s.endedAt.IsZero() {
		info.EndedAt = s.endedAt.UTC().Format(time.RFC3339)
	}
	if s.plr != nil && !model.IsTerminal(s.status) {
		info.HeldKeys = s.plr.Held()
	}
	return info
}

// sessionManager tracks the single active session plus a bounded history.
type sessionManager struct {
	mu     sync.Mutex
	active *session
	recent []*session
}

func newSessionManager() *sessionManager {
	return &sessionManager{}
}

// begin installs sess as the active session. It fails when another session
// is still running.
func (m *sessionManager) begin(sess *session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return fmt.Errorf("playback %s already running", m.active.id)
	}
	m.active = sess
	return nil
}

// finish retires the active session into the history ring.
func (m *sessionManager) finish(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == sess {
		m.active = nil
	}
	m.recent = append(m.recent, sess)
	if len(m.recent) > recentSessionLimit {
		m.recent = m.recent[len(m.recent)-recentSessionLimit:]
	}
}

func (m *sessionManager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *sessionManager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return 1
	}
	return 0
}

func (m *sessionManager) snapshot() (active *SessionInfo, recent []SessionInfo) {
	m.mu.Lock()
	act := m.active
	hist := make([]*session, len(m.recent))
	copy(hist, m.recent)
	m.mu.Unlock()

	if act != nil {
		info := act.info()
		active = &info
	}
	// Newest first
	for i := len(hist) - 1; i >= 0; i-- {
		recent = append(recent, hist[i].info())
	}
	return active, recent
}

// metricsObserver feeds playback progress into the metrics registry.
type metricsObserver struct {
	d *Daemon
}

func (o metricsObserver) PassStarted(pass int) {
	o.d.log(LogLevelDebug, "playback pass=%d started", pass)
}

func (o metricsObserver) KeyEmitted(usage uint16) {
	o.d.met.IncKeyEmitted()
}

func (d *Daemon) handlePlay(req *uds.Request) *uds.Response {
	var params PlayParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid play params: %v", err))
		}
	}

	if params.SkillID != "" {
		sk, err := d.skills.Get(params.SkillID)
		if err != nil {
			if errors.Is(err, skill.ErrNotFound) {
				return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("skill not found: %s", params.SkillID))
			}
			return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("load skill: %v", err))
		}
		params.Recording = sk.Recording
		params.Speed = sk.Speed
		params.JitterTime = sk.JitterTime
		params.JitterHold = sk.JitterHold
		params.LoopCount = sk.LoopCount
		params.IgnoreKeys = sk.IgnoreKeys
		params.IgnoreTolerance = sk.IgnoreTolerance
	}
	if params.Recording == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "either recording or skill_id is required")
	}

	recPath := params.Recording
	if !filepath.IsAbs(recPath) {
		recPath = filepath.Join(d.baseDir, "recordings", recPath)
	}
	rec, err := recording.Load(recPath, d.config.Limits.MaxRecordingBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("recording not found: %s", params.Recording))
		}
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	actions := rec.Normalize()

	loops := params.LoopCount
	if loops < 1 {
		loops = 1
	}
	if max := d.config.Playback.MaxLoopCount; max > 0 && loops > max {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("loop_count %d exceeds max_loop_count %d", loops, max))
	}

	id, err := model.GenerateID(model.IDTypePlayback)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("generate session id: %v", err))
	}

	sink, closeSink, err := d.sinkFactory()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("open output device: %v", err))
	}

	plr := player.New(sink)
	plr.SetObserver(metricsObserver{d})

	runCtx, cancelRun := context.WithCancel(d.ctx)
	sess := &session{
		id:        id,
		skillID:   params.SkillID,
		recording: params.Recording,
		loops:     loops,
		status:    model.PlaybackRunning,
		startedAt: time.Now(),
		cancel:    cancelRun,
		plr:       plr,
	}

	if err := d.sessions.begin(sess); err != nil {
		cancelRun()
		if closeSink != nil {
			_ = closeSink()
		}
		return uds.ErrorResponse(uds.ErrCodeBusy, err.Error())
	}

	opts := player.Options{
		Transform: transform.Options{
			Speed:           params.Speed,
			JitterTime:      params.JitterTime,
			JitterHold:      params.JitterHold,
			IgnoreTolerance: params.IgnoreTolerance,
		},
		LoopCount: loops,
		Resample:  d.config.Playback.Resample(),
	}
	ignore := keymap.Resolve(params.IgnoreKeys)

	seed := time.Now().UnixNano()
	if params.Seed != nil {
		seed = *params.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	d.met.IncStarted()
	d.bus.Publish(events.EventPlaybackStarted, map[string]interface{}{
		"playback_id": id,
		"skill_id":    params.SkillID,
		"recording":   params.Recording,
		"loops":       loops,
	})
	d.log(LogLevelInfo, "playback %s started recording=%s loops=%d seed=%d", id, params.Recording, loops, seed)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancelRun()

		runErr := plr.Run(runCtx, actions, opts, ignore, rng)
		if closeSink != nil {
			_ = closeSink()
		}

		switch {
		case runErr == nil:
			sess.transition(model.PlaybackCompleted, "")
			d.met.IncCompleted()
			d.bus.Publish(events.EventPlaybackCompleted, map[string]interface{}{
				"playback_id": id,
			})
			d.log(LogLevelInfo, "playback %s completed", id)
		case errors.Is(runErr, context.Canceled):
			sess.transition(model.PlaybackCancelled, "")
			d.met.IncCancelled()
			d.bus.Publish(events.EventPlaybackCancelled, map[string]interface{}{
				"playback_id": id,
			})
			d.log(LogLevelInfo, "playback %s cancelled", id)
		default:
			sess.transition(model.PlaybackFailed, runErr.Error())
			d.met.IncFailed()
			d.bus.Publish(events.EventPlaybackFailed, map[string]interface{}{
				"playback_id": id,
				"error":       runErr.Error(),
			})
			d.log(LogLevelError, "playback %s failed error=%v", id, runErr)
		}

		d.sessions.finish(sess)
	}()

	return uds.SuccessResponse(map[string]interface{}{
		"id":     id,
		"status": string(model.PlaybackRunning),
		"loops":  loops,
	})
}

func (d *Daemon) handleStop(req *uds.Request) *uds.Response {
	var params StopParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid stop params: %v", err))
		}
	}

	sess := d.sessions.current()
	if sess == nil {
		return uds.ErrorResponse(uds.ErrCodeNotFound, "no playback running")
	}
	if params.ID != "" && params.ID != sess.id {
		return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("playback not running: %s", params.ID))
	}

	d.log(LogLevelInfo, "playback %s stop requested", sess.id)
	sess.cancel()

	return uds.SuccessResponse(map[string]string{
		"id":     sess.id,
		"status": "stopping",
	})
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	active, recent := d.sessions.snapshot()
	return uds.SuccessResponse(map[string]interface{}{
		"active": active,
		"recent": recent,
	})
}
