package resilience

import (
	"context"
	"sync"
	"time"

	"livetv-hub/work/config"
	"livetv-hub/work/gateway"
	"livetv-hub/work/logger"
	"livetv-hub/work/metrics"
	"livetv-hub/work/types"
)

// maxMediaRecoveries bounds in-place media-error recovery calls before the
// session gives up. Media recovery is deliberately outside the retry/ladder
// accounting: it re-requests the media playlist without burning a retry.
const maxMediaRecoveries = 3

// Autoplayer models the runtime's autoplay policy. TryUnmuted reports whether
// an unmuted start was accepted; after the bounded attempts are exhausted the
// session starts muted and surfaces a tap-to-unmute affordance.
type Autoplayer interface {
	TryUnmuted(attempt int) bool
}

// PermissiveAutoplay always allows unmuted starts; the production default.
type PermissiveAutoplay struct{}

func (PermissiveAutoplay) TryUnmuted(int) bool { return true }

// Status is a point-in-time snapshot of a playback session.
type Status struct {
	ChannelID      string               `json:"channelId"`
	ChannelName    string               `json:"channelName"`
	State          types.PlayerState    `json:"state"`
	Message        string               `json:"message,omitempty"`
	Suggestion     string               `json:"suggestion,omitempty"`
	Health         types.BufferHealth   `json:"health,omitempty"`
	BufferedAhead  float64              `json:"bufferedAheadSeconds"`
	Unstable       bool                 `json:"unstableHint"`
	Muted          bool                 `json:"muted"`
	TapToUnmute    bool                 `json:"tapToUnmute"`
	StrategyMode   types.ConnectionMode `json:"strategyMode"`
	LadderIndex    int                  `json:"ladderIndex"`
	RetryCount     int                  `json:"retryCount"`
	Renditions     []types.Rendition    `json:"renditions,omitempty"`
	SelectedHeight int                  `json:"selectedHeight"` // 0 = auto
}

// Session is one playback attempt for one channel: an explicit state machine
// that connects, plays, classifies failures and walks the escalation ladder.
// All counter mutation happens on the run goroutine's failure path; external
// callers only cancel, change quality, or read snapshots.
type Session struct {
	cfg        config.Playback
	channel    types.Channel
	gw         *gateway.Gateway
	ladder     []gateway.Strategy
	transport  func(s gateway.Strategy) Transport
	autoplay   Autoplayer
	writeBack  func(channelID string, mode types.ConnectionMode)
	userPinned bool // user chose a mode manually; never write back over it

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu             sync.Mutex
	state          types.PlayerState
	message        string
	suggestion     string
	health         types.BufferHealth
	bufferedAhead  time.Duration
	muted          bool
	tapToUnmute    bool
	ladderIdx      int
	retryCount     int
	mediaRecovers  int
	renditions     []types.Rendition
	selectedHeight int
	healthStop     context.CancelFunc
}

// NewSession constructs (but does not start) a session for a channel. The
// ladder index starts at the rung the channel's persisted connection mode
// points at, so previously discovered strategies are not re-discovered.
func NewSession(cfg config.Playback, ch types.Channel, gw *gateway.Gateway,
	transport func(gateway.Strategy) Transport, autoplay Autoplayer,
	writeBack func(string, types.ConnectionMode)) *Session {

	ladder := gateway.Ladder(cfg, gw.Config())
	ctx, cancel := context.WithCancel(context.Background())

	if autoplay == nil {
		autoplay = PermissiveAutoplay{}
	}
	if writeBack == nil {
		writeBack = func(string, types.ConnectionMode) {}
	}

	return &Session{
		cfg:        cfg,
		channel:    ch,
		gw:         gw,
		ladder:     ladder,
		transport:  transport,
		autoplay:   autoplay,
		writeBack:  writeBack,
		userPinned: ch.Mode != types.ModeAuto,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      types.StateIdle,
		ladderIdx:  gateway.StartIndex(ladder, ch.Mode),
	}
}

// Start launches the session's run loop.
func (s *Session) Start() {
	go s.run()
}

// Stop tears the session down and waits for the run loop to exit, so a new
// session can never overlap the old transport.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Done exposes completion for callers that only want to wait.
func (s *Session) Done() <-chan struct{} { return s.done }

// SetQuality selects a discrete rendition by vertical resolution, or auto
// when height is 0. The switch is picked up at the next playlist refresh
// without restarting the session or touching any counters.
func (s *Session) SetQuality(height int) {
	s.mu.Lock()
	s.selectedHeight = height
	s.mu.Unlock()
	logger.Debug("{resilience/session - SetQuality} channel %s quality -> %d", s.channel.ID, height)
}

// Snapshot returns the current session status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	renditions := make([]types.Rendition, len(s.renditions))
	copy(renditions, s.renditions)

	strategyMode := types.ModeDirect
	if s.ladderIdx < len(s.ladder) {
		strategyMode = s.ladder[s.ladderIdx].Mode
	}

	return Status{
		ChannelID:      s.channel.ID,
		ChannelName:    s.channel.Name,
		State:          s.state,
		Message:        s.message,
		Suggestion:     s.suggestion,
		Health:         s.health,
		BufferedAhead:  s.bufferedAhead.Seconds(),
		Unstable:       s.health == types.BufferPoor && s.state == types.StatePlaying,
		Muted:          s.muted,
		TapToUnmute:    s.tapToUnmute,
		StrategyMode:   strategyMode,
		LadderIndex:    s.ladderIdx,
		RetryCount:     s.retryCount,
		Renditions:     renditions,
		SelectedHeight: s.selectedHeight,
	}
}

// run is the state machine driver. Counters mutate only here, in the failure
// path; they reset exactly on a successful connect (or on user retry, which
// builds a fresh session).
func (s *Session) run() {
	defer close(s.done)
	defer s.stopHealthLoop()

	// the one combination no strategy can fix is classified before any
	// connection attempt and consumes zero retries
	if MixedContent(s.cfg.SecureOrigin, s.channel.URL) {
		s.enterError(ClassMixedContent)
		return
	}

	for {
		if s.ctx.Err() != nil {
			return
		}

		strategy := s.currentStrategy()
		err := s.connect(strategy)
		if err == nil {
			err = s.play(strategy)
			if err == nil {
				// torn down
				s.setState(types.StateIdle, "", "")
				return
			}
		}
		s.stopHealthLoop()

		if s.ctx.Err() != nil {
			return
		}
		if !s.handleFailure(ClassifyError(err)) {
			return
		}
	}
}

func (s *Session) currentStrategy() gateway.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ladderIdx >= len(s.ladder) {
		return s.ladder[len(s.ladder)-1]
	}
	return s.ladder[s.ladderIdx]
}

// connect fetches and parses the manifest chain for the active strategy and
// transitions connecting -> playing on success.
func (s *Session) connect(strategy gateway.Strategy) error {
	s.setState(types.StateConnecting, "", "")

	transport := s.transport(strategy)
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StreamTimeout)
	defer cancel()

	manifest, err := transport.FetchManifest(ctx, s.gw.WrapURL(s.channel.URL, strategy), s.channel.URL)
	if err != nil {
		return err
	}

	if manifest.Master {
		s.mu.Lock()
		s.renditions = manifest.Renditions
		height := s.selectedHeight
		s.mu.Unlock()

		media := pickRendition(manifest.Renditions, height)
		manifest, err = transport.FetchManifest(ctx, s.gw.WrapURL(media.URI, strategy), media.URI)
		if err != nil {
			return err
		}
	}

	s.onConnected(strategy, manifest)
	return nil
}

// onConnected resets the failure counters, persists a working escalated
// strategy, walks the autoplay ladder and enters playing.
func (s *Session) onConnected(strategy gateway.Strategy, manifest *Manifest) {
	s.mu.Lock()
	s.retryCount = 0
	s.mediaRecovers = 0
	escalated := s.ladderIdx > 0
	s.mu.Unlock()

	if escalated && s.cfg.WriteBackStrategy && !s.userPinned {
		s.writeBack(s.channel.ID, strategy.Mode)
		metrics.StrategyWriteBacks.WithLabelValues(string(strategy.Mode)).Inc()
	}

	muted, tap := false, false
	allowed := false
	for attempt := 1; attempt <= s.cfg.AutoplayAttempts; attempt++ {
		if s.autoplay.TryUnmuted(attempt) {
			allowed = true
			break
		}
	}
	if !allowed {
		muted, tap = true, true
		logger.Debug("{resilience/session - onConnected} unmuted autoplay rejected, starting muted")
	}

	s.mu.Lock()
	s.muted = muted
	s.tapToUnmute = tap
	s.mu.Unlock()

	s.setState(types.StatePlaying, "", "")
	s.startHealthLoop()
	logger.Info("{resilience/session - onConnected} channel %s playing via %s (%d segments buffered metadata)",
		s.channel.Name, strategy.Mode, len(manifest.Segments))
}

// play drives the live playlist refresh and segment fetch loop until a fatal
// error or teardown. Returned nil means the context was cancelled.
func (s *Session) play(strategy gateway.Strategy) error {
	transport := s.transport(strategy)
	started := time.Now()
	var fetched time.Duration
	seen := make(map[string]struct{})

	mediaURL := s.channel.URL

	for {
		if s.ctx.Err() != nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StreamTimeout)
		manifest, err := transport.FetchManifest(ctx, s.gw.WrapURL(mediaURL, strategy), mediaURL)
		if err == nil && manifest.Master {
			// quality switch target or variant redirect
			media := pickRendition(manifest.Renditions, s.currentHeight())
			manifest, err = transport.FetchManifest(ctx, s.gw.WrapURL(media.URI, strategy), media.URI)
		}
		if err != nil {
			cancel()
			return err
		}

		for _, seg := range manifest.Segments {
			if s.ctx.Err() != nil {
				cancel()
				return nil
			}
			if _, ok := seen[seg.URI]; ok {
				continue
			}
			n, err := transport.FetchSegment(ctx, s.gw.WrapURL(seg.URI, strategy))
			if err != nil {
				cancel()
				return err
			}
			seen[seg.URI] = struct{}{}
			fetched += seg.Duration
			metrics.BytesTransferred.WithLabelValues(s.channel.Name).Add(float64(n))

			s.mu.Lock()
			s.bufferedAhead = fetched - time.Since(started)
			if s.bufferedAhead < 0 {
				s.bufferedAhead = 0
			}
			ahead := s.bufferedAhead
			s.mu.Unlock()

			// once comfortably ahead, pace instead of racing the live edge
			if ahead > s.cfg.BufferTarget {
				select {
				case <-s.ctx.Done():
					cancel()
					return nil
				case <-time.After(seg.Duration / 2):
				}
			}
		}
		cancel()

		refresh := manifest.TargetDuration / 2
		if refresh <= 0 {
			refresh = 2 * time.Second
		}
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(refresh):
		}
	}
}

// handleFailure is the single place retry and ladder counters move. It
// returns true when the run loop should attempt another connection.
func (s *Session) handleFailure(class ErrorClass) bool {
	metrics.PlaybackFailures.WithLabelValues(class.String()).Inc()

	switch class {
	case ClassNetwork:
		s.mu.Lock()
		s.retryCount++
		retries := s.retryCount
		s.mu.Unlock()

		if retries <= s.cfg.MaxRetries {
			logger.Warn("{resilience/session - handleFailure} network failure on %s, in-place retry %d/%d",
				s.channel.Name, retries, s.cfg.MaxRetries)
			s.setState(types.StateNetworkError, "", "")
			return true
		}

		if s.cfg.EscalationPolicy == config.EscalationNotify {
			s.enterTerminal(types.StateFailed,
				"The stream could not be reached and proxy fallback is not supported here.",
				"Enable proxy mode manually for this channel or try a different source.")
			return false
		}

		s.mu.Lock()
		s.ladderIdx++
		s.retryCount = 0
		exhausted := s.ladderIdx >= len(s.ladder)
		idx := s.ladderIdx
		s.mu.Unlock()

		if exhausted {
			s.enterTerminal(types.StateFailed,
				"Every connection strategy for this stream failed.",
				"Mark the channel unstable or try a different source.")
			return false
		}

		metrics.StrategyEscalations.Inc()
		logger.Warn("{resilience/session - handleFailure} escalating %s to strategy %d/%d",
			s.channel.Name, idx+1, len(s.ladder))
		s.setState(types.StateNetworkError, "", "")
		return true

	case ClassMedia:
		s.mu.Lock()
		s.mediaRecovers++
		recovers := s.mediaRecovers
		s.mu.Unlock()

		if recovers <= maxMediaRecoveries {
			logger.Warn("{resilience/session - handleFailure} media error on %s, in-place recovery %d/%d",
				s.channel.Name, recovers, maxMediaRecoveries)
			s.setState(types.StateMediaError, "", "")
			return true
		}
		s.enterTerminal(types.StateFailed,
			"The stream data could not be decoded after repeated recovery attempts.",
			"Try a different source for this channel.")
		return false

	default:
		// codec, forbidden, cors-blocked, mixed-content: terminal
		s.enterError(class)
		return false
	}
}

func (s *Session) enterError(class ErrorClass) {
	message, suggestion := Guidance(class)
	s.enterTerminal(class.State(), message, suggestion)
}

func (s *Session) enterTerminal(state types.PlayerState, message, suggestion string) {
	s.setState(state, message, suggestion)
	logger.Error("{resilience/session - enterTerminal} channel %s terminal state %s: %s",
		s.channel.Name, state, message)
}

func (s *Session) setState(state types.PlayerState, message, suggestion string) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.message = message
	s.suggestion = suggestion
	s.mu.Unlock()

	if prev != state {
		metrics.SessionStates.WithLabelValues(string(state)).Inc()
	}
}

func (s *Session) currentHeight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedHeight
}

// startHealthLoop samples buffered-ahead duration on a fixed interval while
// playing, classifying it against the configured target. The loop is bound to
// its own sub-context so pause/teardown cancels it before the media state
// goes away.
func (s *Session) startHealthLoop() {
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if s.healthStop != nil {
		s.healthStop()
	}
	s.healthStop = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.state != types.StatePlaying {
					s.mu.Unlock()
					continue
				}
				s.health = ClassifyBuffer(s.bufferedAhead, s.cfg.BufferTarget)
				ahead := s.bufferedAhead
				health := s.health
				s.mu.Unlock()
				metrics.BufferedAhead.Set(ahead.Seconds())
				if health == types.BufferPoor {
					logger.Debug("{resilience/session - healthLoop} channel %s connection unstable (%.1fs buffered)",
						s.channel.Name, ahead.Seconds())
				}
			}
		}
	}()
}

func (s *Session) stopHealthLoop() {
	s.mu.Lock()
	if s.healthStop != nil {
		s.healthStop()
		s.healthStop = nil
	}
	s.health = ""
	s.mu.Unlock()
}

// ClassifyBuffer grades buffered-ahead duration against the target: good at
// or above target, warning at or above half, poor below.
func ClassifyBuffer(ahead, target time.Duration) types.BufferHealth {
	switch {
	case ahead >= target:
		return types.BufferGood
	case ahead >= target/2:
		return types.BufferWarning
	default:
		return types.BufferPoor
	}
}

// pickRendition returns the rendition matching the requested height, or the
// highest (auto) when height is 0 or unmatched.
func pickRendition(renditions []types.Rendition, height int) types.Rendition {
	if len(renditions) == 0 {
		return types.Rendition{}
	}
	if height > 0 {
		for _, r := range renditions {
			if r.Height == height {
				return r
			}
		}
	}
	return renditions[0]
}
