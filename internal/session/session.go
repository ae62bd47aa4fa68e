package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"

	"fortwave/netclient/internal/clock"
	"fortwave/netclient/internal/config"
	"fortwave/netclient/internal/dispatch"
	"fortwave/netclient/internal/input"
	"fortwave/netclient/internal/journal"
	"fortwave/netclient/internal/liveness"
	"fortwave/netclient/internal/logging"
	"fortwave/netclient/internal/ordering"
	"fortwave/netclient/internal/poll"
	"fortwave/netclient/internal/protocol"
	"fortwave/netclient/internal/router"
	"fortwave/netclient/internal/transport"
)

// ConnectionState names one phase of the session lifecycle.
type ConnectionState string

// Session lifecycle phases.
const (
	// StateDisconnected is the state before joining and after Close.
	StateDisconnected ConnectionState = "disconnected"
	// StateConnecting covers the initial stream dial after a join.
	StateConnecting ConnectionState = "connecting"
	// StateConnected means updates are flowing, by stream or by poll.
	StateConnected ConnectionState = "connected"
	// StateReconnecting means the stream was lost and recovery is underway.
	StateReconnecting ConnectionState = "reconnecting"
	// StateGivingUp is terminal: the retry budget is exhausted.
	StateGivingUp ConnectionState = "giving_up"
)

// reconnectTaskName labels the scheduled retry so teardown can find it.
const reconnectTaskName = "session.reconnect"

// disconnectReason is carried by the terminal event after retries run out.
const disconnectReason = "connection lost"

// Session errors.
var (
	// ErrNotJoined is returned by operations that require a seated match.
	ErrNotJoined = errors.New("session: no match joined")
	// ErrAlreadyJoined is returned when a session is reused for a second match.
	ErrAlreadyJoined = errors.New("session: already joined a match")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrNoTransport is returned when stream mode lacks a transport adapter.
	ErrNoTransport = errors.New("session: stream mode requires a transport adapter")
)

// Stats is a point-in-time snapshot of the session's health counters.
type Stats struct {
	State          ConnectionState   `json:"state"`
	MatchID        string            `json:"matchId,omitempty"`
	PlayerID       string            `json:"playerId"`
	Attempts       int               `json:"attempts"`
	LastApplied    uint64            `json:"lastApplied"`
	Ordering       ordering.Counters `json:"ordering"`
	Input          input.Counters    `json:"input"`
	Poll           poll.Counters     `json:"poll"`
	HeartbeatsSent uint64            `json:"heartbeatsSent"`
	RouterFailures uint64            `json:"routerFailures"`
}

// Option customises session construction.
type Option func(*Session)

// WithTransport supplies the push transport. Required in stream mode.
func WithTransport(adapter transport.Adapter) Option {
	return func(s *Session) {
		if adapter != nil {
			s.adapter = adapter
		}
	}
}

// WithScheduler overrides the timer source, mainly for tests. Schedulers
// supplied here are not stopped by Close.
func WithScheduler(scheduler clock.Scheduler) Option {
	return func(s *Session) {
		if scheduler != nil {
			s.scheduler = scheduler
			s.ownsScheduler = false
		}
	}
}

// WithLogger overrides the session logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session owns one player's view of one match: it keeps the update feed
// ordered, ships actions and inputs, supervises reconnection, and fans
// delivered updates out to listeners. A session serves exactly one match and
// is not reusable after Close.
type Session struct {
	cfg           config.Config
	logger        *log.Logger
	client        *dispatch.Client
	adapter       transport.Adapter
	scheduler     clock.Scheduler
	ownsScheduler bool

	router  *router.Router
	orderer *ordering.Orderer
	inputs  *input.Aggregator
	beats   *liveness.Heartbeat
	poller  *poll.Poller

	mu             sync.Mutex
	state          ConnectionState
	matchID        string
	conn           transport.Conn
	journal        *journal.Writer
	generation     uint64
	lostGeneration uint64
	attempts       int
	retryTask      clock.Task
	closing        bool
}

// New assembles a session around a dispatch client. The session is inert
// until Create or Join seats it in a match.
func New(cfg config.Config, client *dispatch.Client, opts ...Option) (*Session, error) {
	if client == nil {
		return nil, errors.New("session: dispatch client must be provided")
	}
	s := &Session{
		cfg:           cfg,
		logger:        logging.Discard(),
		client:        client,
		scheduler:     clock.NewScheduler(),
		ownsScheduler: true,
		state:         StateDisconnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if cfg.Mode != config.ModePoll && s.adapter == nil {
		if s.ownsScheduler {
			s.scheduler.Stop()
		}
		return nil, ErrNoTransport
	}

	//1.- Every delivered update funnels through deliver, so the orderer and
	// the poller share one pipeline into journal and listeners.
	s.router = router.New(s.logger)
	s.orderer = ordering.New(s.scheduler, s.logger, s.deliver,
		ordering.WithFlushDelay(cfg.OrderingFlushDelay))
	s.inputs = input.New(s.scheduler, s.logger, s.live, s.sendInput,
		input.WithInterval(cfg.InputInterval))
	s.beats = liveness.New(s.scheduler, s.logger, s.live, s.sendHeartbeat,
		liveness.WithInterval(cfg.HeartbeatInterval))
	s.poller = poll.New(s.scheduler, s.logger, s.fetchSync, s.orderer, s.deliver,
		poll.WithInterval(cfg.PollInterval))
	return s, nil
}

// Create provisions a fresh match, seats this player, and starts syncing.
// The returned snapshot is the caller's starting state; it is not routed to
// listeners.
func (s *Session) Create(ctx context.Context) (protocol.JoinResult, error) {
	if err := s.joinable(); err != nil {
		return protocol.JoinResult{}, err
	}
	result, err := s.client.Create(ctx)
	if err != nil {
		return protocol.JoinResult{}, err
	}
	if err := s.adopt(ctx, result); err != nil {
		return protocol.JoinResult{}, err
	}
	return result, nil
}

// Join seats this player in an existing match and starts syncing. The
// returned snapshot is the caller's starting state; it is not routed to
// listeners.
func (s *Session) Join(ctx context.Context, matchID string) (protocol.JoinResult, error) {
	if err := s.joinable(); err != nil {
		return protocol.JoinResult{}, err
	}
	result, err := s.client.Join(ctx, matchID)
	if err != nil {
		return protocol.JoinResult{}, err
	}
	if err := s.adopt(ctx, result); err != nil {
		return protocol.JoinResult{}, err
	}
	return result, nil
}

// joinable reports whether the session can still be seated in a match.
func (s *Session) joinable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closing:
		return ErrClosed
	case s.matchID != "":
		return ErrAlreadyJoined
	default:
		return nil
	}
}

// adopt wires the session to the joined match and brings up the update feed.
func (s *Session) adopt(ctx context.Context, result protocol.JoinResult) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.matchID != "" {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.matchID = result.MatchID
	s.logger = logging.WithMatch(s.logger, result.MatchID, s.client.PlayerID())
	s.mu.Unlock()

	//1.- The join snapshot seeds the cursor so history is never replayed.
	s.orderer.AdvanceTo(result.State.Seq)

	//2.- Session capture is optional; a broken journal must not kill the join.
	if s.cfg.JournalDir != "" {
		writer, err := journal.NewWriter(s.cfg.JournalDir, result.MatchID, s.client.PlayerID(),
			journal.WithClock(s.scheduler),
			journal.WithSnapshotInterval(s.cfg.JournalSnapshotInterval))
		if err != nil {
			s.logger.Warn().Str("dir", s.cfg.JournalDir).Msgf("session capture disabled: %v", err)
		} else {
			writer.StageSnapshot(result.State)
			s.mu.Lock()
			s.journal = writer
			s.mu.Unlock()
		}
	}

	//3.- Poll mode never dials: the poller alone keeps the session connected.
	if s.cfg.Mode == config.ModePoll {
		s.setState(StateConnected)
		s.poller.Start()
	} else {
		s.mu.Lock()
		s.state = StateConnecting
		s.generation++
		gen := s.generation
		matchID := s.matchID
		s.mu.Unlock()

		conn, err := s.dial(ctx, gen, matchID)
		s.mu.Lock()
		switch {
		case err != nil:
			//4.- A failed first dial is a connectivity problem, not a failed
			// join: hand it to the reconnect supervisor.
			s.state = StateReconnecting
			s.attempts = 0
			s.armRetryLocked()
			s.mu.Unlock()
			s.logger.Warn().Msgf("initial stream dial failed, retrying: %v", err)
		case s.lostGeneration >= gen:
			//5.- The channel died before adoption finished; its loss callback
			// has already moved the session to reconnecting and armed the
			// retry.
			s.mu.Unlock()
			_ = conn.Disconnect()
		default:
			s.conn = conn
			s.state = StateConnected
			s.mu.Unlock()
			s.logger.Info().Msg("stream connected")
		}
	}

	s.inputs.Start()
	s.beats.Start()
	return nil
}

// dial opens one push channel whose callbacks are pinned to a generation, so
// a superseded connection can never feed the live session.
func (s *Session) dial(ctx context.Context, gen uint64, matchID string) (transport.Conn, error) {
	callbacks := transport.Callbacks{
		OnConnect: func() {
			s.logger.Debug().Uint64("generation", gen).Msg("push channel open")
		},
		OnDisconnect: func(reason error) {
			s.onTransportLost(gen, reason)
		},
		OnMessage: func(data []byte) {
			s.onFrame(gen, data)
		},
	}
	channel := transport.Channel{MatchID: matchID, PlayerID: s.client.PlayerID()}
	return s.adapter.Connect(ctx, channel, callbacks)
}

// onFrame feeds one raw transport frame into the ordering pipeline.
func (s *Session) onFrame(gen uint64, data []byte) {
	s.mu.Lock()
	stale := s.closing || gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		//1.- Junk frames are dropped; the stream itself stays up.
		s.logger.Warn().Msgf("dropping undecodable frame: %v", err)
		return
	}
	s.orderer.Ingest(msg)
}

// onTransportLost reacts to an unrequested loss of the push channel.
func (s *Session) onTransportLost(gen uint64, reason error) {
	s.mu.Lock()
	//1.- Record the death for any rejoin attempt still in flight on this
	// generation.
	if gen > s.lostGeneration {
		s.lostGeneration = gen
	}
	if s.closing || gen != s.generation {
		s.mu.Unlock()
		return
	}
	if s.state != StateConnected && s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateReconnecting
	s.attempts = 0
	s.armRetryLocked()
	s.mu.Unlock()
	s.logger.Warn().Msgf("stream lost, reconnecting: %v", reason)
}

// armRetryLocked schedules the next reconnect attempt one full interval out.
func (s *Session) armRetryLocked() {
	s.retryTask = s.scheduler.After(reconnectTaskName, s.cfg.ReconnectInterval, s.attemptReconnect)
}

// attemptReconnect re-opens the stream and replays what the session missed.
func (s *Session) attemptReconnect() {
	s.mu.Lock()
	if s.closing || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	s.generation++
	gen := s.generation
	matchID := s.matchID
	s.mu.Unlock()

	s.logger.Info().Int("attempt", attempt).Msg("reconnecting")

	//1.- Open the channel first so no update emitted during the rejoin call
	// can fall between the backlog and the live feed.
	conn, err := s.dial(context.Background(), gen, matchID)
	if err != nil {
		s.logger.Warn().Int("attempt", attempt).Msgf("stream dial failed: %v", err)
		s.retryOrGiveUp(attempt)
		return
	}

	result, err := s.client.Rejoin(context.Background(), matchID, s.orderer.LastApplied())
	if err != nil {
		_ = conn.Disconnect()
		s.logger.Warn().Int("attempt", attempt).Msgf("rejoin refused: %v", err)
		s.retryOrGiveUp(attempt)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Disconnect()
		return
	}
	lost := s.lostGeneration >= gen
	if !lost {
		s.conn = conn
		s.state = StateConnected
		s.attempts = 0
	}
	s.mu.Unlock()

	//2.- The backlog flows through the orderer so dedupe and ordering hold
	// even when the server resends generously.
	s.applySync(result)

	if lost {
		//3.- The fresh channel died while the rejoin was in flight; the
		// backlog still counted, but the stream must be re-established.
		_ = conn.Disconnect()
		s.retryOrGiveUp(attempt)
		return
	}
	s.logger.Info().Int("attempt", attempt).Uint64("lastApplied", s.orderer.LastApplied()).Msg("reconnected")
}

// applySync replays a rejoin or poll result into the ordered pipeline.
func (s *Session) applySync(result protocol.SyncResult) {
	for _, msg := range result.Missed {
		s.orderer.Ingest(msg)
	}
	//1.- When the backlog was pruned server-side, the snapshot is the only
	// bridge: deliver it as a sequenced update and jump the cursor to it.
	if result.State.Seq > s.orderer.LastApplied() {
		msg, err := protocol.NewSequencedMessage(protocol.TypeMatchState, result.State.Seq, result.State)
		if err != nil {
			s.logger.Error().Msgf("encoding resync snapshot failed: %v", err)
			return
		}
		s.orderer.AdvanceTo(result.State.Seq)
		s.deliver(msg)
	}
}

// retryOrGiveUp arms the next attempt or ends the session's recovery.
func (s *Session) retryOrGiveUp(attempt int) {
	s.mu.Lock()
	if s.closing || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	if attempt < s.cfg.ReconnectMaxAttempts {
		s.armRetryLocked()
		s.mu.Unlock()
		return
	}
	s.state = StateGivingUp
	s.mu.Unlock()

	s.logger.Error().Int("attempts", attempt).Msg("reconnect budget exhausted, giving up")
	//1.- Listeners learn the sync is gone through the same pipeline as real
	// updates; system events bypass ordering.
	msg, err := protocol.NewSystemEvent(protocol.TypePlayerDisconnected, protocol.PlayerDisconnectedPayload{
		PlayerID: s.client.PlayerID(),
		Reason:   disconnectReason,
	})
	if err != nil {
		return
	}
	s.deliver(msg)
}

// deliver is the single pipeline every applied update passes through:
// capture, snapshot staging, then listener fan-out.
func (s *Session) deliver(msg protocol.ServerMessage) {
	s.mu.Lock()
	writer := s.journal
	s.mu.Unlock()

	writer.RecordEvent(msg)
	if msg.Type == protocol.TypeMatchState {
		if payload, err := msg.Payload(); err == nil {
			if state, ok := payload.(protocol.MatchState); ok {
				writer.StageSnapshot(state)
			}
		}
	}
	s.router.Dispatch(msg)
}

// fetchSync is the poller's view of the sync endpoint.
func (s *Session) fetchSync(ctx context.Context, since uint64) (protocol.SyncResult, error) {
	matchID := s.MatchID()
	if matchID == "" {
		return protocol.SyncResult{}, ErrNotJoined
	}
	return s.client.Sync(ctx, matchID, since)
}

// live reports whether periodic traffic should flow right now.
func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing && s.matchID != "" && s.state == StateConnected
}

// sendInput ships one aggregated movement sample, fire and forget.
func (s *Session) sendInput(dx, dz float64, at time.Time) {
	action, err := protocol.NewInputAction(dx, dz, at)
	if err != nil {
		return
	}
	s.client.SendBestEffort(context.Background(), s.MatchID(), action)
}

// sendHeartbeat ships one liveness beacon, fire and forget.
func (s *Session) sendHeartbeat(at time.Time) {
	action, err := protocol.NewHeartbeatAction(at)
	if err != nil {
		return
	}
	s.client.SendBestEffort(context.Background(), s.MatchID(), action)
}

// QueueInput stages a movement vector; only the newest sample per aggregation
// window reaches the wire.
func (s *Session) QueueInput(dx, dz float64) {
	s.inputs.Queue(dx, dz)
}

// DepositCoins spends carried coins on a build pad.
func (s *Session) DepositCoins(ctx context.Context, padID string, amount int) (protocol.ActionAck, error) {
	action, err := protocol.NewCoinDepositAction(padID, amount)
	return s.submit(ctx, action, err)
}

// DecideTower selects the building for a pad this player owns.
func (s *Session) DecideTower(ctx context.Context, padID, buildingTypeID string) (protocol.ActionAck, error) {
	action, err := protocol.NewTowerDecisionAction(padID, buildingTypeID)
	return s.submit(ctx, action, err)
}

// PickupCoin claims a coin lying at the given field position.
func (s *Session) PickupCoin(ctx context.Context, x, z float64) (protocol.ActionAck, error) {
	action, err := protocol.NewCoinPickupAction(x, z)
	return s.submit(ctx, action, err)
}

// PickWeapon swaps the held weapon.
func (s *Session) PickWeapon(ctx context.Context, weaponID string) (protocol.ActionAck, error) {
	action, err := protocol.NewWeaponPickAction(weaponID)
	return s.submit(ctx, action, err)
}

// RequestPause asks the server to pause the match.
func (s *Session) RequestPause(ctx context.Context) (protocol.ActionAck, error) {
	return s.submit(ctx, protocol.NewPauseRequestAction(), nil)
}

// RequestResume asks the server to resume a paused match.
func (s *Session) RequestResume(ctx context.Context) (protocol.ActionAck, error) {
	return s.submit(ctx, protocol.NewResumeRequestAction(), nil)
}

// ReportMatchOver reports the locally observed outcome.
func (s *Session) ReportMatchOver(ctx context.Context, victory bool) (protocol.ActionAck, error) {
	action, err := protocol.NewMatchOverAction(victory)
	return s.submit(ctx, action, err)
}

// SyncBuildState uploads the local build grid as a compressed blob.
func (s *Session) SyncBuildState(ctx context.Context, raw []byte) (protocol.ActionAck, error) {
	if len(raw) > protocol.MaxBuildBlobBytes {
		return protocol.ActionAck{}, protocol.ErrBlobTooLarge
	}
	action, err := protocol.NewBuildStateSyncAction(protocol.CompressBlob(raw))
	return s.submit(ctx, action, err)
}

// submit sends one acknowledged action for the joined match.
func (s *Session) submit(ctx context.Context, action protocol.ClientAction, err error) (protocol.ActionAck, error) {
	if err != nil {
		return protocol.ActionAck{}, err
	}
	matchID := s.MatchID()
	if matchID == "" {
		return protocol.ActionAck{}, ErrNotJoined
	}
	return s.client.Send(ctx, matchID, action)
}

// Listen registers a named listener for every delivered update. Registering
// an existing name is a no-op and returns false.
func (s *Session) Listen(name string, fn router.Listener) bool {
	return s.router.Add(name, fn)
}

// Unlisten removes a named listener, reporting whether it existed.
func (s *Session) Unlisten(name string) bool {
	return s.router.Remove(name)
}

// State reports the current lifecycle phase.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState transitions the lifecycle phase under the session lock.
func (s *Session) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// MatchID reports the joined match, or empty before a join.
func (s *Session) MatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchID
}

// PlayerID reports this session's player identity.
func (s *Session) PlayerID() string {
	return s.client.PlayerID()
}

// LastApplied reports the newest sequence number delivered to listeners.
func (s *Session) LastApplied() uint64 {
	return s.orderer.LastApplied()
}

// JournalDirectory reports where this session is being captured, or empty
// when capture is disabled.
func (s *Session) JournalDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal.Directory()
}

// Stats snapshots the session's health counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	state := s.state
	matchID := s.matchID
	attempts := s.attempts
	s.mu.Unlock()
	return Stats{
		State:          state,
		MatchID:        matchID,
		PlayerID:       s.client.PlayerID(),
		Attempts:       attempts,
		LastApplied:    s.orderer.LastApplied(),
		Ordering:       s.orderer.Counters(),
		Input:          s.inputs.Counters(),
		Poll:           s.poller.Counters(),
		HeartbeatsSent: s.beats.Sent(),
		RouterFailures: s.router.Failures(),
	}
}

/// Close tears the session down: cadences stop, the server gets a courtesy
// disconnect, and the capture is flushed. Close never triggers reconnection
// and is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	conn := s.conn
	s.conn = nil
	retry := s.retryTask
	s.retryTask = nil
	writer := s.journal
	s.journal = nil
	wasLive := s.state == StateConnected
	matchID := s.matchID
	s.state = StateDisconnected
	s.mu.Unlock()

	//1.- Stop every cadence before touching the wire so nothing re-fires
	// mid-teardown.
	if retry != nil {
		retry.Stop()
	}
	s.inputs.Stop()
	s.beats.Stop()
	s.poller.Stop()
	s.orderer.Stop()

	//2.- A courtesy notice; the server's idle reaping covers us if it fails.
	if matchID != "" && wasLive {
		s.client.SendBestEffort(context.Background(), matchID, protocol.NewDisconnectAction())
	}

	var errs *multierror.Error
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := writer.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.ownsScheduler {
		s.scheduler.Stop()
	}
	s.logger.Info().Msg("session closed")
	return errs.ErrorOrNil()
}
