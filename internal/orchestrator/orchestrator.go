// Package orchestrator coordinates one transcription job end to end:
// submission, realtime streaming, registry mirroring, the polling
// fallback, and cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/affirmly/scribesync/internal/db/models"
	"github.com/affirmly/scribesync/internal/logger"
	"github.com/affirmly/scribesync/internal/realtime"
	"github.com/affirmly/scribesync/internal/types"
)

// Orchestration defaults
const (
	// DefaultConnectWait bounds how long to wait for the channel to
	// open before polling starts
	DefaultConnectWait = 5 * time.Second
	// DefaultPollInterval is the polling fallback cadence
	DefaultPollInterval = 3 * time.Second
	// DefaultRequestTimeout bounds the internal poll requests
	DefaultRequestTimeout = 10 * time.Second
)

// Phase is the orchestrator's lifecycle state as seen by UI callers
type Phase string

// Orchestrator phases
const (
	PhaseIdle               Phase = "idle"
	PhaseSubmitting         Phase = "submitting"
	PhaseAwaitingConnection Phase = "awaiting_connection"
	PhaseStreaming          Phase = "streaming"
	PhaseCompleted          Phase = "completed"
	PhaseFailed             Phase = "failed"
	PhaseCancelled          Phase = "cancelled"
)

// Terminal reports whether the phase admits no further transitions
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// RemoteService is the remote transcription API surface the
// orchestrator needs; implemented by remote.Client.
type RemoteService interface {
	SubmitJob(ctx context.Context, audio io.Reader, opts types.SubmitOptions) (*types.SubmitResponse, error)
	GetJobStatus(ctx context.Context, jobID string) (*types.JobStatusPayload, error)
	CancelJob(ctx context.Context, jobID string) error
}

// JobStore is the registry surface the orchestrator mirrors updates
// into; implemented by repos.JobRepository and by the HTTP API client.
type JobStore interface {
	Create(ctx context.Context, jobID, ownerID, fileName string, fileSize int64) (*models.Job, error)
	ApplyUpdate(ctx context.Context, jobID string, update models.Update) error
	Cancel(ctx context.Context, jobID, ownerID, reason string) error
	Get(ctx context.Context, jobID, ownerID string) (*models.Job, error)
}

// Snapshot is the orchestrator's local, transport-agnostic view of the
// job. It updates immediately on every frame or poll result, so the
// initiating UI never waits on registry replication.
type Snapshot struct {
	JobID    string
	Phase    Phase
	Status   models.JobStatus
	Progress int
	Message  string
	Error    string
	Result   *types.TranscriptResult
}

// Config tunes the orchestrator; zero values take the defaults above
type Config struct {
	ConnectWait    time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Channel        realtime.Config
}

func (c Config) withDefaults() Config {
	if c.ConnectWait == 0 {
		c.ConnectWait = DefaultConnectWait
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Orchestrator drives one job. It is the state machine of record for
// its caller: whichever transport (channel or polling) reports a
// terminal state first wins, and the other is stopped.
type Orchestrator struct {
	remote  RemoteService
	store   JobStore
	ownerID string
	cfg     Config

	mu           sync.Mutex
	phase        Phase
	snap         Snapshot
	channel      *realtime.Channel
	connectTimer *time.Timer
	pollStop     chan struct{}
	closed       bool

	done     chan struct{}
	doneOnce sync.Once

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Snapshot)
}

// New creates an orchestrator for a single job submission on behalf of
// ownerID. All collaborators are injected; the orchestrator holds no
// ambient state.
func New(remoteSvc RemoteService, store JobStore, ownerID string, cfg Config) *Orchestrator {
	return &Orchestrator{
		remote:  remoteSvc,
		store:   store,
		ownerID: ownerID,
		cfg:     cfg.withDefaults(),
		phase:   PhaseIdle,
		done:    make(chan struct{}),
		subs:    make(map[int]func(Snapshot)),
	}
}

// Subscribe registers a listener for snapshot changes and returns its
// unregister function
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
	}
}

// Snapshot returns the current local view of the job
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Done is closed once the job reaches a terminal phase
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Start submits the audio and begins tracking the job. It returns the
// job id once the remote service accepts the submission; progress then
// flows through Subscribe/Snapshot and into the registry. Submission
// failures are returned directly and are not retried here.
func (o *Orchestrator) Start(ctx context.Context, audio io.Reader, opts types.SubmitOptions) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator is closed")
	}
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return "", fmt.Errorf("job already started (phase %s)", o.phase)
	}
	o.phase = PhaseSubmitting
	o.mu.Unlock()

	resp, err := o.remote.SubmitJob(ctx, audio, opts)
	if err != nil {
		o.mu.Lock()
		o.phase = PhaseIdle
		o.mu.Unlock()
		return "", err
	}

	if _, err := o.store.Create(ctx, resp.JobID, o.ownerID, opts.FileName, opts.FileSize); err != nil {
		o.mu.Lock()
		o.phase = PhaseIdle
		o.mu.Unlock()
		return "", fmt.Errorf("failed to register job %s: %w", resp.JobID, err)
	}

	o.mu.Lock()
	o.phase = PhaseAwaitingConnection
	o.snap = Snapshot{
		JobID:  resp.JobID,
		Phase:  PhaseAwaitingConnection,
		Status: models.JobStatusPending,
	}
	jobID := resp.JobID

	if resp.WebsocketURL != "" {
		ch := realtime.New(o.cfg.Channel)
		o.channel = ch
		ch.OnConnected(o.handleConnected)
		ch.OnFrame(o.handleFrame)
		ch.OnDisconnected(o.handleDisconnected)
		ch.OnError(o.handleChannelError)
		o.connectTimer = time.AfterFunc(o.cfg.ConnectWait, o.connectWaitExpired)
		o.mu.Unlock()
		o.emit()
		ch.Connect(resp.WebsocketURL, jobID)
	} else {
		o.mu.Unlock()
		o.emit()
		o.startPolling()
	}

	return jobID, nil
}

// Cancel requests cancellation from the remote service. Only when the
// remote call succeeds is the registry moved to cancelled and the
// channel torn down; on failure the local state keeps reflecting the
// actual remote state and polling re-syncs it.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	jobID := o.snap.JobID
	terminal := o.phase.Terminal()
	o.mu.Unlock()

	if jobID == "" {
		return fmt.Errorf("no job to cancel")
	}
	if terminal {
		return fmt.Errorf("job already finished")
	}

	if err := o.remote.CancelJob(ctx, jobID); err != nil {
		// Do not claim a cancellation the service did not confirm
		o.startPolling()
		return err
	}

	reason := "cancelled by user"
	if err := o.store.Cancel(ctx, jobID, o.ownerID, reason); err != nil {
		return err
	}

	o.mu.Lock()
	o.snap.Status = models.JobStatusCancelled
	o.snap.Message = reason
	o.mu.Unlock()
	o.finish(PhaseCancelled)
	return nil
}

// Close releases every timer, ticker and socket the orchestrator owns.
// It is safe to call at any point and any number of times; the registry
// record is left untouched.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopTimersLocked()
	ch := o.channel
	o.channel = nil
	o.mu.Unlock()

	if ch != nil {
		ch.Disconnect()
	}
}

func (o *Orchestrator) handleConnected() {
	o.mu.Lock()
	if o.phase == PhaseAwaitingConnection {
		o.phase = PhaseStreaming
		o.snap.Phase = PhaseStreaming
	}
	if o.connectTimer != nil {
		o.connectTimer.Stop()
		o.connectTimer = nil
	}
	o.mu.Unlock()
	o.emit()
}

func (o *Orchestrator) handleFrame(frame types.Frame) {
	switch frame.Type {
	case types.FrameProgress, types.FrameCompleted, types.FrameError, types.FrameStatus:
	default:
		return
	}

	payload, err := decodeFramePayload(frame)
	if err != nil {
		logger.Warnf("dropping undecodable %s frame for job %s: %v", frame.Type, frame.JobID, err)
		return
	}
	o.applyPayload(payload)
}

// handleDisconnected reacts to the channel reaching its terminal Closed
// state before the job did, such as a peer that closes cleanly during a
// restart. Transient drops keep state Connecting and are left to the
// reconnect cycle; exhaustion is handled by handleChannelError.
func (o *Orchestrator) handleDisconnected(error) {
	o.mu.Lock()
	ch := o.channel
	terminal := o.phase.Terminal()
	o.mu.Unlock()

	if ch == nil || terminal || ch.State() != realtime.StateClosed {
		return
	}
	logger.Warnf("channel closed before the job finished, falling back to polling")
	o.startPolling()
}

func (o *Orchestrator) handleChannelError(err error) {
	if errors.Is(err, realtime.ErrReconnectExhausted) {
		// Channel is gone for good; polling becomes the sole source of truth
		logger.Warnf("realtime channel exhausted, falling back to polling")
		o.startPolling()
		return
	}
	logger.Debugf("channel error: %v", err)
}

func (o *Orchestrator) connectWaitExpired() {
	o.mu.Lock()
	pending := o.phase == PhaseAwaitingConnection
	o.mu.Unlock()
	if pending {
		logger.Infof("no channel connection within %s, starting polling", o.cfg.ConnectWait)
		o.startPolling()
	}
}

// startPolling launches the polling fallback loop if it is not already
// running. Polling runs alongside the channel; the first terminal
// signal from either transport stops both.
func (o *Orchestrator) startPolling() {
	o.mu.Lock()
	if o.closed || o.pollStop != nil || o.phase.Terminal() {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	o.pollStop = stop
	jobID := o.snap.JobID
	o.mu.Unlock()

	go func() {
		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestTimeout)
				payload, err := o.remote.GetJobStatus(ctx, jobID)
				cancel()
				if err != nil {
					logger.Warnf("poll for job %s failed: %v", jobID, err)
					continue
				}
				o.applyPayload(payload)
			}
		}
	}()
}

// applyPayload is the single merge point for both transports: it
// mirrors the update into the registry and the local snapshot, then
// finishes the job if the payload is terminal.
func (o *Orchestrator) applyPayload(payload *types.JobStatusPayload) {
	status, err := models.ParseJobStatus(payload.Status)
	if err != nil {
		logger.Warnf("dropping update with invalid status %q", payload.Status)
		return
	}

	update, err := payload.ToUpdate()
	if err != nil {
		logger.Warnf("dropping undecodable update: %v", err)
		return
	}

	o.mu.Lock()
	if o.phase.Terminal() {
		// Late duplicate from the losing transport
		o.mu.Unlock()
		return
	}
	jobID := o.snap.JobID
	o.snap.Status = status
	if payload.Progress != nil && *payload.Progress > o.snap.Progress {
		o.snap.Progress = *payload.Progress
	}
	if status == models.JobStatusCompleted {
		o.snap.Progress = 100
	}
	if payload.Message != "" {
		o.snap.Message = payload.Message
	}
	if payload.Error != "" {
		o.snap.Error = payload.Error
	}
	if payload.Result != nil {
		o.snap.Result = payload.Result
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestTimeout)
	if err := o.store.ApplyUpdate(ctx, jobID, update); err != nil {
		logger.ErrorWithFields("failed to mirror update into registry", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
	cancel()

	switch status {
	case models.JobStatusCompleted:
		o.finish(PhaseCompleted)
	case models.JobStatusFailed:
		o.finish(PhaseFailed)
	case models.JobStatusCancelled:
		o.finish(PhaseCancelled)
	default:
		o.emit()
	}
}

// finish moves to a terminal phase exactly once and tears down every
// transport resource
func (o *Orchestrator) finish(phase Phase) {
	o.mu.Lock()
	if o.phase.Terminal() {
		o.mu.Unlock()
		return
	}
	o.phase = phase
	o.snap.Phase = phase
	o.stopTimersLocked()
	ch := o.channel
	o.channel = nil
	o.mu.Unlock()

	if ch != nil {
		ch.Disconnect()
	}
	o.emit()
	o.doneOnce.Do(func() { close(o.done) })
}

// stopTimersLocked clears the connect-wait timer and the polling
// ticker; called with o.mu held
func (o *Orchestrator) stopTimersLocked() {
	if o.connectTimer != nil {
		o.connectTimer.Stop()
		o.connectTimer = nil
	}
	if o.pollStop != nil {
		close(o.pollStop)
		o.pollStop = nil
	}
}

func (o *Orchestrator) emit() {
	snap := o.Snapshot()
	o.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// decodeFramePayload extracts the status payload from a frame,
// deriving the status from the frame type when the payload leaves it
// implicit
func decodeFramePayload(frame types.Frame) (*types.JobStatusPayload, error) {
	payload := &types.JobStatusPayload{}
	if len(frame.Data) > 0 {
		if err := payload.UnmarshalData(frame.Data); err != nil {
			return nil, err
		}
	}
	if payload.JobID == "" {
		payload.JobID = frame.JobID
	}
	if payload.Status == "" {
		switch frame.Type {
		case types.FrameProgress:
			payload.Status = string(models.JobStatusProcessing)
		case types.FrameCompleted:
			payload.Status = string(models.JobStatusCompleted)
		case types.FrameError:
			payload.Status = string(models.JobStatusFailed)
		default:
			return nil, fmt.Errorf("frame carries no status")
		}
	}
	return payload, nil
}
