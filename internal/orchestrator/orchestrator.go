package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealsense/internal/audit"
	"dealsense/internal/buffer"
	"dealsense/internal/calls"
	"dealsense/internal/extraction"
	"dealsense/internal/llm"
	"dealsense/internal/transcription"
	"dealsense/internal/ws"
	"dealsense/pkg/logger"
)

// queryWindowSeconds is the sliding window of transcript used as context for
// push-to-talk queries.
const defaultQueryWindowSeconds = 120

// Options wires the orchestrator's collaborators. All fields except
// QueryWindowSeconds are required.
type Options struct {
	Repo        calls.Repository
	Buffer      buffer.Buffer
	Side        buffer.SideStore
	Hub         *ws.Hub
	Transcriber transcription.Transcriber
	Answerer    llm.Answerer
	Pipeline    *extraction.Pipeline
	Logger      *slog.Logger

	// Guard, when set, caps concurrent live calls.
	Guard LiveCallGuard

	// Trail, when set, records call lifecycle events. Best effort.
	Trail *audit.Service

	QueryWindowSeconds float64

	// SellerName labels seller-owned action items; defaults inside the
	// extraction pipeline when empty.
	SellerName string
}

// Orchestrator is the single entry point for inbound call events. It drives
// the call state machine, delegates to the buffer and repository, invokes the
// external collaborators and triggers extraction on call end.
//
// Events for one call are processed strictly sequentially; distinct calls
// proceed in parallel.
type Orchestrator struct {
	repo   calls.Repository
	buf    buffer.Buffer
	side   buffer.SideStore
	hub    *ws.Hub
	trans  transcription.Transcriber
	answer llm.Answerer
	pipe   *extraction.Pipeline
	guard  LiveCallGuard
	trail  *audit.Service
	log    *slog.Logger
	seller string

	window float64
	clock  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	// extractions tracks background summary generation so tests and
	// shutdown can wait for completion.
	extractions sync.WaitGroup
}

// ErrTooManyCalls is returned when the live-call cap rejects a new call.
var ErrTooManyCalls = errors.New("too many concurrent live calls")

// session is the live per-call state: a lock serializing event handling and
// the goroutine draining the transcriber's chunk channel.
type session struct {
	mu         sync.Mutex
	done       chan struct{}
	hasSlot    bool
	extracting bool
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueryWindowSeconds <= 0 {
		opts.QueryWindowSeconds = defaultQueryWindowSeconds
	}
	return &Orchestrator{
		repo:     opts.Repo,
		buf:      opts.Buffer,
		side:     opts.Side,
		hub:      opts.Hub,
		trans:    opts.Transcriber,
		answer:   opts.Answerer,
		pipe:     opts.Pipeline,
		guard:    opts.Guard,
		trail:    opts.Trail,
		seller:   opts.SellerName,
		log:      opts.Logger,
		window:   opts.QueryWindowSeconds,
		clock:    time.Now,
		sessions: make(map[string]*session),
	}
}

// SetClock replaces the orchestrator clock. Tests only.
func (o *Orchestrator) SetClock(clock func() time.Time) { o.clock = clock }

// WaitExtractions blocks until all in-flight background extractions finish.
func (o *Orchestrator) WaitExtractions() { o.extractions.Wait() }

// Dispatch routes one inbound client message. Panics and errors are caught
// here and reported as an error event scoped to the call; they never
// terminate the connection or corrupt the state machine.
func (o *Orchestrator) Dispatch(ctx context.Context, callID string, msg ws.Inbound) {
	if msg.CallID != "" {
		callID = msg.CallID
	}
	if callID == "" {
		o.log.Warn("dispatch without call id", "type", msg.Type)
		return
	}

	// A panic is an internal fault, not a client mistake: the call moves to
	// the terminal error state so nothing keeps streaming into a broken
	// session. The session mutex is already released when this runs.
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("dispatch panic", "call_id", callID, "type", msg.Type, "panic", r)
			if _, err := o.repo.MarkCallError(ctx, callID); err != nil {
				o.log.Warn("mark call error failed", "call_id", callID, "error", err)
			}
			if err := o.side.SetStatus(ctx, callID, string(calls.CallStatusError)); err != nil {
				o.log.Warn("side store status write failed", "call_id", callID, "error", err)
			}
			o.hub.Broadcast(callID, ws.ErrorEvent(callID, "internal error", ""))
			sess := o.sessionFor(callID)
			sess.mu.Lock()
			o.releaseSlot(ctx, callID, sess.hasSlot)
			sess.hasSlot = false
			sess.mu.Unlock()
			o.dropSession(callID)
		}
	}()

	ctx = logger.With(ctx, o.log.With("call_id", callID))

	sess := o.sessionFor(callID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var err error
	switch msg.Type {
	case ws.MessageStartCall:
		_, err = o.startLocked(ctx, StartParams{
			CallID:      callID,
			DealID:      msg.DealID,
			AccountName: msg.AccountName,
			ContactName: msg.ContactName,
		})
	case ws.MessageAudioChunk:
		err = o.handleAudioChunk(ctx, callID, msg)
	case ws.MessagePushToTalkQuery:
		err = o.handleQuery(ctx, callID, msg.Query)
	case ws.MessageEndCall:
		_, err = o.endLocked(ctx, callID)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		o.log.Error("dispatch failed", "call_id", callID, "type", msg.Type, "error", err)
		o.hub.Broadcast(callID, ws.ErrorEvent(callID, "failed to process "+msg.Type, err.Error()))
	}
}

func (o *Orchestrator) releaseSlot(ctx context.Context, callID string, held bool) {
	if !held || o.guard == nil {
		return
	}
	if err := o.guard.Release(ctx, callID); err != nil {
		o.log.Warn("live call guard release failed", "call_id", callID, "error", err)
	}
}

func (o *Orchestrator) sessionFor(callID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[callID]
	if !ok {
		sess = &session{}
		o.sessions[callID] = sess
	}
	return sess
}

// dropSession forgets the per-call state once the call reaches a terminal
// outcome, so the map does not grow with every call ever handled. A later
// event for the same id gets a fresh session and hits the repository's
// terminal-state checks.
func (o *Orchestrator) dropSession(callID string) {
	o.mu.Lock()
	delete(o.sessions, callID)
	o.mu.Unlock()
}

// StartParams identifies and describes a call at start time.
type StartParams struct {
	CallID      string
	DealID      int
	AccountName string
	ContactName string
}

// StartCall creates the call record, or confirms connectivity when it
// already exists. It seeds the side store, opens the transcription stream
// and announces the connection.
func (o *Orchestrator) StartCall(ctx context.Context, p StartParams) (calls.Call, error) {
	if p.CallID == "" {
		p.CallID = uuid.NewString()
	}
	sess := o.sessionFor(p.CallID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return o.startLocked(ctx, p)
}

func (o *Orchestrator) startLocked(ctx context.Context, p StartParams) (calls.Call, error) {
	if p.CallID == "" {
		p.CallID = uuid.NewString()
	}

	acquired := false
	if o.guard != nil {
		ok, err := o.guard.Acquire(ctx, p.CallID)
		if err != nil {
			// Cap enforcement is best effort; availability wins.
			o.log.Warn("live call guard unavailable", "call_id", p.CallID, "error", err)
			ok = true
		}
		if !ok {
			return calls.Call{}, ErrTooManyCalls
		}
		acquired = true
	}

	call, created, err := o.repo.CreateCall(ctx, calls.Call{
		ID:          p.CallID,
		DealID:      p.DealID,
		AccountName: p.AccountName,
		ContactName: p.ContactName,
		StartedAt:   o.clock().UTC(),
	})
	if err != nil {
		o.releaseSlot(ctx, p.CallID, acquired)
		return calls.Call{}, fmt.Errorf("create call: %w", err)
	}
	if created {
		o.sessionFor(call.ID).hasSlot = acquired
	} else {
		// Re-confirming an existing call holds no extra slot.
		o.releaseSlot(ctx, p.CallID, acquired)
	}

	if err := o.side.SetMeta(ctx, call.ID, buffer.Meta{
		DealID:      call.DealID,
		AccountName: call.AccountName,
		ContactName: call.ContactName,
		StartedAt:   call.StartedAt,
	}); err != nil {
		o.log.Warn("side store meta write failed", "call_id", call.ID, "error", err)
	}
	if err := o.side.SetStatus(ctx, call.ID, string(call.Status)); err != nil {
		o.log.Warn("side store status write failed", "call_id", call.ID, "error", err)
	}

	if created {
		o.openTranscription(call.ID)
		o.record(ctx, call.ID, audit.EventTypeCallStarted, "call started")
	}

	o.hub.Broadcast(call.ID, ws.StatusUpdateEvent(call.ID, "connected", "call session established"))
	return call, nil
}

// openTranscription opens the transcriber stream for a call and starts the
// goroutine that drains recognized chunks into the buffer, repository and
// hub.
func (o *Orchestrator) openTranscription(callID string) {
	sess := o.sessionFor(callID)
	if sess.done != nil {
		return
	}

	ch, err := o.trans.Open(context.Background(), callID)
	if err != nil {
		o.log.Warn("transcription open failed", "call_id", callID, "error", err)
		return
	}

	sess.done = make(chan struct{})
	go func() {
		defer close(sess.done)
		for chunk := range ch {
			o.ingestChunk(callID, chunk)
		}
	}()
}

func (o *Orchestrator) ingestChunk(callID string, c transcription.Chunk) {
	ctx := logger.With(context.Background(), o.log.With("call_id", callID))

	chunk := calls.TranscriptChunk{
		ID:         uuid.NewString(),
		CallID:     callID,
		Speaker:    c.Speaker,
		Text:       c.Text,
		Start:      c.Start,
		End:        c.End,
		IsFinal:    c.IsFinal,
		Confidence: c.Confidence,
	}

	if err := o.buf.Append(ctx, callID, chunk); err != nil {
		o.log.Error("buffer append failed", "call_id", callID, "error", err)
	}
	if chunk.IsFinal {
		if _, err := o.repo.AddTranscriptChunk(ctx, chunk); err != nil {
			o.log.Error("transcript persist failed", "call_id", callID, "error", err)
		}
	}
	o.hub.Broadcast(callID, ws.TranscriptChunkEvent(callID, chunk.Speaker, chunk.Text, chunk.Start, chunk.End, chunk.IsFinal))
}

func (o *Orchestrator) handleAudioChunk(ctx context.Context, callID string, msg ws.Inbound) error {
	audio, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		return fmt.Errorf("decode audio: %w", err)
	}
	if err := o.trans.Push(ctx, callID, audio, msg.ChunkSequence); err != nil {
		return fmt.Errorf("push audio: %w", err)
	}
	return nil
}

// handleQuery answers an ad-hoc question from the sliding window of recent
// transcript. Failures are reported as events; the call state is untouched.
func (o *Orchestrator) handleQuery(ctx context.Context, callID, query string) error {
	if query == "" {
		return errors.New("empty query")
	}

	recent, err := buffer.WindowText(ctx, o.buf, callID, o.window)
	if err != nil {
		o.log.Warn("recent transcript read failed", "call_id", callID, "error", err)
	}
	meta, err := o.side.GetMeta(ctx, callID)
	if err != nil {
		o.log.Warn("side store meta read failed", "call_id", callID, "error", err)
	}

	ans, err := o.answer.AnswerWithContext(ctx, query, llm.CallContext{
		RecentTranscript: recent,
		AccountName:      meta.AccountName,
		DealID:           meta.DealID,
	})
	if err != nil {
		return fmt.Errorf("answer query: %w", err)
	}

	o.hub.Broadcast(callID, ws.QueryResponseEvent(callID, ans.Answer, ans.Sources, ans.Confidence))
	return nil
}

// EndCall runs the end transition and kicks off background extraction. Safe
// to call from the REST surface; serialized against live dispatch for the
// same call.
func (o *Orchestrator) EndCall(ctx context.Context, callID string) (calls.Call, error) {
	sess := o.sessionFor(callID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return o.endLocked(ctx, callID)
}

func (o *Orchestrator) endLocked(ctx context.Context, callID string) (calls.Call, error) {
	// Close the transcription stream first and wait for the drain goroutine,
	// so every recognized chunk is buffered, persisted and broadcast before
	// the ended status goes out.
	sess := o.sessionFor(callID)
	if sess.done != nil {
		if err := o.trans.Close(callID); err != nil {
			o.log.Warn("transcription close failed", "call_id", callID, "error", err)
		}
		<-sess.done
		sess.done = nil
	}

	call, err := o.repo.EndCall(ctx, callID)
	if err != nil {
		return calls.Call{}, fmt.Errorf("end call: %w", err)
	}

	o.releaseSlot(ctx, callID, sess.hasSlot)
	sess.hasSlot = false

	if err := o.side.SetStatus(ctx, callID, string(call.Status)); err != nil {
		o.log.Warn("side store status write failed", "call_id", callID, "error", err)
	}

	o.hub.Broadcast(callID, ws.StatusUpdateEvent(callID, "ended", "call ended, generating summary"))

	if call.Status == calls.CallStatusEnded && !sess.extracting {
		sess.extracting = true
		o.record(ctx, callID, audit.EventTypeCallEnded, fmt.Sprintf("call ended after %ds", call.DurationSeconds))
		o.extractions.Add(1)
		go o.runExtraction(callID)
	}
	if call.Status.Terminal() {
		o.dropSession(callID)
	}
	return call, nil
}

// PurgeCall removes the call everywhere: the repository cascade, the live
// buffer, the side store, open connections and per-call session state.
func (o *Orchestrator) PurgeCall(ctx context.Context, callID string) error {
	sess := o.sessionFor(callID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.done != nil {
		if err := o.trans.Close(callID); err != nil {
			o.log.Warn("transcription close failed", "call_id", callID, "error", err)
		}
		<-sess.done
		sess.done = nil
	}

	if err := o.repo.PurgeCall(ctx, callID); err != nil {
		return err
	}

	o.releaseSlot(ctx, callID, sess.hasSlot)
	sess.hasSlot = false

	if err := o.buf.Clear(ctx, callID); err != nil {
		o.log.Warn("buffer clear failed", "call_id", callID, "error", err)
	}
	if err := o.side.Cleanup(ctx, callID); err != nil {
		o.log.Warn("side store cleanup failed", "call_id", callID, "error", err)
	}
	o.hub.CloseAll(callID)
	o.dropSession(callID)

	o.log.Info("call purged", "call_id", callID)
	return nil
}

// record appends to the audit trail. Failures are logged, never surfaced.
func (o *Orchestrator) record(ctx context.Context, callID string, typ audit.EventType, message string) {
	if err := o.trail.LogTransition(ctx, callID, typ, message); err != nil {
		o.log.Warn("audit append failed", "call_id", callID, "error", err)
	}
}

// runExtraction generates and persists the post-call summary and action
// items. It runs detached from the triggering request; on failure the call
// stays ended so extraction can be retried.
func (o *Orchestrator) runExtraction(callID string) {
	defer o.extractions.Done()

	ctx := logger.With(context.Background(), o.log.With("call_id", callID))

	if err := o.extract(ctx, callID); err != nil {
		o.log.Error("extraction failed", "call_id", callID, "error", err)
		o.record(ctx, callID, audit.EventTypeCallError, "summary generation failed: "+err.Error())
		o.hub.Broadcast(callID, ws.ErrorEvent(callID, "summary generation failed", err.Error()))

		// Allow another end request to retry extraction.
		sess := o.sessionFor(callID)
		sess.mu.Lock()
		sess.extracting = false
		sess.mu.Unlock()
		return
	}
	o.dropSession(callID)
}

func (o *Orchestrator) extract(ctx context.Context, callID string) error {
	call, err := o.repo.GetCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}
	transcript, err := o.repo.FullTranscriptText(ctx, callID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	summary, drafts := o.pipe.Generate(ctx, transcript, extraction.Metadata{
		AccountName:     call.AccountName,
		DealID:          call.DealID,
		DurationMinutes: call.DurationSeconds / 60,
		SellerName:      o.seller,
	})

	stored, err := o.repo.UpsertSummary(ctx, calls.CallSummary{
		CallID:           callID,
		ExecutiveSummary: summary.ExecutiveSummary,
		KeyPoints:        summary.KeyPoints,
		PainPoints:       summary.PainPoints,
		Objections:       summary.Objections,
		NextSteps:        summary.NextSteps,
		DealHealthScore:  summary.DealHealthScore,
		DealHealthReason: summary.DealHealthReason,
	})
	if err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	items := make([]calls.ActionItem, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, calls.ActionItem{
			CallID:   callID,
			Task:     d.Task,
			Owner:    d.Owner,
			DueDate:  d.DueDate,
			Priority: d.Priority,
			Status:   calls.ItemStatusPending,
		})
	}
	if _, err := o.repo.CreateActionItems(ctx, items); err != nil {
		return fmt.Errorf("store action items: %w", err)
	}

	if _, err := o.repo.SetCallSummarized(ctx, callID); err != nil {
		return fmt.Errorf("mark summarized: %w", err)
	}
	if err := o.side.SetStatus(ctx, callID, string(calls.CallStatusSummarized)); err != nil {
		o.log.Warn("side store status write failed", "call_id", callID, "error", err)
	}

	o.record(ctx, callID, audit.EventTypeCallSummarized, fmt.Sprintf("summary stored with %d action items", len(items)))
	o.hub.Broadcast(callID, ws.SummaryReadyEvent(callID, stored.ID))
	o.log.Info("summary ready", "call_id", callID, "summary_id", stored.ID, "action_items", len(items))
	return nil
}

// AppendSyntheticChunk injects a transcript chunk without real audio, a
// test and debug aid. Missing timing is synthesized from the buffer tail
// and a conversational word rate.
func (o *Orchestrator) AppendSyntheticChunk(ctx context.Context, callID, speaker, text string, start, end *float64) (calls.TranscriptChunk, error) {
	if text == "" {
		return calls.TranscriptChunk{}, fmt.Errorf("%w: text is required", calls.ErrInvalidArgument)
	}
	if speaker == "" {
		speaker = "Seller"
	}

	call, err := o.repo.GetCall(ctx, callID)
	if err != nil {
		return calls.TranscriptChunk{}, err
	}
	if call.Status.Terminal() || call.Status == calls.CallStatusEnded {
		return calls.TranscriptChunk{}, fmt.Errorf("%w: call is not in progress", calls.ErrTerminalState)
	}

	s, e := syntheticTiming(text, start, end, o.bufferTail(ctx, callID))

	sess := o.sessionFor(callID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	o.ingestChunk(callID, transcription.Chunk{
		Speaker:    speaker,
		Text:       text,
		Start:      s,
		End:        e,
		IsFinal:    true,
		Confidence: 1.0,
	})

	chunks, err := o.repo.GetTranscript(ctx, callID, -1, -1)
	if err != nil || len(chunks) == 0 {
		return calls.TranscriptChunk{}, err
	}
	return chunks[len(chunks)-1], nil
}

func (o *Orchestrator) bufferTail(ctx context.Context, callID string) float64 {
	chunks, err := o.buf.All(ctx, callID)
	if err != nil || len(chunks) == 0 {
		return 0
	}
	return chunks[len(chunks)-1].End
}

// syntheticTiming fills in missing chunk offsets: start defaults to the
// buffer tail, end to start plus a duration estimated from word count.
func syntheticTiming(text string, start, end *float64, tail float64) (float64, float64) {
	const wordsPerSecond = 2.5

	s := tail
	if start != nil {
		s = *start
	}
	e := s + float64(wordCount(text))/wordsPerSecond
	if end != nil && *end >= s {
		e = *end
	}
	return s, e
}

func wordCount(s string) int {
	n, inWord := 0, false
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			inWord = false
		case !inWord:
			n++
			inWord = true
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}
