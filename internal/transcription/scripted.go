package transcription

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// wordsPerSecond approximates conversational speaking pace and drives the
// synthetic timing of scripted chunks.
const wordsPerSecond = 2.5

const chunkChanSize = 32

var defaultScript = []Chunk{
	{Speaker: "Seller", Text: "Thanks for making the time today, I know the quarter close is busy for you."},
	{Speaker: "Customer", Text: "Happy to. We are under pressure to consolidate tooling before the renewal."},
	{Speaker: "Seller", Text: "Understood. Last call you mentioned onboarding took your team three weeks."},
	{Speaker: "Customer", Text: "Right, and that is the main pain point. Manual data entry is killing us."},
	{Speaker: "Seller", Text: "Our import pipeline cuts that to a day. I can share a migration plan."},
	{Speaker: "Customer", Text: "That would help. My concern is still the per-seat pricing at our scale."},
	{Speaker: "Seller", Text: "We have volume tiers above two hundred seats. I will send the proposal by Friday."},
	{Speaker: "Customer", Text: "Good. We also need a security review before legal will sign anything."},
	{Speaker: "Seller", Text: "I will get the SOC 2 report over to your security team this week."},
	{Speaker: "Customer", Text: "Then let's schedule a technical deep dive with our platform group next week."},
}

type scriptedSession struct {
	ch      chan Chunk
	cursor  int
	at      float64
	lastSeq int
	closed  bool
}

// Scripted replays a canned sales conversation, one line per pushed audio
// frame, with timing synthesized from word count. It stands in for a real
// speech backend in development and tests.
type Scripted struct {
	mu       sync.Mutex
	script   []Chunk
	sessions map[string]*scriptedSession
}

func NewScripted() *Scripted {
	return &Scripted{script: defaultScript, sessions: make(map[string]*scriptedSession)}
}

// NewScriptedWith replays the given lines instead of the built-in script.
func NewScriptedWith(lines []Chunk) *Scripted {
	s := NewScripted()
	if len(lines) > 0 {
		s.script = lines
	}
	return s
}

func (s *Scripted) Open(_ context.Context, callID string) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[callID]; ok {
		return nil, fmt.Errorf("transcription: session %s already open", callID)
	}
	sess := &scriptedSession{ch: make(chan Chunk, chunkChanSize)}
	s.sessions[callID] = sess
	return sess.ch, nil
}

func (s *Scripted) Push(_ context.Context, callID string, _ []byte, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok || sess.closed {
		return fmt.Errorf("transcription: no open session for %s", callID)
	}

	// Duplicate or out-of-order frames are dropped, not errors. Clients that
	// do not number frames send seq 0 and every frame is accepted.
	if seq > 0 {
		if seq <= sess.lastSeq {
			return nil
		}
		sess.lastSeq = seq
	}

	line := s.script[sess.cursor%len(s.script)]
	sess.cursor++

	words := len(strings.Fields(line.Text))
	dur := float64(words) / wordsPerSecond
	line.Start = sess.at
	line.End = sess.at + dur
	line.IsFinal = true
	line.Confidence = 0.95
	sess.at = line.End

	select {
	case sess.ch <- line:
		return nil
	default:
		return fmt.Errorf("transcription: chunk channel full for %s", callID)
	}
}

func (s *Scripted) Close(callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return nil
	}
	if !sess.closed {
		sess.closed = true
		close(sess.ch)
	}
	delete(s.sessions, callID)
	return nil
}
