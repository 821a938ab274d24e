package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kindred-labs/kin/pkg/chat/ai"
	"github.com/kindred-labs/kin/pkg/chat/emotion"
	"github.com/kindred-labs/kin/pkg/chat/filler"
	"github.com/kindred-labs/kin/pkg/chat/protocol"
	"github.com/kindred-labs/kin/pkg/chat/store"
	"github.com/kindred-labs/kin/pkg/gateway/metrics"
)

const (
	defaultPersona = "You are Kin, a warm, attentive companion. Keep replies " +
		"conversational and natural to speak aloud."

	// The completion collaborator reports reply sentiment via a trailing
	// marker; the orchestrator strips and normalizes it.
	emotionTagInstruction = "End every reply with a marker of the form " +
		"[emotion:tag] where tag is one of: cheerful, mellow, stern, playful, " +
		"anxious, sleepy, neutral. The marker is stripped before the user sees " +
		"the reply."

	noSpeechReply = "I couldn't make out any words in that recording. " +
		"Could you try again, or type your message instead?"
)

// Config carries the orchestrator's tuning parameters. Zero values take the
// defaults below.
type Config struct {
	Persona              string
	Voice                string
	AudioFormat          string
	TextChunkRunes       int
	TextChunkDelay       time.Duration
	AudioMinChunkBytes   int
	CompleteForceTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Persona) == "" {
		c.Persona = defaultPersona
	}
	if strings.TrimSpace(c.AudioFormat) == "" {
		c.AudioFormat = "mp3"
	}
	if c.TextChunkRunes <= 0 {
		c.TextChunkRunes = 48
	}
	if c.TextChunkDelay <= 0 {
		c.TextChunkDelay = 30 * time.Millisecond
	}
	if c.AudioMinChunkBytes <= 0 {
		c.AudioMinChunkBytes = 8 << 10
	}
	if c.CompleteForceTimeout <= 0 {
		c.CompleteForceTimeout = 30 * time.Second
	}
}

// Orchestrator drives one turn at a time per session: transcription, prompt
// build, completion, then parallel filler/synthesis/text relay onto the
// framer. All collaborator failures stay session-scoped.
type Orchestrator struct {
	cfg         Config
	logger      *slog.Logger
	completer   ai.Completer
	transcriber ai.Transcriber
	synthesizer ai.Synthesizer
	emotions    *emotion.Tracker
	filler      *filler.Dispatcher
	store       store.Store
	cancels     *Cancels
	now         func() time.Time
}

// Deps are the orchestrator's collaborators. Completer, Emotions and
// Cancels are required; the rest degrade gracefully when absent.
type Deps struct {
	Logger      *slog.Logger
	Completer   ai.Completer
	Transcriber ai.Transcriber
	Synthesizer ai.Synthesizer
	Emotions    *emotion.Tracker
	Filler      *filler.Dispatcher
	Store       store.Store
	Cancels     *Cancels
}

func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if deps.Emotions == nil {
		return nil, fmt.Errorf("emotion tracker is required")
	}
	if deps.Cancels == nil {
		return nil, fmt.Errorf("cancellation registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:         cfg,
		logger:      deps.Logger,
		completer:   deps.Completer,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		emotions:    deps.Emotions,
		filler:      deps.Filler,
		store:       deps.Store,
		cancels:     deps.Cancels,
		now:         time.Now,
	}, nil
}

// HandleEnvelope routes one decoded inbound envelope. Turns run on their
// own goroutine so a new turn can begin before the previous one's terminal
// envelope; the cancellation registry makes the last writer win. Tokens are
// assigned here, on the serial read loop, so arrival order decides which
// turn holds the newest token regardless of goroutine scheduling.
func (o *Orchestrator) HandleEnvelope(ctx context.Context, sess *Session, fr *Framer, msg any) {
	sess.Touch()
	switch m := msg.(type) {
	case protocol.UserMessage:
		o.applyModes(sess, m.ResponseMode, m.Mode)
		token := o.cancels.Begin(sess.ID)
		go o.runTurn(ctx, sess, fr, token, turnInput{text: m.Message})
	case protocol.AudioMessage:
		o.applyModes(sess, m.ResponseMode, m.Mode)
		token := o.cancels.Begin(sess.ID)
		go o.runTurn(ctx, sess, fr, token, turnInput{audioB64: m.Audio, format: m.Format, isAudio: true})
	case protocol.Interrupt:
		if o.cancels.Cancel(sess.ID) {
			metrics.InterruptsTotal.Inc()
			_ = fr.SendEnvelope(protocol.ResponseInterrupted{Type: "response_interrupted"})
		}
	case protocol.TypingIndicator:
		o.logger.Debug("typing indicator", "session_id", sess.ID, "is_typing", m.IsTyping)
	default:
		o.logger.Warn("unroutable envelope", "session_id", sess.ID, "envelope", fmt.Sprintf("%T", msg))
	}
}

func (o *Orchestrator) applyModes(sess *Session, rm protocol.ResponseMode, cm protocol.ConversationMode) {
	if rm != "" && !sess.SetResponseMode(rm) {
		o.logger.Warn("invalid responseMode retained previous value", "session_id", sess.ID, "value", string(rm))
	}
	if cm != "" && !sess.SetMode(cm) {
		o.logger.Warn("invalid mode retained previous value", "session_id", sess.ID, "value", string(cm))
	}
}

type turnInput struct {
	text     string
	audioB64 string
	format   string
	isAudio  bool
}

// turnGuard collapses the terminal envelope decision to a single send. Any
// relay may record a failure; whoever fires the guard first wins, and later
// invocations are no-ops.
type turnGuard struct {
	once sync.Once
	mu   sync.Mutex
	errs []string
}

func (g *turnGuard) fail(msg string) {
	g.mu.Lock()
	g.errs = append(g.errs, msg)
	g.mu.Unlock()
}

func (g *turnGuard) fire(send func(errMsg string)) {
	g.once.Do(func() {
		g.mu.Lock()
		var msg string
		if len(g.errs) > 0 {
			msg = g.errs[0]
		}
		g.mu.Unlock()
		send(msg)
	})
}

func (o *Orchestrator) runTurn(ctx context.Context, sess *Session, fr *Framer, token uint64, in turnInput) {
	_ = fr.SendEnvelope(protocol.ThinkingStatus{Type: "thinking_status", IsThinking: true})

	text := in.text
	if in.isAudio {
		transcribed, ok := o.transcribe(ctx, sess, fr, in)
		if !ok {
			// Unusable input: the explanatory transcription stands in for
			// the reply and the turn completes without generation.
			o.completeWithout(sess, fr, token, "no_speech")
			return
		}
		text = transcribed
		_ = fr.SendEnvelope(protocol.Transcription{Type: "transcription", Text: text})
	}

	o.emotions.Update(ctx, sess.ID, text, "")

	reply, err := o.completer.Complete(ctx, o.composeMessages(ctx, sess, text))
	if err != nil {
		o.logger.Warn("completion failed", "session_id", sess.ID, "error", err)
		metrics.CollaboratorFailures.WithLabelValues("completion").Inc()
		o.failTurn(sess, fr, token, "reply generation failed")
		return
	}
	tag := emotion.NormalizeTag(reply.EmotionTag)
	o.emotions.Update(ctx, sess.ID, "", tag)

	if !o.cancels.IsCurrent(sess.ID, token) {
		// Superseded while drafting; discard without further output.
		o.appendHistory(ctx, sess, text, reply.Text, tag)
		return
	}

	_ = fr.SendEnvelope(protocol.EmotionDetected{Type: "emotion_detected", Emotion: tag})
	_ = fr.SendEnvelope(protocol.ThinkingStatus{Type: "thinking_status", IsThinking: false})

	respMode, convMode := sess.Modes()
	guard := &turnGuard{}
	textDone := make(chan struct{})
	audioDone := make(chan struct{})

	if respMode.IncludesAudio() && o.synthesizer != nil {
		go o.relayAudio(ctx, sess, fr, token, reply.Text, tag, guard, audioDone)
	} else {
		close(audioDone)
	}
	if respMode.IncludesText() {
		go o.relayText(ctx, sess, fr, token, reply.Text, textDone)
	} else {
		close(textDone)
	}

	// Completion guard: the terminal envelope waits for both relays but is
	// forced after a bounded delay so it is never withheld indefinitely.
	force := time.NewTimer(o.cfg.CompleteForceTimeout)
	defer force.Stop()
	forced := false
	for pending := 2; pending > 0; {
		select {
		case <-textDone:
			textDone = nil
			pending--
		case <-audioDone:
			audioDone = nil
			pending--
		case <-force.C:
			o.logger.Warn("forcing terminal envelope after relay stall", "session_id", sess.ID)
			forced = true
			pending = 0
		case <-ctx.Done():
			pending = 0
		}
	}

	o.appendHistory(ctx, sess, text, reply.Text, tag)

	guard.fire(func(errMsg string) {
		if !o.cancels.IsCurrent(sess.ID, token) {
			return
		}
		if forced {
			// Stale the token before the terminal send so the stalled
			// relay cannot write past it.
			o.cancels.Cancel(sess.ID)
		} else {
			o.cancels.Finish(sess.ID, token)
		}
		if errMsg != "" {
			_ = fr.SendEnvelope(protocol.ErrorEnvelope{Type: "error", Message: errMsg})
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			return
		}
		_ = fr.SendEnvelope(protocol.ResponseComplete{
			Type:         "response_complete",
			Emotion:      tag,
			ResponseMode: respMode,
			Mode:         convMode,
		})
		metrics.TurnsTotal.WithLabelValues("ok").Inc()
	})
}

// transcribe resolves audio input to text. Any unusable input or
// transcription failure is reported to the client as a transcription-shaped
// message and ends the turn before generation.
func (o *Orchestrator) transcribe(ctx context.Context, sess *Session, fr *Framer, in turnInput) (string, bool) {
	audio, err := base64.StdEncoding.DecodeString(in.audioB64)
	if err != nil || len(audio) == 0 {
		o.logger.Warn("unusable audio payload", "session_id", sess.ID, "error", err)
		_ = fr.SendEnvelope(protocol.Transcription{Type: "transcription", Text: noSpeechReply})
		return "", false
	}
	if o.transcriber == nil {
		o.logger.Warn("audio turn without transcriber", "session_id", sess.ID)
		_ = fr.SendEnvelope(protocol.Transcription{Type: "transcription", Text: noSpeechReply})
		return "", false
	}
	text, err := o.transcriber.Transcribe(ctx, audio, in.format)
	if err != nil {
		if !errors.Is(err, ai.ErrNoSpeech) {
			o.logger.Warn("transcription failed", "session_id", sess.ID, "error", err)
			metrics.CollaboratorFailures.WithLabelValues("transcription").Inc()
		}
		_ = fr.SendEnvelope(protocol.Transcription{Type: "transcription", Text: noSpeechReply})
		return "", false
	}
	if strings.TrimSpace(text) == "" {
		_ = fr.SendEnvelope(protocol.Transcription{Type: "transcription", Text: noSpeechReply})
		return "", false
	}
	return text, true
}

// completeWithout ends a turn that produced no generation, still emitting
// the one terminal envelope.
func (o *Orchestrator) completeWithout(sess *Session, fr *Framer, token uint64, outcome string) {
	_ = fr.SendEnvelope(protocol.ThinkingStatus{Type: "thinking_status", IsThinking: false})
	if !o.cancels.IsCurrent(sess.ID, token) {
		return
	}
	o.cancels.Finish(sess.ID, token)
	respMode, convMode := sess.Modes()
	_ = fr.SendEnvelope(protocol.ResponseComplete{
		Type:         "response_complete",
		Emotion:      emotion.TagNeutral,
		ResponseMode: respMode,
		Mode:         convMode,
	})
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
}

// failTurn ends a turn on a collaborator failure: thinking off, error
// envelope as the terminal.
func (o *Orchestrator) failTurn(sess *Session, fr *Framer, token uint64, msg string) {
	_ = fr.SendEnvelope(protocol.ThinkingStatus{Type: "thinking_status", IsThinking: false})
	if !o.cancels.IsCurrent(sess.ID, token) {
		return
	}
	o.cancels.Finish(sess.ID, token)
	_ = fr.SendEnvelope(protocol.ErrorEnvelope{Type: "error", Message: msg})
	metrics.TurnsTotal.WithLabelValues("error").Inc()
}

func (o *Orchestrator) composeMessages(ctx context.Context, sess *Session, userText string) []ai.Message {
	_, convMode := sess.Modes()

	base := o.cfg.Persona + modeDirective(convMode)
	system := o.emotions.PromptFragment(ctx, sess.ID, base)
	system += "\n\n" + emotionTagInstruction

	turns := sess.RecentTurns()
	msgs := make([]ai.Message, 0, 2*len(turns)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: system})
	for _, t := range turns {
		msgs = append(msgs,
			ai.Message{Role: ai.RoleUser, Content: t.Question},
			ai.Message{Role: ai.RoleAssistant, Content: t.Reply},
		)
	}
	return append(msgs, ai.Message{Role: ai.RoleUser, Content: userText})
}

func modeDirective(m protocol.ConversationMode) string {
	switch m {
	case protocol.ModeAdvice:
		return " When the user describes a problem, offer one concrete, actionable suggestion."
	case protocol.ModeFocus:
		return " Keep replies brief and on-topic; skip small talk."
	default:
		return ""
	}
}

// relayText delivers the reply in bounded chunks with a small pacing delay,
// checking cancellation before each send.
func (o *Orchestrator) relayText(ctx context.Context, sess *Session, fr *Framer, token uint64, reply string, done chan<- struct{}) {
	defer close(done)
	chunks := splitRunes(reply, o.cfg.TextChunkRunes)
	for i, chunk := range chunks {
		if !o.cancels.IsCurrent(sess.ID, token) {
			return
		}
		if err := fr.SendEnvelope(protocol.TextChunk{Type: "text_chunk", Text: chunk}); err != nil {
			o.logger.Warn("text chunk send failed", "session_id", sess.ID, "error", err)
			return
		}
		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.TextChunkDelay):
			}
		}
	}
}

// relayAudio plays the filler clip, then streams synthesis bytes as
// header+bytes pairs at a minimum chunk size, checking cancellation before
// each send.
func (o *Orchestrator) relayAudio(ctx context.Context, sess *Session, fr *Framer, token uint64, reply, tag string, guard *turnGuard, done chan<- struct{}) {
	defer close(done)

	if o.filler != nil {
		if clip, err := o.filler.Select(tag, len([]rune(reply))); err == nil {
			if o.cancels.IsCurrent(sess.ID, token) {
				_ = fr.SendBinaryChunk(protocol.FillerAudio{
					Type:       "filler_audio",
					Format:     clip.Format,
					FillerName: clip.Name,
					ChunkSize:  len(clip.Data),
				}, clip.Data)
			}
		} else {
			o.logger.Debug("no filler clip", "session_id", sess.ID, "tag", tag, "error", err)
		}
	}

	stream, err := o.synthesizer.Synthesize(ctx, reply, o.cfg.Voice)
	if err != nil {
		o.logger.Warn("synthesis failed", "session_id", sess.ID, "error", err)
		metrics.CollaboratorFailures.WithLabelValues("synthesis").Inc()
		guard.fail("speech synthesis failed")
		return
	}
	defer stream.Close()

	buf := make([]byte, o.cfg.AudioMinChunkBytes)
	acc := make([]byte, 0, 2*o.cfg.AudioMinChunkBytes)
	chunkNumber := 0
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
		}
		if readErr == nil && len(acc) < o.cfg.AudioMinChunkBytes {
			continue
		}
		if len(acc) > 0 {
			if !o.cancels.IsCurrent(sess.ID, token) {
				return
			}
			chunkNumber++
			if err := fr.SendBinaryChunk(protocol.AudioChunkHeader{
				Type:        "audio_chunk_header",
				ChunkSize:   len(acc),
				Format:      o.cfg.AudioFormat,
				Emotion:     tag,
				ChunkNumber: chunkNumber,
			}, acc); err != nil {
				o.logger.Warn("audio chunk send failed", "session_id", sess.ID, "error", err)
				return
			}
			acc = acc[:0]
		}
		if readErr != nil {
			if readErr != io.EOF {
				o.logger.Warn("synthesis stream failed", "session_id", sess.ID, "error", readErr)
				metrics.CollaboratorFailures.WithLabelValues("synthesis").Inc()
				guard.fail("speech synthesis failed")
				return
			}
			break
		}
	}
	if o.cancels.IsCurrent(sess.ID, token) {
		_ = fr.SendEnvelope(protocol.AudioComplete{Type: "audio_complete"})
	}
}

// appendHistory records the completed turn in the session window and,
// best-effort, in the durable store.
func (o *Orchestrator) appendHistory(ctx context.Context, sess *Session, question, reply, tag string) {
	if strings.TrimSpace(question) == "" {
		question = "(empty)"
	}
	if strings.TrimSpace(reply) == "" {
		reply = "(no reply)"
	}
	turn := Turn{
		ID:        uuid.NewString(),
		Question:  question,
		Reply:     reply,
		Emotion:   tag,
		CreatedAt: o.now(),
	}
	sess.AppendTurn(turn)

	if o.store == nil {
		return
	}
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.store.AppendTurn(storeCtx, sess.ID, store.TurnRecord{
			ID:        turn.ID,
			Question:  turn.Question,
			Reply:     turn.Reply,
			Emotion:   turn.Emotion,
			CreatedAt: turn.CreatedAt,
		}); err != nil {
			o.logger.Warn("turn persistence failed", "session_id", sess.ID, "error", err)
		}
	}()
}

func splitRunes(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
