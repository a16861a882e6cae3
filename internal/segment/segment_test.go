package segment

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/aurist/pkg/audio"
	"github.com/MrWong99/aurist/pkg/provider/vad"
	vadmock "github.com/MrWong99/aurist/pkg/provider/vad/mock"
)

const (
	testSampleRate = 16000
	testFrameSize  = 512 // 32 ms
)

var testFrameDur = time.Duration(testFrameSize) * time.Second / time.Duration(testSampleRate)

// recorder collects engine events for assertions.
type recorder struct {
	mu         sync.Mutex
	starts     []time.Duration
	utterances []*audio.Utterance
	discards   []time.Duration
	faults     []error
	overflows  uint64

	ready chan *audio.Utterance
}

func newRecorder() *recorder {
	return &recorder{ready: make(chan *audio.Utterance, 16)}
}

func (r *recorder) SpeechStart(at time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, at)
}

func (r *recorder) UtteranceReady(u *audio.Utterance) {
	r.mu.Lock()
	r.utterances = append(r.utterances, u)
	r.mu.Unlock()
	r.ready <- u
}

func (r *recorder) UtteranceDiscarded(speech time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discards = append(r.discards, speech)
}

func (r *recorder) GateFault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, err)
}

func (r *recorder) Overflow(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overflows += n
}

func (r *recorder) discardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discards)
}

func (r *recorder) faultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults)
}

func (r *recorder) utteranceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.utterances)
}

// script builds a mock gate decision sequence from (speech, count) runs.
func script(runs ...struct {
	speech bool
	count  int
}) []vad.Decision {
	var out []vad.Decision
	for _, r := range runs {
		d := vad.Decision{Speech: r.speech}
		if r.speech {
			d.Probability = 0.9
		}
		for range r.count {
			out = append(out, d)
		}
	}
	return out
}

func run(speech bool, count int) struct {
	speech bool
	count  int
} {
	return struct {
		speech bool
		count  int
	}{speech, count}
}

// pushFrames enqueues n frames with sequential timestamps starting at seq 0.
func pushFrames(t *testing.T, q *audio.FrameQueue, n int) {
	t.Helper()
	for i := range n {
		f := audio.Frame{
			Samples:   make([]int16, testFrameSize),
			Seq:       uint64(i),
			Timestamp: time.Duration(i) * testFrameDur,
		}
		if err := q.Push(f); err != nil {
			t.Fatalf("Push(%d) error: %v", i, err)
		}
	}
}

func startEngine(t *testing.T, cfg Config, gate vad.Gate, q *audio.FrameQueue, rec *recorder) *Engine {
	t.Helper()
	cfg.SampleRate = testSampleRate
	cfg.FrameSize = testFrameSize
	cfg.PopTimeout = 10 * time.Millisecond

	e, err := New(cfg, gate, q, rec)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	go e.Run()
	t.Cleanup(func() {
		e.Stop()
		<-e.Done()
	})
	return e
}

func waitUtterance(t *testing.T, rec *recorder) *audio.Utterance {
	t.Helper()
	select {
	case u := <-rec.ready:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no utterance emitted")
		return nil
	}
}

func TestEmitsUtteranceAfterPostSpeechSilence(t *testing.T) {
	// ~3.0 s of speech from stream start, then enough silence to finalize.
	const speechFrames = 94 // 94 * 32 ms = 3.008 s

	gate := &vadmock.Gate{Script: script(run(true, speechFrames), run(false, 1000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	startEngine(t, Config{PostSpeechSilence: 600 * time.Millisecond, MinSpeech: 250 * time.Millisecond}, gate, q, rec)

	pushFrames(t, q, speechFrames+40) // 40 silence frames = 1.28 s

	u := waitUtterance(t, rec)
	if !u.Final {
		t.Error("Final = false, want true")
	}

	// The utterance ends at the speech edge: trailing silence is excluded,
	// so duration is the speech run ± one frame.
	want := time.Duration(speechFrames) * testFrameDur
	if diff := (u.Duration() - want).Abs(); diff > testFrameDur {
		t.Errorf("Duration = %v, want %v ± one frame", u.Duration(), want)
	}
	if u.Start != 0 {
		t.Errorf("Start = %v, want 0", u.Start)
	}
}

func TestShortSpeechRunDiscardedAsNoise(t *testing.T) {
	// 3 frames (~96 ms) of speech < 250 ms minimum.
	gate := &vadmock.Gate{Script: script(run(true, 3), run(false, 1000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	e := startEngine(t, Config{PostSpeechSilence: 200 * time.Millisecond, MinSpeech: 250 * time.Millisecond}, gate, q, rec)

	pushFrames(t, q, 30)

	deadline := time.Now().Add(5 * time.Second)
	for rec.discardCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no discard event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.utteranceCount() != 0 {
		t.Errorf("utterances emitted = %d, want 0", rec.utteranceCount())
	}
	if got := e.State(); got != StateArmed {
		t.Errorf("State after discard = %v, want armed", got)
	}
}

func TestSpeechResumingResetsTrailingTimer(t *testing.T) {
	// speech, a gap shorter than the post-speech window, more speech, then
	// qualifying silence: one utterance containing the gap.
	gate := &vadmock.Gate{Script: script(
		run(true, 20),  // 640 ms speech
		run(false, 10), // 320 ms gap < 600 ms window
		run(true, 20),  // 640 ms speech
		run(false, 1000),
	)}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	startEngine(t, Config{PostSpeechSilence: 600 * time.Millisecond, MinSpeech: 250 * time.Millisecond}, gate, q, rec)

	pushFrames(t, q, 20+10+20+30)

	u := waitUtterance(t, rec)
	if rec.utteranceCount() != 1 {
		t.Fatalf("utterances = %d, want 1", rec.utteranceCount())
	}

	// Gap frames are folded back in when speech resumes.
	want := time.Duration(20+10+20) * testFrameDur
	if diff := (u.Duration() - want).Abs(); diff > testFrameDur {
		t.Errorf("Duration = %v, want %v ± one frame", u.Duration(), want)
	}
	// Speech duration excludes the gap.
	wantSpeech := time.Duration(40) * testFrameDur
	if u.SpeechDuration != wantSpeech {
		t.Errorf("SpeechDuration = %v, want %v", u.SpeechDuration, wantSpeech)
	}
}

func TestPreRollIncludedAndBounded(t *testing.T) {
	// A long armed period before speech: only PreRoll worth of leading
	// frames may appear in the utterance.
	const leading = 100 // 3.2 s of silence while armed

	gate := &vadmock.Gate{Script: script(run(false, leading), run(true, 20), run(false, 1000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	startEngine(t, Config{
		PreRoll:           320 * time.Millisecond, // 10 frames
		PostSpeechSilence: 300 * time.Millisecond,
		MinSpeech:         250 * time.Millisecond,
	}, gate, q, rec)

	pushFrames(t, q, leading+20+20)

	u := waitUtterance(t, rec)
	wantFrames := 10 + 20
	if len(u.Frames) != wantFrames {
		t.Errorf("utterance has %d frames, want %d (10 pre-roll + 20 speech)", len(u.Frames), wantFrames)
	}
	// Pre-roll holds the newest frames before onset.
	if u.Frames[0].Seq != uint64(leading-10) {
		t.Errorf("first frame Seq = %d, want %d", u.Frames[0].Seq, leading-10)
	}
}

func TestGateFaultTreatedAsSilence(t *testing.T) {
	gate := &vadmock.Gate{ClassifyErr: errors.New("detector crashed")}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	e := startEngine(t, Config{}, gate, q, rec)

	pushFrames(t, q, 10)

	deadline := time.Now().Add(5 * time.Second)
	for rec.faultCount() < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("gate faults = %d, want 10", rec.faultCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.utteranceCount() != 0 {
		t.Errorf("utterances = %d, want 0 (faults are silence votes)", rec.utteranceCount())
	}
	if got := e.State(); got != StateArmed {
		t.Errorf("State = %v, want armed (engine keeps running)", got)
	}
}

func TestStopForcesFinalizeOfQualifyingSpeech(t *testing.T) {
	gate := &vadmock.Gate{Script: script(run(true, 1000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	e := startEngine(t, Config{MinSpeech: 250 * time.Millisecond}, gate, q, rec)

	pushFrames(t, q, 30) // ~1 s of speech, no trailing silence

	// Let the engine consume everything, then stop mid-speech.
	deadline := time.Now().Add(5 * time.Second)
	for q.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("engine did not drain the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.Stop()
	<-e.Done()

	u := waitUtterance(t, rec)
	if !u.Final {
		t.Error("Final = false, want true on forced finalize")
	}
}

func TestQueueCloseFlushes(t *testing.T) {
	gate := &vadmock.Gate{Script: script(run(true, 1000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	e := startEngine(t, Config{MinSpeech: 250 * time.Millisecond}, gate, q, rec)

	pushFrames(t, q, 30)
	q.Close()

	u := waitUtterance(t, rec)
	if u == nil || !u.Final {
		t.Error("want final utterance after queue close")
	}
	<-e.Done()
}

func TestEarlyEmissionPrecedesFinal(t *testing.T) {
	gate := &vadmock.Gate{Script: script(run(true, 20), run(false, 1000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	startEngine(t, Config{
		PostSpeechSilence: 600 * time.Millisecond,
		EarlySilence:      160 * time.Millisecond, // 5 frames
		MinSpeech:         250 * time.Millisecond,
	}, gate, q, rec)

	pushFrames(t, q, 20+30)

	early := waitUtterance(t, rec)
	if early.Final {
		t.Error("first emission Final = true, want early (false)")
	}
	final := waitUtterance(t, rec)
	if !final.Final {
		t.Error("second emission Final = false, want true")
	}
	if final.SpeechDuration != early.SpeechDuration {
		t.Errorf("final speech %v != early speech %v, want same run", final.SpeechDuration, early.SpeechDuration)
	}
	if rec.utteranceCount() != 2 {
		t.Errorf("utterances = %d, want exactly 2 (one early, one final)", rec.utteranceCount())
	}
}

func TestMaxUtteranceCapForcesFinalize(t *testing.T) {
	gate := &vadmock.Gate{Script: script(run(true, 10000))}
	q := audio.NewFrameQueue(256, audio.DropOldest)
	rec := newRecorder()
	startEngine(t, Config{
		MinSpeech:    100 * time.Millisecond,
		MaxUtterance: 500 * time.Millisecond, // ~16 frames
	}, gate, q, rec)

	pushFrames(t, q, 40) // continuous speech well past the cap

	u := waitUtterance(t, rec)
	if u.Duration() > 600*time.Millisecond {
		t.Errorf("Duration = %v, want capped near 500ms", u.Duration())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"early >= post", Config{EarlySilence: time.Second, PostSpeechSilence: time.Second}, true},
		{"min > max", Config{MinSpeech: time.Minute, MaxUtterance: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := &vadmock.Gate{}
			q := audio.NewFrameQueue(4, audio.DropOldest)
			_, err := New(tt.cfg, gate, q, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
