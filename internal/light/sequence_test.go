package light

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoollights/internal/config"
)

type message struct {
	Topic   string
	QoS     byte
	Payload string
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (r *recorder) Publish(_ context.Context, topic string, qos byte, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, message{topic, qos, payload})
	return nil
}

// instant replaces the real sleep and records what would have been waited.
func instant(s *Sequencer) *[]time.Duration {
	var waits []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

func TestSequencerPlaysStepsInOrder(t *testing.T) {
	rec := &recorder{}
	s := NewSequencer(rec, "kitchen-mood-light", []config.StepConfig{
		{Type: config.StepSolid, Colour: "#00FF00", Duration: 30 * time.Minute},
		{Type: config.StepRandom, Duration: 300 * time.Millisecond, Interval: 100 * time.Millisecond},
		{Type: config.StepWhite},
	})
	waits := instant(s)

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, rec.msgs, 6)
	assert.Equal(t, message{"cmnd/kitchen-mood-light/COLOR", 0, "#00ff0000"}, rec.msgs[0])

	random := regexp.MustCompile(`^#[0-9a-f]{6}00$`)
	for _, m := range rec.msgs[1:4] {
		assert.Equal(t, "cmnd/kitchen-mood-light/COLOR", m.Topic)
		assert.Regexp(t, random, m.Payload)
	}

	assert.Equal(t, message{"cmnd/kitchen-mood-light/COLOR", 0, "000000ff"}, rec.msgs[4])
	assert.Equal(t, message{"cmnd/kitchen-mood-light/POWER", 1, "OFF"}, rec.msgs[5])

	assert.Equal(t, []time.Duration{
		30 * time.Minute,
		100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond,
		0,
	}, *waits)
}

func TestSequencerStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	s := NewSequencer(rec, "lamp", config.DefaultSequence())

	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, rec.msgs, 1, "no power-off after cancel")
	assert.Equal(t, "#00ff0000", rec.msgs[0].Payload)
}

func TestSequencerPublishFailure(t *testing.T) {
	boom := errors.New("not connected")
	s := NewSequencer(&recorder{err: boom}, "lamp", config.DefaultSequence())
	instant(s)

	assert.ErrorIs(t, s.Run(context.Background()), boom)
}

func TestSequencerRejectsUnknownStep(t *testing.T) {
	s := NewSequencer(&recorder{}, "lamp", []config.StepConfig{{Type: "gradient"}})
	instant(s)

	assert.Error(t, s.Run(context.Background()))
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepCtx(ctx, 0), context.Canceled)
}
