// Package light drives the kitchen mood light over MQTT.
//
// The light is a Tasmota-style RGBW device: colours go to cmnd/<device>/COLOR
// as #rrggbbww and power commands to cmnd/<device>/POWER.
package light

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"schoollights/internal/config"
	appLog "schoollights/internal/log"
)

const (
	// whiteOnly turns the RGB channels off and the white channel full on.
	whiteOnly = "000000ff"
	powerOff  = "OFF"
)

// Publisher sends one MQTT message.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload string) error
}

func commandTopic(device, cmd string) string {
	return "cmnd/" + device + "/" + cmd
}

func statusTopic(device, stat string) string {
	return "stat/" + device + "/" + stat
}

// Sequencer plays a list of steps on one device and switches it off at
// the end.
type Sequencer struct {
	pub    Publisher
	device string
	steps  []config.StepConfig

	mu  sync.Mutex
	rnd *rand.Rand

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSequencer(pub Publisher, device string, steps []config.StepConfig) *Sequencer {
	return &Sequencer{
		pub:    pub,
		device: device,
		steps:  steps,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
}

// Run plays every step in order. It stops early, without switching the
// light off, when ctx is cancelled or a publish fails.
func (s *Sequencer) Run(ctx context.Context) error {
	started := time.Now()
	appLog.Info("light sequence start", "device", s.device, "steps", len(s.steps))

	for i, step := range s.steps {
		appLog.Debug("light step", "index", i, "type", step.Type, "duration", step.Duration)
		if err := s.runStep(ctx, step); err != nil {
			appLog.Error("light sequence aborted", err, "device", s.device, "step", i)
			return err
		}
	}

	if err := s.pub.Publish(ctx, commandTopic(s.device, "POWER"), 1, powerOff); err != nil {
		return fmt.Errorf("power off: %w", err)
	}
	appLog.Info("light sequence done", "device", s.device, "elapsed", time.Since(started).Round(time.Second))
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, step config.StepConfig) error {
	switch step.Type {
	case config.StepSolid:
		if err := s.setColour(ctx, step.Colour); err != nil {
			return err
		}
		return s.sleep(ctx, step.Duration)

	case config.StepRandom:
		interval := step.Interval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		n := int(step.Duration / interval)
		for i := 0; i < n; i++ {
			if err := s.setColour(ctx, s.randomColour()); err != nil {
				return err
			}
			if err := s.sleep(ctx, interval); err != nil {
				return err
			}
		}
		return nil

	case config.StepWhite:
		if err := s.pub.Publish(ctx, commandTopic(s.device, "COLOR"), 0, whiteOnly); err != nil {
			return err
		}
		return s.sleep(ctx, step.Duration)

	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

// setColour shows an #rrggbb colour with the white channel off.
func (s *Sequencer) setColour(ctx context.Context, hex string) error {
	return s.pub.Publish(ctx, commandTopic(s.device, "COLOR"), 0, strings.ToLower(hex)+"00")
}

func (s *Sequencer) randomColour() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("#%02x%02x%02x", s.rnd.Intn(256), s.rnd.Intn(256), s.rnd.Intn(256))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
