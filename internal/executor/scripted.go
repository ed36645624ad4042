package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type scriptStep struct {
	message func(Target, string) string
	delay   time.Duration
}

func text(s string) func(Target, string) string {
	return func(Target, string) string { return s }
}

var script = []scriptStep{
	{func(t Target, _ string) string { return "🚀 Starting deployment for " + t.Name }, 800 * time.Millisecond},
	{func(t Target, _ string) string { return "📦 Cloning repository " + t.RepoFullName + "..." }, 1200 * time.Millisecond},
	{text("✅ Repository cloned successfully"), 500 * time.Millisecond},
	{text("🔍 Detecting framework and build settings..."), 1000 * time.Millisecond},
	{text("📋 Installing dependencies..."), 2000 * time.Millisecond},
	{text("✅ Dependencies installed"), 500 * time.Millisecond},
	{text("🔨 Building project..."), 2500 * time.Millisecond},
	{text("✅ Build successful"), 500 * time.Millisecond},
	{text("🌍 Deploying to production..."), 1500 * time.Millisecond},
	{text("✅ Deployment successful!"), 0},
	{func(t Target, suffix string) string {
		return "🎉 Your app is live on https://" + strings.ToLower(t.Name) + suffix
	}, 0},
}

// Scripted replays a fixed deployment script with realistic pauses. It is the
// default executor and needs no external tooling.
type Scripted struct {
	// Speed scales every delay. Zero disables waiting.
	Speed float64
	// DomainSuffix is appended to the lowercased project name in the final line.
	DomainSuffix string
	now          func() time.Time
}

// NewScripted returns a Scripted executor.
func NewScripted(speed float64, domainSuffix string) *Scripted {
	if speed < 0 {
		speed = 0
	}
	return &Scripted{Speed: speed, DomainSuffix: domainSuffix, now: time.Now}
}

// Steps returns the number of entries a successful run emits.
func (s *Scripted) Steps() int { return len(script) }

// Execute emits each scripted line and waits the scaled delay after it.
func (s *Scripted) Execute(ctx context.Context, target Target, emit Emitter) Outcome {
	now := s.now
	if now == nil {
		now = time.Now
	}
	for _, step := range script {
		if err := ctx.Err(); err != nil {
			emit(Entry{Time: now(), Message: FailureMessage(fmt.Errorf("deployment interrupted: %w", err))})
			return Failed
		}
		emit(Entry{Time: now(), Message: step.message(target, s.DomainSuffix)})
		if err := s.wait(ctx, step.delay); err != nil {
			emit(Entry{Time: now(), Message: FailureMessage(fmt.Errorf("deployment interrupted: %w", err))})
			return Failed
		}
	}
	return Succeeded
}

func (s *Scripted) wait(ctx context.Context, base time.Duration) error {
	d := time.Duration(float64(base) * s.Speed)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
