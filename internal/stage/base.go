// Package stage implements the common stage-agent lifecycle contract
// every one of the eleven concrete stages is built on, plus the stage
// constructor registry and the shared plug-in registry each stage
// resolves its back-end verbs from.
package stage

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/metrics"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// Agent is a single stage worker instance.
type Agent interface {
	// Execute runs one iteration of the stage's work.
	Execute(ctx context.Context) error
	// Run drives the stage to completion: once if single-shot,
	// otherwise looping until the stop signal is observed.
	Run(ctx context.Context)
}

// Base implements the common lifecycle every stage embeds. Stages
// supply an ExecuteFunc closing over their own dependencies; Base
// handles panic recovery, logging, single-shot vs looping behavior,
// and the stop-signal wake-up.
type Base struct {
	StageName  string
	Index      int
	SingleShot bool
	Stop       *stopsignal.Signal
	Period     time.Duration
	Logger     *log.Logger
	ExecuteFn  func(ctx context.Context) error
}

// NewBase constructs a Base with a stage-tagged logger.
func NewBase(stageName string, index int, period time.Duration, singleShot bool, stop *stopsignal.Signal, execute func(ctx context.Context) error) *Base {
	prefix := fmt.Sprintf("[%s/%d] ", stageName, index)
	return &Base{
		StageName:  stageName,
		Index:      index,
		SingleShot: singleShot,
		Stop:       stop,
		Period:     period,
		Logger:     log.New(os.Stdout, prefix, log.LstdFlags),
		ExecuteFn:  execute,
	}
}

// Execute runs one iteration, recovering and logging any panic instead
// of propagating it past the stage: a stage bug never exits the
// process.
func (b *Base) Execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Printf("recovered panic in execute: %v", r)
			err = fmt.Errorf("%s: panic: %v", b.StageName, r)
		}
	}()
	return b.ExecuteFn(ctx)
}

// Run drives the stage: in single-shot mode,
// exactly one Execute and return; otherwise loop until the stop signal
// is observed, sleeping between iterations with early wake on stop.
func (b *Base) Run(ctx context.Context) {
	if b.SingleShot {
		b.runOnce(ctx)
		return
	}
	for !b.Stop.IsSet() {
		b.runOnce(ctx)
		if b.Stop.Wait(b.Period) {
			return
		}
	}
}

func (b *Base) runOnce(ctx context.Context) {
	start := time.Now()
	err := b.Execute(ctx)
	metrics.ObserveExecute(b.StageName, err == nil, time.Since(start))
	if err != nil {
		b.Logger.Printf("execute error: %v", err)
	}
}
