package supervisor

import (
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/cacher"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/cmdmgr"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/credmgr"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/eventfeeder"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/jobfetcher"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/monitor"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/preparator"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/propagator"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/stager"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/submitter"
	"github.com/pkbatx/edge-dispatch-agent/internal/stages/sweeper"
)

// DefaultStageRegistry returns the fixed-stage-list registry the
// supervisor launches from. Each entry is a constructor function, not
// a constructed instance: looking one up never forces initialization
// of the other ten stages' plug-ins.
//
// Import of each stages/<name> package happens here, at registry
// build time, not at supervisor package init. A caller that only
// ever looks up "credmgr" (e.g. a focused test) still pays the import
// cost of the other ten packages, but never runs their package-level
// init beyond what Go itself already guarantees (no stage package
// registers a global on import).
func DefaultStageRegistry() stage.Registry {
	r := stage.NewRegistry()
	r.Register("credmgr", credmgr.New)
	r.Register("cmdmgr", cmdmgr.New)
	r.Register("cacher", cacher.New)
	r.Register("jobfetcher", jobfetcher.New)
	r.Register("propagator", propagator.New)
	r.Register("monitor", monitor.New)
	r.Register("preparator", preparator.New)
	r.Register("submitter", submitter.New)
	r.Register("stager", stager.New)
	r.Register("eventfeeder", eventfeeder.New)
	r.Register("sweeper", sweeper.New)
	return r
}
