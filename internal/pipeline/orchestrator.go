package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sqlweave/internal/diag"
	"sqlweave/internal/generate"
	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
)

// Pipeline runs a question end to end: decompose into a plan graph, walk
// the graph layer by layer through the verify-repair loop, then compose
// the verified fragments into the final statement. A node that exhausts
// its attempts aborts the remaining layers; the report still carries every
// partial result produced up to that point.
type Pipeline struct {
	Decomposer generate.Decomposer
	Loop       *Loop
	Composer   generate.Composer

	// Workers bounds in-layer parallelism. Values below 1 mean serial.
	Workers int
	Log     *zap.Logger
}

func New(dec generate.Decomposer, loop *Loop, comp generate.Composer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Decomposer: dec,
		Loop:       loop,
		Composer:   comp,
		Workers:    1,
		Log:        log,
	}
}

// Run executes the pipeline for one question. The returned report is
// always non-nil; the error mirrors report.Error for callers that prefer
// control flow.
func (p *Pipeline) Run(ctx context.Context, question string, sc *schema.Schema) (*plan.RunReport, error) {
	report := &plan.RunReport{
		RunID:     uuid.NewString(),
		Query:     question,
		Status:    plan.RunAborted,
		Stages:    make(map[diag.Stage]plan.StageTally),
		StartedAt: time.Now(),
	}
	defer func() { report.Elapsed = time.Since(report.StartedAt) }()

	log := p.Log.With(zap.String("run_id", report.RunID))
	log.Info("pipeline run starting", zap.String("question", question))

	graph, err := p.Decomposer.Decompose(ctx, question, sc)
	if err != nil {
		report.Error = fmt.Sprintf("decompose: %v", err)
		return report, fmt.Errorf("decompose: %w", err)
	}
	layers, err := graph.ExecutionLayers()
	if err != nil {
		report.Error = fmt.Sprintf("plan layering: %v", err)
		return report, fmt.Errorf("plan layering: %w", err)
	}
	log.Info("plan decomposed",
		zap.Int("nodes", graph.Len()),
		zap.Int("layers", len(layers)))

	outcomes := make(map[string]NodeOutcome)
	var mu sync.Mutex
	failed := false

layers:
	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			report.Error = err.Error()
			p.finishReport(report, graph, outcomes)
			return report, err
		}

		g, gctx := errgroup.WithContext(ctx)
		if p.Workers > 1 {
			g.SetLimit(p.Workers)
		} else {
			g.SetLimit(1)
		}
		for _, id := range layer {
			node := graph.Node(id)
			g.Go(func() error {
				deps, err := p.dependencyFragments(graph, id)
				if err != nil {
					return err
				}
				out, err := p.Loop.Run(gctx, question, node, sc, deps)
				mu.Lock()
				outcomes[id] = out
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			report.Error = err.Error()
			p.finishReport(report, graph, outcomes)
			return report, err
		}

		for _, id := range layer {
			out := outcomes[id]
			if out.Status == plan.RunVerified {
				_ = graph.SetState(id, plan.StateVerified, out.Fragment, "")
				continue
			}
			detail := fmt.Sprintf("unverified after %d attempts", out.Attempts)
			_ = graph.SetState(id, plan.StateFailed, "", detail)
			log.Warn("node failed, aborting remaining layers",
				zap.String("node", id),
				zap.Int("attempts", out.Attempts))
			failed = true
		}
		if failed {
			break layers
		}
	}

	p.finishReport(report, graph, outcomes)
	if failed {
		report.Status = plan.RunExhausted
		report.Error = "one or more plan nodes could not be verified"
		return report, nil
	}

	final, err := p.Composer.Compose(ctx, question, fragmentsByKind(graph))
	if err != nil {
		report.Error = fmt.Sprintf("compose: %v", err)
		return report, fmt.Errorf("compose: %w", err)
	}
	report.FinalSQL = final
	report.Status = plan.RunVerified
	log.Info("pipeline run verified",
		zap.Int("attempts", report.Attempts),
		zap.Duration("elapsed", time.Since(report.StartedAt)))
	return report, nil
}

// dependencyFragments collects the verified fragments of a node's parents
// in deterministic order.
func (p *Pipeline) dependencyFragments(graph *plan.Graph, id string) ([]string, error) {
	parents, err := graph.Dependencies(id)
	if err != nil {
		return nil, err
	}
	var frags []string
	for _, pid := range parents {
		if n := graph.Node(pid); n != nil && n.Fragment != "" {
			frags = append(frags, n.Fragment)
		}
	}
	return frags, nil
}

// finishReport folds the per-node outcomes into the report, in topological
// order so the trajectory reads top to bottom.
func (p *Pipeline) finishReport(report *plan.RunReport, graph *plan.Graph, outcomes map[string]NodeOutcome) {
	order, err := graph.TopologicalOrder()
	if err != nil {
		order = graph.NodeIDs()
	}
	for _, id := range order {
		node := graph.Node(id)
		nr := plan.NodeReport{
			ID:          node.ID,
			Kind:        node.Kind,
			Description: node.Description,
			Fragment:    node.Fragment,
			State:       node.State,
		}
		if out, ok := outcomes[id]; ok {
			nr.Attempts = out.Attempts
			nr.Issues = out.Issues
			report.Attempts += out.Attempts
			for stage, tally := range out.Stages {
				agg := report.Stages[stage]
				agg.Passed += tally.Passed
				agg.Failed += tally.Failed
				report.Stages[stage] = agg
			}
		}
		report.Nodes = append(report.Nodes, nr)
	}
}

// fragmentsByKind groups the verified fragments for composition.
func fragmentsByKind(graph *plan.Graph) map[plan.OpKind][]string {
	out := make(map[plan.OpKind][]string)
	order, err := graph.TopologicalOrder()
	if err != nil {
		order = graph.NodeIDs()
	}
	for _, id := range order {
		n := graph.Node(id)
		if n.State == plan.StateVerified && n.Fragment != "" {
			out[n.Kind] = append(out[n.Kind], n.Fragment)
		}
	}
	return out
}
