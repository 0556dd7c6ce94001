package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// ContainerCreator is the slice of the Container Scheduler abstraction
// (spec §4.4) the replenisher needs: enough to stand up a container for
// a template without pulling in the full interface or its adapters.
type ContainerCreator interface {
	CreateContainer(ctx context.Context, cfg models.ContainerConfig) (containerID, ip string, executorPort int, err error)
}

// replenishJob is one "bring this template's pool up to target" task,
// queued for a worker pool the same way command_dispatcher.go queues
// agent commands.
type replenishJob struct {
	template *models.Template
	node     *models.RuntimeNode
}

// Replenisher asynchronously tops up each template's warm pool to its
// configured target size whenever a claim drains it (spec §4.3: "claim
// it and asynchronously replenish to the configured target size").
type Replenisher struct {
	pool      *WarmPool
	templates *db.TemplateDB
	nodes     *db.NodeDB
	creator   ContainerCreator

	queue    chan replenishJob
	workers  int
	stopChan chan struct{}
}

// NewReplenisher creates a Replenisher with a bounded job queue and a
// fixed worker pool so container-creation bursts never run unbounded.
func NewReplenisher(pool *WarmPool, templates *db.TemplateDB, nodes *db.NodeDB, creator ContainerCreator) *Replenisher {
	return &Replenisher{
		pool:      pool,
		templates: templates,
		nodes:     nodes,
		creator:   creator,
		queue:     make(chan replenishJob, 256),
		workers:   4,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the worker pool and a ticker that sweeps all active
// templates for pool deficits. It blocks until Stop is called, so the
// caller should run it in its own goroutine.
func (r *Replenisher) Start(ctx context.Context, interval time.Duration) {
	log := logger.Scheduler()
	log.Info().Int("workers", r.workers).Msg("warm pool replenisher starting")

	for i := 0; i < r.workers; i++ {
		go r.worker(ctx, i)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("replenisher sweep failed")
			}
		case <-r.stopChan:
			log.Info().Msg("warm pool replenisher stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Start to return.
func (r *Replenisher) Stop() {
	close(r.stopChan)
}

// StartWorkers launches just the worker pool, for callers that drive the
// sweep cadence externally (internal/jobsched) via RunOnce instead of
// Start's own ticker.
func (r *Replenisher) StartWorkers(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		go r.worker(ctx, i)
	}
}

// RunOnce runs a single deficit sweep, queuing replenish jobs for the
// already-running worker pool.
func (r *Replenisher) RunOnce(ctx context.Context) error {
	return r.sweep(ctx)
}

// sweep checks every active template's deficit and queues a job per
// missing slot, all targeting the first node ListSchedulableNodes returns
// (the one with the fewest running containers).
func (r *Replenisher) sweep(ctx context.Context) error {
	templates, err := r.templates.ListActiveTemplates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active templates: %w", err)
	}

	for _, tmpl := range templates {
		deficit := r.pool.Deficit(tmpl.ID)
		if deficit == 0 {
			continue
		}
		nodes, err := r.nodes.ListSchedulableNodes(ctx, tmpl.RuntimeType)
		if err != nil || len(nodes) == 0 {
			continue
		}
		node := nodes[0]
		for i := 0; i < deficit; i++ {
			select {
			case r.queue <- replenishJob{template: tmpl, node: node}:
			default:
				// queue saturated; the next sweep will try again.
			}
		}
	}
	return nil
}

func (r *Replenisher) worker(ctx context.Context, id int) {
	for {
		select {
		case job := <-r.queue:
			r.processJob(ctx, job)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Replenisher) processJob(ctx context.Context, job replenishJob) {
	log := logger.Scheduler()
	cfg := models.ContainerConfig{
		Image:                job.template.Image,
		CPU:                  job.template.DefaultCPU,
		Memory:               job.template.DefaultMemory,
		Disk:                 job.template.DefaultDisk,
		NetworkMode:          "bridge",
		User:                 "1000:1000",
		RequireWorkspaceMount: false,
	}

	containerID, ip, port, err := r.creator.CreateContainer(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("template_id", job.template.ID).Msg("warm pool replenish failed")
		return
	}

	r.pool.Return(job.template.ID, WarmContainer{
		ContainerID:  containerID,
		NodeID:       job.node.ID,
		IP:           ip,
		ExecutorPort: port,
	})
	log.Debug().Str("template_id", job.template.ID).Str("container_id", containerID).
		Msg("warm pool replenished")
}
