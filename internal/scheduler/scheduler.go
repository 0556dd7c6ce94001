// Package scheduler implements the Scheduler component (spec §4.3): a
// tiered, score-weighted policy that picks a runtime node (or a warm
// container) for a new session. Tiers are considered in order; the
// first tier that produces a non-empty candidate set wins.
//
// Grounded on api/internal/services/agent_selector.go's filter-then-score
// structure, adapted from agent/cluster/region filtering to
// node/template-image/agent-affinity filtering.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kweaver-ai/sandboxctl/internal/db"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/metrics"
	"github.com/kweaver-ai/sandboxctl/internal/models"
)

// Tier weights (spec §4.3, "illustrative, tunable").
const (
	WeightWarmPool    = 100
	WeightAffinity    = 50
	WeightLoadBalance = 30
)

// Request carries everything the Scheduler needs to place a session.
type Request struct {
	TemplateID      string
	TemplateImage   string
	Runtime         string
	CPU             string
	Memory          string
	AgentAffinityID string
}

// Placement is the Scheduler's decision: either a warm container ready
// to be claimed directly, or a node the Container Scheduler should
// create a fresh container on.
type Placement struct {
	Tier          string
	Node          *models.RuntimeNode
	WarmContainer *WarmContainer
	Score         float64
}

// Scheduler picks a placement target for session creation requests.
type Scheduler struct {
	nodes *db.NodeDB
	warm  *WarmPool
}

// New creates a Scheduler backed by the runtime node table and a fresh
// warm pool.
func New(nodes *db.NodeDB, warm *WarmPool) *Scheduler {
	if warm == nil {
		warm = NewWarmPool()
	}
	return &Scheduler{nodes: nodes, warm: warm}
}

// WarmPool exposes the pool so the replenisher loop and metrics endpoint
// can inspect/feed it.
func (s *Scheduler) WarmPool() *WarmPool {
	return s.warm
}

// Select runs the three-tier policy and returns a placement, or a
// TooManyRequests-flavored error if no tier produced a candidate
// (spec §4.3).
func (s *Scheduler) Select(ctx context.Context, req Request) (*Placement, error) {
	log := logger.Scheduler()

	if c, ok := s.warm.Claim(req.TemplateID); ok {
		log.Debug().Str("template_id", req.TemplateID).Str("container_id", c.ContainerID).
			Msg("warm pool claim")
		metrics.SchedulerPlacements.WithLabelValues("warm_pool").Inc()
		return &Placement{Tier: "warm_pool", WarmContainer: &c, Score: WeightWarmPool}, nil
	}

	nodes, err := s.nodes.ListSchedulableNodes(ctx, req.Runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulable nodes: %w", err)
	}
	candidates := filterSchedulable(nodes)
	if len(candidates) == 0 {
		log.Warn().Str("runtime", req.Runtime).Msg("no schedulable nodes for runtime")
		return nil, errNoCapacity(req)
	}

	if placement := s.selectByAffinity(candidates, req); placement != nil {
		log.Debug().Str("node_id", placement.Node.ID).Msg("template affinity placement")
		metrics.SchedulerPlacements.WithLabelValues("template_affinity").Inc()
		return placement, nil
	}

	placement, err := s.selectByLoadBalance(candidates, req)
	if err != nil {
		log.Warn().Str("runtime", req.Runtime).Msg("no node meets the resource request")
		return nil, errNoCapacity(req)
	}
	log.Debug().Str("node_id", placement.Node.ID).Msg("load-balance placement")
	metrics.SchedulerPlacements.WithLabelValues("load_balance").Inc()
	return placement, nil
}

func errNoCapacity(req Request) error {
	return capacityError{runtime: req.Runtime}
}

// capacityError marks failures the API layer should translate to
// errors.CapacityExhausted (TooManyRequests), without internal/scheduler
// importing the errors package's HTTP concerns.
type capacityError struct {
	runtime string
}

func (e capacityError) Error() string {
	return fmt.Sprintf("no node available to schedule runtime %q", e.runtime)
}

// IsCapacityExhausted reports whether err is the Scheduler's
// no-candidate signal, for the API layer to map to TooManyRequests.
func IsCapacityExhausted(err error) bool {
	_, ok := err.(capacityError)
	return ok
}

// filterSchedulable drops any node that is not online, is at capacity,
// or has crossed the failure-count threshold (spec §4.3).
func filterSchedulable(nodes []*models.RuntimeNode) []*models.RuntimeNode {
	var out []*models.RuntimeNode
	for _, n := range nodes {
		if n.IsSchedulable() {
			out = append(out, n)
		}
	}
	return out
}

// selectByAffinity implements tier 2: among nodes whose cached_images
// contains the template's image, pick the highest score. A matching
// agent_affinity_id label adds a bonus for persistent-mode sessions.
func (s *Scheduler) selectByAffinity(nodes []*models.RuntimeNode, req Request) *Placement {
	var best *models.RuntimeNode
	var bestScore float64

	for _, n := range nodes {
		if !hasImage(n, req.TemplateImage) {
			continue
		}
		score := float64(WeightAffinity)
		if req.AgentAffinityID != "" && n.Labels["agent_affinity_id"] == req.AgentAffinityID {
			score += WeightAffinity
		}
		if best == nil || scoreLess(bestScore, best, score, n) {
			best, bestScore = n, score
		}
	}

	if best == nil {
		return nil
	}
	return &Placement{Tier: "template_affinity", Node: best, Score: bestScore}
}

func hasImage(n *models.RuntimeNode, image string) bool {
	for _, img := range n.CachedImages {
		if img == image {
			return true
		}
	}
	return false
}

// selectByLoadBalance implements tier 3: among all online nodes meeting
// the resource request, pick the least loaded (largest free-CPU +
// free-memory margin within max_containers).
func (s *Scheduler) selectByLoadBalance(nodes []*models.RuntimeNode, req Request) (*Placement, error) {
	wantCPU, err := resource.ParseQuantity(nonEmpty(req.CPU, "100m"))
	if err != nil {
		return nil, fmt.Errorf("invalid cpu request %q: %w", req.CPU, err)
	}
	wantMemory, err := resource.ParseQuantity(nonEmpty(req.Memory, "128Mi"))
	if err != nil {
		return nil, fmt.Errorf("invalid memory request %q: %w", req.Memory, err)
	}

	type scored struct {
		node   *models.RuntimeNode
		margin float64
	}
	var fits []scored

	for _, n := range nodes {
		freeCPU, freeMemory, ok := freeCapacity(n)
		if !ok {
			continue
		}
		if freeCPU.Cmp(wantCPU) < 0 || freeMemory.Cmp(wantMemory) < 0 {
			continue
		}
		margin := float64(freeCPU.MilliValue()) + float64(freeMemory.Value())/(1024*1024)
		fits = append(fits, scored{node: n, margin: margin})
	}

	if len(fits) == 0 {
		return nil, fmt.Errorf("no node has free capacity for cpu=%s memory=%s", req.CPU, req.Memory)
	}

	sort.Slice(fits, func(i, j int) bool {
		if fits[i].margin != fits[j].margin {
			return fits[i].margin > fits[j].margin
		}
		if fits[i].node.RunningContainers != fits[j].node.RunningContainers {
			return fits[i].node.RunningContainers < fits[j].node.RunningContainers
		}
		return fits[i].node.ID < fits[j].node.ID
	})

	return &Placement{Tier: "load_balance", Node: fits[0].node, Score: WeightLoadBalance}, nil
}

func freeCapacity(n *models.RuntimeNode) (free, freeMem resource.Quantity, ok bool) {
	total, err := resource.ParseQuantity(nonEmpty(n.TotalCPU, "0"))
	if err != nil {
		return resource.Quantity{}, resource.Quantity{}, false
	}
	allocated, err := resource.ParseQuantity(nonEmpty(n.AllocatedCPU, "0"))
	if err != nil {
		return resource.Quantity{}, resource.Quantity{}, false
	}
	totalMem, err := resource.ParseQuantity(nonEmpty(n.TotalMemory, "0"))
	if err != nil {
		return resource.Quantity{}, resource.Quantity{}, false
	}
	allocatedMem, err := resource.ParseQuantity(nonEmpty(n.AllocatedMemory, "0"))
	if err != nil {
		return resource.Quantity{}, resource.Quantity{}, false
	}

	total.Sub(allocated)
	totalMem.Sub(allocatedMem)
	return total, totalMem, true
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// scoreLess breaks ties by lower current load, then by node-id
// lexicographic order, for deterministic selection (spec §4.3).
func scoreLess(currentBest float64, bestNode *models.RuntimeNode, candidate float64, candidateNode *models.RuntimeNode) bool {
	if candidate != currentBest {
		return candidate > currentBest
	}
	if candidateNode.RunningContainers != bestNode.RunningContainers {
		return candidateNode.RunningContainers < bestNode.RunningContainers
	}
	return candidateNode.ID < bestNode.ID
}
