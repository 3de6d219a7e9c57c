// Package agent runs the autonomous documentation loop: drain the queue,
// document each program, and periodically re-check documented programs
// for IDL upgrades.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/soldocs/soldocs/internal/chain"
	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/seed"
	"github.com/soldocs/soldocs/internal/store"
	"github.com/soldocs/soldocs/internal/telemetry"
	"github.com/soldocs/soldocs/internal/types"
)

const (
	// MaxAttempts is the retry budget per queue item.
	MaxAttempts = 10
	// upgradeCheckEvery is the number of loop iterations between on-chain
	// upgrade checks.
	upgradeCheckEvery = 12
	// errorRingCap bounds the recent-errors buffer.
	errorRingCap = 50

	// loopErrorID tags ring entries that are not tied to one program.
	loopErrorID = "agent-loop"
)

// ChainClient is the slice of chain access the agent needs.
type ChainClient interface {
	GetAccount(ctx context.Context, address string) (*chain.AccountInfo, error)
	FetchIDL(ctx context.Context, programID string) (idl.Document, error)
}

// DocGenerator produces Documentation from an IDL.
type DocGenerator interface {
	Generate(ctx context.Context, doc idl.Document, programID, idlHash string) (*types.Documentation, error)
}

// Notifier delivers completion events.
type Notifier interface {
	Enabled() bool
	NotifyCompleted(ctx context.Context, d *types.Documentation) error
}

// Config holds the agent's tunables.
type Config struct {
	// Concurrency is the batch fan-out; floor 1.
	Concurrency int
	// DiscoveryInterval is the sleep between queue-drain iterations.
	DiscoveryInterval time.Duration
}

// Agent is the long-running documentation worker.
type Agent struct {
	store    *store.Store
	chain    ChainClient
	gen      DocGenerator
	notifier Notifier
	cfg      Config
	log      *slog.Logger

	mu             sync.Mutex
	running        bool
	startedAt      *time.Time
	lastRunAt      *time.Time
	recentErrors   []types.AgentError
	upgradeCounter int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates an Agent. Concurrency below 1 is raised to 1.
func New(s *store.Store, c ChainClient, g DocGenerator, n Notifier, cfg Config, log *slog.Logger) *Agent {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	agentMetricsOnce.Do(initAgentMetrics)
	return &Agent{
		store:    s,
		chain:    c,
		gen:      g,
		notifier: n,
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run executes the agent loop until ctx is canceled or Stop is called.
// Loop-level failures are recorded and the loop continues; Run only
// returns on shutdown.
func (a *Agent) Run(ctx context.Context) error {
	now := time.Now().UTC()
	a.mu.Lock()
	a.running = true
	a.startedAt = &now
	a.mu.Unlock()
	defer a.setRunning(false)

	if n, err := a.store.RecoverStuck(); err != nil {
		a.recordError(loopErrorID, fmt.Sprintf("recover stuck items: %v", err))
	} else if n > 0 {
		a.log.Info("recovered stuck queue items", "count", n)
	}

	if n, err := seed.Seed(a.store, a.log); err != nil {
		a.recordError(loopErrorID, fmt.Sprintf("seed: %v", err))
	} else if n > 0 {
		a.log.Info("seeded initial programs", "count", n)
	}

	for {
		if err := a.processQueue(ctx); err != nil {
			a.recordError(loopErrorID, err.Error())
			a.log.Error("queue pass failed", "error", err)
		}

		ranAt := time.Now().UTC()
		a.mu.Lock()
		a.lastRunAt = &ranAt
		a.upgradeCounter++
		runUpgrade := a.upgradeCounter >= upgradeCheckEvery
		if runUpgrade {
			a.upgradeCounter = 0
		}
		a.mu.Unlock()

		if runUpgrade {
			if err := a.checkUpgrades(ctx); err != nil {
				a.recordError(loopErrorID, err.Error())
				a.log.Error("upgrade check failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-time.After(a.cfg.DiscoveryInterval):
		}
	}
}

// Stop asks the loop to exit. In-flight batch items run to completion;
// no new batches start.
func (a *Agent) Stop() {
	a.setRunning(false)
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *Agent) setRunning(v bool) {
	a.mu.Lock()
	a.running = v
	a.mu.Unlock()
}

func (a *Agent) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// processQueue drains a snapshot of pending items in batches of
// cfg.Concurrency, waiting for each batch to settle before the next.
func (a *Agent) processQueue(ctx context.Context) error {
	pending, err := a.store.ListPending()
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	a.log.Info("processing queue", "pending", len(pending), "concurrency", a.cfg.Concurrency)

	for start := 0; start < len(pending); start += a.cfg.Concurrency {
		// Stop requests take effect at batch boundaries.
		if start > 0 && !a.isRunning() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		end := min(start+a.cfg.Concurrency, len(pending))

		g, gctx := errgroup.WithContext(ctx)
		for _, item := range pending[start:end] {
			g.Go(func() error {
				a.processProgramSafe(gctx, item)
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	}
	return nil
}

// processProgramSafe isolates one item: any failure is recorded on the
// queue item, the program index, and the error ring, never propagated.
func (a *Agent) processProgramSafe(ctx context.Context, item types.QueueItem) {
	err := a.processProgram(ctx, item)
	if err == nil {
		return
	}
	msg := err.Error()
	a.log.Error("program processing failed", "program", item.ProgramID, "attempts", item.Attempts+1, "error", msg)

	failed := types.StatusFailed
	attempts := item.Attempts + 1
	if _, uerr := a.store.UpdateQueueItemSafe(item.ProgramID, types.QueueUpdate{
		Status:    &failed,
		Attempts:  &attempts,
		LastError: &msg,
	}); uerr != nil {
		a.log.Error("failed to mark queue item failed", "program", item.ProgramID, "error", uerr)
	}

	a.upsertFailedMetadata(item.ProgramID, msg)
	a.recordError(item.ProgramID, msg)
	if agentMetrics.failed != nil {
		agentMetrics.failed.Add(ctx, 1)
	}
}

// processProgram runs the full pipeline for one queue item.
func (a *Agent) processProgram(ctx context.Context, item types.QueueItem) error {
	id := item.ProgramID

	// Retry budget exhausted: fail permanently and drop the item.
	if item.Attempts >= MaxAttempts {
		msg := fmt.Sprintf("Permanently failed after %d attempts: %s", MaxAttempts, item.LastError)
		a.log.Warn("dropping permanently failed program", "program", id)
		if _, err := a.store.RemoveFromQueueSafe(id); err != nil {
			return fmt.Errorf("remove exhausted item: %w", err)
		}
		a.upsertFailedMetadata(id, msg)
		a.recordError(id, msg)
		return nil
	}

	processing := types.StatusProcessing
	if _, err := a.store.UpdateQueueItemSafe(id, types.QueueUpdate{Status: &processing}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	prior, err := a.store.GetIDL(id)
	if err != nil {
		return fmt.Errorf("read IDL cache: %w", err)
	}

	var doc idl.Document
	if prior != nil {
		doc = idl.Document(prior.IDL)
	} else {
		info, err := a.chain.GetAccount(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch program account: %w", err)
		}
		if info == nil || !info.Executable {
			return fmt.Errorf("program %s not found or not executable", id)
		}
		doc, err = a.chain.FetchIDL(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch IDL: %w", err)
		}
		if doc == nil {
			return fmt.Errorf("IDL not found for program %s", id)
		}
	}

	rec, err := a.store.SaveIDLSafe(id, doc)
	if err != nil {
		return fmt.Errorf("cache IDL: %w", err)
	}

	// Same IDL, docs already exist: nothing to regenerate.
	if prior != nil && prior.Hash == rec.Hash {
		priorDocs, err := a.store.GetDocs(id)
		if err != nil {
			return fmt.Errorf("read docs: %w", err)
		}
		if priorDocs != nil {
			a.log.Info("IDL unchanged, keeping existing docs", "program", id, "hash", rec.Hash)
			if _, err := a.store.RemoveFromQueueSafe(id); err != nil {
				return fmt.Errorf("dequeue unchanged program: %w", err)
			}
			return nil
		}
	}

	docs, err := a.gen.Generate(ctx, doc, id, rec.Hash)
	if err != nil {
		return fmt.Errorf("generate docs: %w", err)
	}
	if err := a.store.SaveDocsSafe(*docs); err != nil {
		return fmt.Errorf("persist docs: %w", err)
	}

	if err := a.upsertDocumentedMetadata(id, doc, docs); err != nil {
		return fmt.Errorf("update program index: %w", err)
	}

	if a.notifier != nil && a.notifier.Enabled() {
		if err := a.notifier.NotifyCompleted(ctx, docs); err != nil {
			a.log.Warn("webhook notification failed", "program", id, "error", err)
		}
	}

	if _, err := a.store.RemoveFromQueueSafe(id); err != nil {
		return fmt.Errorf("dequeue completed program: %w", err)
	}
	if agentMetrics.documented != nil {
		agentMetrics.documented.Add(ctx, 1)
	}
	a.log.Info("program documented", "program", id, "name", docs.Name, "hash", rec.Hash)
	return nil
}

func (a *Agent) upsertDocumentedMetadata(id string, doc idl.Document, docs *types.Documentation) error {
	now := time.Now().UTC()
	meta := types.ProgramMetadata{
		ProgramID:        id,
		Name:             doc.Name(),
		Description:      summarizeOverview(docs.Overview),
		InstructionCount: doc.InstructionCount(),
		AccountCount:     doc.AccountCount(),
		Status:           types.StatusDocumented,
		IDLHash:          docs.IDLHash,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if existing, err := a.store.GetProgram(id); err == nil && existing != nil && !existing.CreatedAt.IsZero() {
		meta.CreatedAt = existing.CreatedAt
	}
	return a.store.SaveProgramSafe(meta)
}

// upsertFailedMetadata records a failure in the program index without
// clobbering createdAt. Failures before any IDL is known carry a
// truncated id as the name.
func (a *Agent) upsertFailedMetadata(id, msg string) {
	now := time.Now().UTC()
	meta := types.ProgramMetadata{
		ProgramID:    id,
		Name:         shortID(id),
		Status:       types.StatusFailed,
		ErrorMessage: msg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing, err := a.store.GetProgram(id); err == nil && existing != nil && !existing.CreatedAt.IsZero() {
		meta.CreatedAt = existing.CreatedAt
	}
	if err := a.store.SaveProgramSafe(meta); err != nil {
		a.log.Error("failed to record program failure", "program", id, "error", err)
	}
}

// checkUpgrades re-fetches the on-chain IDL of every documented program
// and re-enqueues those whose hash changed.
func (a *Agent) checkUpgrades(ctx context.Context) error {
	ids, err := seed.UpgradeCandidates(a.store)
	if err != nil {
		return fmt.Errorf("list upgrade candidates: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc, err := a.chain.FetchIDL(ctx, id)
		if err != nil {
			a.log.Warn("upgrade check fetch failed", "program", id, "error", err)
			continue
		}
		if doc == nil {
			continue
		}
		hash, err := idl.Hash(doc)
		if err != nil {
			a.log.Warn("upgrade check hash failed", "program", id, "error", err)
			continue
		}
		cached, err := a.store.GetIDL(id)
		if err != nil {
			a.log.Warn("upgrade check cache read failed", "program", id, "error", err)
			continue
		}
		if cached != nil && cached.Hash == hash {
			continue
		}
		a.log.Info("IDL upgrade detected", "program", id)
		if _, _, err := a.store.AddToQueueSafe(id); err != nil {
			a.log.Warn("upgrade enqueue failed", "program", id, "error", err)
		}
	}
	return nil
}

// State returns a live view of the agent: store stats are re-folded and
// the error ring is copied so callers never observe mutation.
func (a *Agent) State() (types.AgentState, error) {
	stats, err := a.store.Stats()
	if err != nil {
		return types.AgentState{}, err
	}
	pending, err := a.store.ListPending()
	if err != nil {
		return types.AgentState{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := types.AgentState{
		Running:            a.running,
		ProgramsDocumented: stats.Documented,
		ProgramsFailed:     stats.Failed,
		TotalProcessed:     stats.Total,
		QueueLength:        len(pending),
		RecentErrors:       append([]types.AgentError{}, a.recentErrors...),
	}
	if a.startedAt != nil {
		t := *a.startedAt
		state.StartedAt = &t
	}
	if a.lastRunAt != nil {
		t := *a.lastRunAt
		state.LastRunAt = &t
	}
	return state, nil
}

func (a *Agent) recordError(programID, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentErrors = append(a.recentErrors, types.AgentError{
		ProgramID: programID,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	if excess := len(a.recentErrors) - errorRingCap; excess > 0 {
		a.recentErrors = a.recentErrors[excess:]
	}
}

// summarizeOverview strips markdown noise and returns at most 200 bytes,
// cut on a rune boundary.
func summarizeOverview(overview string) string {
	s := strings.NewReplacer("#", "", "*", "", "\n", " ").Replace(overview)
	return types.TruncateUTF8(strings.TrimSpace(s), 200)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "…"
	}
	return id
}

var agentMetrics struct {
	documented metric.Int64Counter
	failed     metric.Int64Counter
}

var agentMetricsOnce sync.Once

func initAgentMetrics() {
	m := telemetry.Meter("github.com/soldocs/soldocs/agent")
	agentMetrics.documented, _ = m.Int64Counter("soldocs.agent.programs_documented",
		metric.WithDescription("Programs documented successfully"),
	)
	agentMetrics.failed, _ = m.Int64Counter("soldocs.agent.programs_failed",
		metric.WithDescription("Program processing failures"),
	)
}
