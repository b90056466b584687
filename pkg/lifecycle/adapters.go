package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/gateway"
	"github.com/crypdick/pynchy/pkg/gitsync"
	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/queue"
	"github.com/crypdick/pynchy/pkg/router"
	"github.com/crypdick/pynchy/pkg/session"
	"github.com/crypdick/pynchy/pkg/store"
	"github.com/google/uuid"
)

// dispatchAdapter lets *queue.WorkerPool satisfy router.Dispatcher, translating the router's
// workspace-centric DispatchItem into a queue.Item carrying a synthetic models.Message so the
// message executor has a uniform queue.Item shape regardless of which scheduler dispatched it.
type dispatchAdapter struct {
	pool *queue.WorkerPool
}

func (d dispatchAdapter) Enqueue(item router.DispatchItem) {
	id := item.TriggerMessageID
	if id == "" {
		id = uuid.NewString()
	}
	d.pool.Enqueue(queue.Item{
		WorkspaceFolder: item.WorkspaceFolder,
		Message: &models.Message{
			ID:          id,
			ChatJID:     item.ChatJID,
			Content:     item.Text,
			Timestamp:   item.EnqueuedAt,
			MessageType: models.MessageTypeUser,
		},
		EnqueuedAt: item.EnqueuedAt,
	})
}

// inputBuilder fills in the gateway-facing fields of a session.ContainerInput for one
// workspace, shared by the message executor and wired into the scheduler as its
// scheduler.InputBuilder. Implements both queue.Executor's and scheduler.TaskExecutor's need
// for "how do I reach the LLM+MCP gateway from inside folder's container" without either
// package importing pkg/gateway directly.
type inputBuilder struct {
	cfg *config.Config
	gw  *gateway.Gateway
}

func (b *inputBuilder) Build(ctx context.Context, folder string) (session.ContainerInput, error) {
	wsCfg, ok := b.cfg.Workspaces[folder]
	if !ok {
		return session.ContainerInput{}, fmt.Errorf("lifecycle: no workspace config for folder %q", folder)
	}

	mcpServers := make([]session.MCPServerConfig, 0, len(wsCfg.MCPServers))
	for _, name := range wsCfg.MCPServers {
		inst, err := b.gw.Instances().EnsureInstance(ctx, folder, name)
		if err != nil {
			return session.ContainerInput{}, fmt.Errorf("lifecycle: ensure mcp instance %s for %s: %w", name, folder, err)
		}
		mcpServers = append(mcpServers, session.MCPServerConfig{
			Name: name,
			URL:  b.gw.MCPServerURL(b.cfg.Gateway.ContainerHost, folder, name, inst.ID),
		})
	}

	return session.ContainerInput{
		WorkspaceFolder: folder,
		IsAdmin:         wsCfg.IsAdmin,
		AgentCore:       b.cfg.Agent.AgentCore,
		LLMBaseURL:      gateway.BaseURL(b.cfg.Gateway.ContainerHost, b.cfg.Gateway.Port, ""),
		LLMEphemeralKey: b.gw.EphemeralKey(),
		RepoAccess:      wsCfg.RepoAccess,
		MCPServers:      mcpServers,
	}, nil
}

// gitCompletionAdapter implements scheduler.GitCompletion over the gitsync.Coordinator
// responsible for a workspace's repo_access, chosen per-workspace at App construction time.
type gitCompletionAdapter struct {
	coordinatorFor func(folder string) (*gitsync.Coordinator, string, bool)
}

func (a gitCompletionAdapter) CompleteRun(ctx context.Context, folder string) error {
	c, policy, ok := a.coordinatorFor(folder)
	if !ok {
		return nil
	}
	if policy == "pull-request" {
		_, err := c.OpenOrUpdatePR(ctx, folder, "scheduled task update", "automated update from a scheduled task run")
		return err
	}
	return c.MergeToMain(ctx, folder)
}

// approverAdapter implements gateway.Approver over *approval.Manager, resolving folder to the
// chat jid approval notifications are sent to (approval.Manager needs it, gateway.Approver's
// narrower signature doesn't carry it).
type approverAdapter struct {
	mgr   approvalRequester
	store *store.Client
}

type approvalRequester interface {
	RequestApproval(ctx context.Context, folder, chatJID, tool string, payload map[string]any) (bool, error)
}

func (a approverAdapter) RequestApproval(ctx context.Context, folder, tool string, args map[string]any) (bool, error) {
	ws, err := a.store.GetWorkspaceByFolder(ctx, folder)
	if err != nil {
		return false, fmt.Errorf("lifecycle: resolve chat jid for approval in %s: %w", folder, err)
	}
	return a.mgr.RequestApproval(ctx, folder, ws.JID, tool, args)
}

// sessionExecutor implements queue.Executor: it cold-starts (or reuses) folder's container
// session for one dispatched item, streams tool-use previews to the outbound bus as they
// arrive, and blocks for the terminal query-done pulse before reporting the result back to
// the worker pool, per spec.md §4.2's message-dispatch path.
type sessionExecutor struct {
	sessions *session.Manager
	inputs   *inputBuilder
	store    *store.Client
	bus      broadcaster
	timeout  time.Duration
}

type broadcaster interface {
	Broadcast(ctx context.Context, chatJID, text, source string) error
}

func (e *sessionExecutor) Execute(ctx context.Context, item queue.Item) *queue.ExecutionResult {
	folder := item.WorkspaceFolder
	input, err := e.inputs.Build(ctx, folder)
	if err != nil {
		return &queue.ExecutionResult{Status: "failed", Error: err}
	}
	input.ChatJID = item.Message.ChatJID
	input.Messages = []string{item.Message.Content}

	if err := e.sessions.ColdStart(ctx, folder, input); err != nil {
		return &queue.ExecutionResult{Status: "failed", Error: err}
	}

	var response string
	e.sessions.SetOutputHandler(folder, func(ev session.OutputEvent) {
		if ev.Result != nil {
			response = *ev.Result
		}
		if ev.Text != "" {
			_ = e.bus.Broadcast(ctx, item.Message.ChatJID, ev.Text, "agent_activity")
		}
	})

	if err := e.sessions.AwaitQueryDone(ctx, folder, e.timeout); err != nil {
		return &queue.ExecutionResult{Status: "failed", Error: err}
	}
	return &queue.ExecutionResult{Status: "completed", Response: response}
}

// worktreeMultiplexer implements session.WorktreeEnsurer over every configured repo's
// Coordinator, routing by the calling workspace's configured repo_access — session.Manager
// takes a single WorktreeEnsurer, but a host may track several repos.
type worktreeMultiplexer struct {
	app *App
}

func (w worktreeMultiplexer) EnsureWorktree(ctx context.Context, folder string) ([]string, error) {
	c, _, ok := w.app.coordinatorForFolder(folder)
	if !ok {
		return nil, nil
	}
	return c.EnsureWorktree(ctx, folder)
}

// combinedExecutor implements queue.Executor over the two kinds of work the single
// per-workspace queue carries: plain chat-message items (sessionExecutor) and scheduled-task
// one-shot runs (scheduler.TaskExecutor), distinguished by whether the item carries a TaskID.
type combinedExecutor struct {
	messages queue.Executor
	tasks    queue.Executor
}

func (c combinedExecutor) Execute(ctx context.Context, item queue.Item) *queue.ExecutionResult {
	if item.TaskID != "" {
		return c.tasks.Execute(ctx, item)
	}
	return c.messages.Execute(ctx, item)
}
