// Package lifecycle wires every subsystem package into one running host process
// (spec.md §4.9): the startup phase sequence, the adapters bridging one package's
// narrow interface to another package's concrete type, and graceful shutdown.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crypdick/pynchy/pkg/api"
	"github.com/crypdick/pynchy/pkg/approval"
	"github.com/crypdick/pynchy/pkg/channels/slack"
	"github.com/crypdick/pynchy/pkg/channels/tui"
	"github.com/crypdick/pynchy/pkg/channels/whatsapp"
	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/containerrt"
	"github.com/crypdick/pynchy/pkg/gateway"
	"github.com/crypdick/pynchy/pkg/gitsync"
	"github.com/crypdick/pynchy/pkg/ipc"
	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/outbound"
	"github.com/crypdick/pynchy/pkg/queue"
	"github.com/crypdick/pynchy/pkg/router"
	"github.com/crypdick/pynchy/pkg/scheduler"
	"github.com/crypdick/pynchy/pkg/security"
	"github.com/crypdick/pynchy/pkg/session"
	"github.com/crypdick/pynchy/pkg/store"
)

// shutdownGrace is spec.md §4.9's watchdog: if graceful shutdown hasn't finished this long
// after the first SIGTERM/SIGINT, the process hard-exits anyway.
const shutdownGrace = 12 * time.Second

// deployContinuation mirrors the file a self-deploy writes before exiting, consumed on the
// next boot (spec.md §4.9 phase 5, S6 in the scenario appendix).
type deployContinuation struct {
	PreviousCommitSHA string            `json:"previous_commit_sha"`
	CommitSHA         string            `json:"commit_sha"`
	ResumePrompt      string            `json:"resume_prompt"`
	ActiveSessions    map[string]string `json:"active_sessions"` // folder -> chat_jid
	RolledBack        bool              `json:"rolled_back,omitempty"`
}

// App is the fully wired host process: every package constructed above is reachable only
// through App so main.go stays a thin CLI shell around New/Run.
type App struct {
	cfg         *config.Config
	projectRoot string
	logger      *slog.Logger

	store    *store.Client
	runtime  *containerrt.Runtime
	ipcRoot  *ipc.Root
	watcher  *ipc.Watcher
	dispatch *ipc.Dispatcher

	gw         *gateway.Gateway
	gate       *security.Gate
	cop        *security.Cop
	approvals  *approval.Manager
	sessions   *session.Manager
	bus        *outbound.Bus
	repos      map[string]*gitsync.Coordinator // keyed by repo slug
	hostRepo   *gitsync.Coordinator
	queuePool  *queue.WorkerPool
	rtr        *router.Router
	taskLoop   *scheduler.Loop
	hostJobs   *scheduler.HostJobRunner
	hub        *api.EventHub
	httpServer *api.Server

	channels []outbound.ChannelCore

	startedAt    time.Time
	shuttingDown atomic.Bool

	wg sync.WaitGroup
}

// New performs spec.md §4.9 phase 1 ("Core init"): opens the store, connects the container
// runtime, builds the LLM+MCP gateway and security gate, and loads persisted router state.
// Every later phase is a method called from Run.
func New(ctx context.Context, cfg *config.Config, projectRoot string) (*App, error) {
	logger := slog.Default().With("component", "lifecycle")

	dataDir := filepath.Join(projectRoot, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: create data dir: %w", err)
	}

	cli, err := store.NewClient(store.DefaultConfig(filepath.Join(dataDir, "pynchy.db")))
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open store: %w", err)
	}

	rt, err := containerrt.New()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: connect container runtime: %w", err)
	}

	network := "pynchy"
	if err := rt.EnsureNetwork(ctx, network); err != nil {
		return nil, fmt.Errorf("lifecycle: ensure docker network: %w", err)
	}

	ipcRoot := ipc.NewRoot(filepath.Join(dataDir, "ipc"))

	instances := gateway.NewInstanceManager(rt, cfg.MCPServers, network, 9100)

	rules := security.NewDefaultRules()
	gate := security.NewGate(instances, rules)
	for folder, ws := range cfg.Workspaces {
		gate.SetWorkspacePolicy(folder, security.WorkspacePolicy{
			IsAdmin:           ws.IsAdmin,
			DefaultTier:       security.Tier(ws.Security.DefaultTier),
			ToolTiers:         stringTiers(ws.Security.ToolTiers),
			MaxCallsPerHour:   ws.Security.MaxCallsPerHour,
			ToolRateOverrides: ws.Security.ToolRateOverrides,
		})
	}
	cop := security.NewCop()

	bus := outbound.New(cli, accessChecker(cfg, cli))
	approvals := approval.NewManager(ipcRoot, bus, approval.DefaultTimeout)

	gw, err := gateway.New(cfg.Gateway, cfg.Secrets, instances, gate, gate, []gateway.Inspector{cop},
		approverAdapter{mgr: approvals, store: cli})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: build gateway: %w", err)
	}

	// appRef lets the host repo's Deploy closure reach a.deploy without a circular
	// construction order: the coordinator must be built before App exists (App.sessions
	// needs a WorktreeEnsurer over the finished repo map), but Deploy's behavior is an App
	// method. The closure captures the variable, not its (as-yet-nil) value.
	var appRef *App
	hostDeploy := func(ctx context.Context, prevSHA, newSHA string, rebuildImage bool) error {
		return appRef.deploy(ctx, prevSHA, newSHA, rebuildImage)
	}
	repos, hostRepo := buildCoordinators(cfg, bus, hostDeploy)

	a := &App{
		cfg: cfg, projectRoot: projectRoot, logger: logger,
		store: cli, runtime: rt, ipcRoot: ipcRoot,
		gw: gw, gate: gate, cop: cop, approvals: approvals, bus: bus,
		repos: repos, hostRepo: hostRepo,
		startedAt: time.Now(),
	}
	appRef = a
	a.sessions = session.NewManager(ipcRoot, session.NewRuntimeAdapter(rt), cfg, worktreeMultiplexer{app: a})

	if err := a.loadRouterState(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

// stringTiers narrows config.WorkspaceSecurity.ToolTiers (map[string]string) into
// map[string]security.Tier.
func stringTiers(in map[string]string) map[string]security.Tier {
	out := make(map[string]security.Tier, len(in))
	for k, v := range in {
		out[k] = security.Tier(v)
	}
	return out
}

// accessChecker builds the outbound.AccessChecker closure: a chat is blocked only when its
// cascaded access mode is exactly "read" (read-only chats never receive host-originated
// sends); "write-only" and the default "read-write" both still allow outbound delivery,
// since "write-only" describes what the *agent* may do with inbound content, not whether
// the host may speak to the chat.
func accessChecker(cfg *config.Config, cli *store.Client) outbound.AccessChecker {
	return func(chatJID string) bool {
		ws, err := cli.GetWorkspaceByJID(context.Background(), chatJID)
		if err != nil || ws == nil {
			return true
		}
		wsCfg, ok := cfg.Workspaces[ws.Folder]
		if !ok {
			return true
		}
		overrides := wsCfg.WorkspaceOverrides
		if chat, ok := findChatOverride(cfg, chatJID); ok {
			overrides = config.ResolveChatOverride(overrides, chat)
		}
		return overrides.Access != "read"
	}
}

// findChatOverride mirrors pkg/router's own lookup of a per-chat [connections.*.chat.<jid>]
// override, duplicated here rather than imported since router.Router doesn't export it.
func findChatOverride(cfg *config.Config, chatJID string) (config.ChatOverride, bool) {
	for _, conn := range cfg.Connections.Slack {
		if c, ok := conn.Chat[chatJID]; ok {
			return c, true
		}
	}
	for _, conn := range cfg.Connections.WhatsApp {
		if c, ok := conn.Chat[chatJID]; ok {
			return c, true
		}
	}
	return config.ChatOverride{}, false
}

// buildCoordinators constructs one *gitsync.Coordinator per configured repo. The repo keyed
// "host" in cfg.Repos (config.RepoConfig carries no dedicated flag for this) is treated as
// the host's own repo and gets self-deploy wiring; every other repo gets a nil Deploy.
func buildCoordinators(cfg *config.Config, bus *outbound.Bus, hostDeploy gitsync.Deploy) (map[string]*gitsync.Coordinator, *gitsync.Coordinator) {
	repos := make(map[string]*gitsync.Coordinator, len(cfg.Repos))
	var host *gitsync.Coordinator
	for slug, rc := range cfg.Repos {
		var deploy gitsync.Deploy
		if slug == "host" {
			deploy = hostDeploy
		}
		c := gitsync.New(gitsync.RepoConfig{
			Slug:       slug,
			LocalPath:  rc.LocalPath,
			IsHostRepo: slug == "host",
		}, bus, deploy)
		repos[slug] = c
		if slug == "host" {
			host = c
		}
	}
	for folder, ws := range cfg.Workspaces {
		if ws.RepoAccess == "" {
			continue
		}
		if c, ok := repos[ws.RepoAccess]; ok {
			chatJID := resolveWorkspaceChat(cfg, folder)
			c.RegisterWorkspace(folder, chatJID)
		}
	}
	return repos, host
}

func resolveWorkspaceChat(cfg *config.Config, folder string) string {
	if ws, ok := cfg.Workspaces[folder]; ok {
		return ws.Chat
	}
	return ""
}

func (a *App) loadRouterState(ctx context.Context) error {
	_, err := a.store.GetRouterState(ctx)
	if err != nil {
		a.logger.Warn("lifecycle: no prior router state, starting fresh", "error", err)
	}
	return nil
}

// Run executes startup phases 2 through 6, blocks until ctx is cancelled or an OS signal
// arrives, and then runs graceful shutdown under the 12-second watchdog.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.phaseChannelSetup(runCtx); err != nil {
		return fmt.Errorf("lifecycle: channel setup: %w", err)
	}
	if err := a.phaseFirstRunAdminGroup(runCtx); err != nil {
		return fmt.Errorf("lifecycle: first-run admin group: %w", err)
	}
	if err := a.phaseReconcile(runCtx); err != nil {
		return fmt.Errorf("lifecycle: startup reconciliation: %w", err)
	}
	if err := a.phaseStartSubsystems(runCtx); err != nil {
		return fmt.Errorf("lifecycle: subsystem startup: %w", err)
	}
	a.phaseMessageLoop(runCtx)

	<-runCtx.Done()
	a.shuttingDown.Store(true)
	return a.shutdown()
}

// phaseChannelSetup is startup phase 2: builds and registers every configured channel
// adapter against the outbound bus, plus the always-present local TUI channel, and starts
// each one's inbound event loop.
func (a *App) phaseChannelSetup(ctx context.Context) error {
	onRecv := a.inboundHandler()

	for name, sc := range a.cfg.Connections.Slack {
		ch := slack.New(slack.Config{
			Name:     name,
			BotToken: os.Getenv(sc.BotTokenEnv),
			AppToken: os.Getenv(sc.AppTokenEnv),
			Chats:    sc.Chat,
		}, func(m models.Message) { onRecv(m) })
		a.bus.Register(ch)
		a.channels = append(a.channels, ch)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := ch.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("lifecycle: slack channel stopped", "connection", name, "error", err)
			}
		}()
	}

	for name, wc := range a.cfg.Connections.WhatsApp {
		ch, err := whatsapp.Connect(ctx, whatsapp.Config{
			Name:       name,
			AuthDBPath: wc.AuthDBPath,
			Chats:      wc.Chat,
		}, func(m models.Message) { onRecv(m) })
		if err != nil {
			return fmt.Errorf("whatsapp connection %q: %w", name, err)
		}
		a.bus.Register(ch)
		a.channels = append(a.channels, ch)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := ch.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("lifecycle: whatsapp channel stopped", "connection", name, "error", err)
			}
		}()
	}

	localTUI := tui.New(os.Stdin, os.Stdout, func(m models.Message) { onRecv(m) })
	a.bus.Register(localTUI)
	a.channels = append(a.channels, localTUI)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := localTUI.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("lifecycle: tui channel stopped", "error", err)
		}
	}()

	return nil
}

// inboundHandler returns the closure every channel's InboundHandler forwards to: persist the
// message (idempotently, by ID) so the router's next poll picks it up, mirroring
// api.handleSend's own insert-then-let-the-router-notice path.
func (a *App) inboundHandler() func(models.Message) {
	return func(m models.Message) {
		if err := a.store.InsertMessageIfNew(context.Background(), m); err != nil {
			a.logger.Error("lifecycle: inbound message store failed", "error", err, "chat_jid", m.ChatJID)
		}
		if a.hub != nil {
			a.hub.Publish("message", m.ChatJID, m)
		}
	}
}

// phaseFirstRunAdminGroup is startup phase 3: if no admin workspace exists yet, registers
// one backed by the local TUI channel so the host is reachable immediately after a fresh
// install, before any messaging platform is configured.
func (a *App) phaseFirstRunAdminGroup(ctx context.Context) error {
	workspaces, err := a.store.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	for _, ws := range workspaces {
		if ws.IsAdmin {
			return nil
		}
	}
	for folder, ws := range a.cfg.Workspaces {
		if !ws.IsAdmin {
			continue
		}
		return a.store.UpsertWorkspace(ctx, models.Workspace{
			JID: tui.ChatJID, Name: ws.Name, Folder: folder,
			Trigger: ws.Trigger, IsAdmin: true, AddedAt: time.Now(),
			RepoAccess: ws.RepoAccess, GitPolicy: ws.GitPolicy,
		})
	}
	a.logger.Warn("lifecycle: no is_admin workspace configured; skipping first-run admin group")
	return nil
}

// phaseReconcile is startup phase 4: reconciles every tracked repo's worktrees against the
// configured workspaces before any container starts.
func (a *App) phaseReconcile(ctx context.Context) error {
	for slug, c := range a.repos {
		if err := c.ReconcileAtStartup(ctx); err != nil {
			a.logger.Error("lifecycle: worktree reconciliation failed", "repo", slug, "error", err)
		}
	}
	a.approvals.ReconcileAtStartup(ctx, a.workspaceFolders())
	return nil
}

func (a *App) workspaceFolders() []string {
	folders := make([]string, 0, len(a.cfg.Workspaces))
	for folder := range a.cfg.Workspaces {
		folders = append(folders, folder)
	}
	return folders
}

// phaseStartSubsystems is startup phase 5: scheduler, IPC watcher/dispatcher, per-repo git
// sync loops, the HTTP status server, boot notification, and deploy-continuation recovery.
func (a *App) phaseStartSubsystems(ctx context.Context) error {
	maxConcurrent := a.cfg.Container.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	inputs := &inputBuilder{cfg: a.cfg, gw: a.gw}
	msgExec := &sessionExecutor{
		sessions: a.sessions, inputs: inputs, store: a.store, bus: a.bus,
		timeout: time.Duration(a.cfg.Container.TimeoutMS) * time.Millisecond,
	}
	timezone := scheduler.ResolveTimezone(a.cfg.Scheduler.Timezone)
	taskExec := scheduler.NewTaskExecutor(a.store, a.sessions, a.sessions, inputs, a.bus,
		gitCompletionAdapter{coordinatorFor: a.coordinatorForFolder}, msgExec.timeout,
		time.Duration(a.cfg.Container.IdleTimeoutMS)*time.Millisecond, timezone)

	a.queuePool = queue.NewWorkerPool(a.cfg.Queue, maxConcurrent, combinedExecutor{messages: msgExec, tasks: taskExec})
	a.queuePool.Start(ctx)

	pollInterval := a.cfg.Scheduler.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	a.taskLoop = scheduler.NewLoop(a.store, a.queuePool, pollInterval)
	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.taskLoop.Run(ctx) }()

	if len(a.cfg.CronJobs) > 0 {
		hj, err := scheduler.NewHostJobRunner(a.cfg.CronJobs)
		if err != nil {
			return fmt.Errorf("host cron jobs: %w", err)
		}
		a.hostJobs = hj
		a.wg.Add(1)
		go func() { defer a.wg.Done(); a.hostJobs.Run(ctx, time.Minute) }()
	}

	// A nil *gitsync.Coordinator assigned directly to the RedeployTrigger interface field
	// would wrap as a non-nil interface holding a nil pointer, breaking router's own
	// `r.redeploy == nil` check — so leave the interface itself nil when there's no host
	// repo configured.
	var redeploy router.RedeployTrigger
	if a.hostRepo != nil {
		redeploy = a.hostRepo
	}
	rtr, err := router.New(ctx, router.Deps{
		Store: a.store, Config: a.cfg,
		Dispatch: dispatchAdapter{pool: a.queuePool}, Sessions: a.sessions,
		Bus: a.bus, Approvals: a.approvals, Redeploy: redeploy,
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	a.rtr = rtr

	watcher, err := ipc.NewWatcher(a.ipcRoot)
	if err != nil {
		return fmt.Errorf("ipc watcher: %w", err)
	}
	a.watcher = watcher
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("ipc watcher start: %w", err)
	}
	a.dispatch = ipc.NewDispatcher(a.ipcRoot, func(folder string) bool {
		ws, ok := a.cfg.Workspaces[folder]
		return ok && ws.IsAdmin
	})
	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.dispatch.Run(ctx, a.watcher) }()
	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.watchOutput(ctx) }()

	for slug, c := range a.repos {
		coord := c
		label := slug
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.Info("lifecycle: starting git sync loop", "repo", label)
			coord.PollLoop(ctx)
		}()
	}

	a.hub = api.NewEventHub()
	a.httpServer = api.NewServer(api.Deps{
		Store: a.store, Queue: a.queuePool, Hub: a.hub, StartedAt: a.startedAt,
		Channels: a.channelsStatus, Gateway: a.gatewayStatus, Repos: a.reposStatus,
		Sessions: a.activeSessionCount, ShuttingDown: a.shuttingDown.Load,
	})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(a.cfg.Server.Port))
		if err := a.httpServer.Start(addr); err != nil {
			a.logger.Error("lifecycle: api server stopped", "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.gw.Start(ctx); err != nil {
			a.logger.Error("lifecycle: gateway stopped", "error", err)
		}
	}()

	a.sendBootNotification(ctx)
	a.recoverPendingMessages(ctx)
	a.consumeDeployContinuation(ctx)

	return nil
}

// phaseMessageLoop is startup phase 6: begins router polling on its own cadence, and runs
// channel reconciliation (outbound.Bus.Reconcile) once at the start and then every
// catchup_interval.
func (a *App) phaseMessageLoop(ctx context.Context) {
	pollInterval := a.cfg.Intervals.MessagePoll
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	catchupInterval := a.cfg.Intervals.CatchupInterval
	if catchupInterval <= 0 {
		catchupInterval = 10 * time.Second
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.bus.Reconcile(ctx)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		catchup := time.NewTicker(catchupInterval)
		defer catchup.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-catchup.C:
				a.bus.Reconcile(ctx)
			case <-ticker.C:
				if err := a.rtr.Tick(ctx); err != nil {
					a.logger.Error("lifecycle: router tick failed", "error", err)
				}
			}
		}
	}()
}

// watchOutput consumes ipc.Watcher events for the output/ directory — the container's
// streamed text and query-done pulses — and forwards each to the session manager. This
// path has no other consumer: ipc.Dispatcher.Run only handles tasks/ and
// approval_decisions/.
func (a *App) watchOutput(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.watcher.Events():
			if !ok {
				return
			}
			if ev.Dir != ipc.DirOutput {
				continue
			}
			var out session.OutputEvent
			if err := a.ipcRoot.ReadAndRemove(ev.Folder, ev.Path, &out); err != nil {
				a.logger.Error("lifecycle: read output event failed", "folder", ev.Folder, "error", err)
				continue
			}
			a.sessions.HandleOutput(ev.Folder, out)
		}
	}
}

func (a *App) coordinatorForFolder(folder string) (*gitsync.Coordinator, string, bool) {
	ws, ok := a.cfg.Workspaces[folder]
	if !ok || ws.RepoAccess == "" {
		return nil, "", false
	}
	c, ok := a.repos[ws.RepoAccess]
	if !ok {
		return nil, "", false
	}
	policy := ws.GitPolicy
	if policy == "" {
		policy = "merge-to-main"
	}
	return c, policy, true
}

func (a *App) sendBootNotification(ctx context.Context) {
	workspaces, err := a.store.ListWorkspaces(ctx)
	if err != nil {
		return
	}
	for _, ws := range workspaces {
		if ws.IsAdmin {
			_ = a.bus.Broadcast(ctx, ws.JID, "pynchy is up.", "system")
		}
	}
}

// recoverPendingMessages runs one router Tick at boot, which routes every stored message newer
// than the persisted global cursor. Messages at or before that cursor that a workspace's agent
// has not yet consumed are not re-dispatched here; they are loaded again as pending only when a
// new message for that workspace is routed.
func (a *App) recoverPendingMessages(ctx context.Context) {
	if err := a.rtr.Tick(ctx); err != nil {
		a.logger.Error("lifecycle: pending-message recovery tick failed", "error", err)
	}
}

// consumeDeployContinuation implements spec.md §4.9 phase 5's final step: if a deploy just
// completed, broadcast completion to every chat that had an active session and delete the
// continuation file.
func (a *App) consumeDeployContinuation(ctx context.Context) {
	path := filepath.Join(a.projectRoot, "data", "deploy_continuation.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var dc deployContinuation
	if err := json.Unmarshal(raw, &dc); err != nil {
		a.logger.Error("lifecycle: malformed deploy_continuation.json", "error", err)
		os.Remove(path)
		return
	}

	shortSHA := dc.CommitSHA
	if len(shortSHA) > 7 {
		shortSHA = shortSHA[:7]
	}
	note := fmt.Sprintf("Deploy complete — %s. Continue from where you left off.", shortSHA)
	if dc.RolledBack {
		note = fmt.Sprintf("Deploy to %s failed and was rolled back to %s.", shortSHA, dc.PreviousCommitSHA)
	}
	for _, chatJID := range dc.ActiveSessions {
		_ = a.bus.Broadcast(ctx, chatJID, note, "system")
	}
	os.Remove(path)
}

// deploy implements gitsync.Deploy for the host's own repo: persists a continuation record
// naming every workspace with a live container, optionally pulls the (already-tagged) image,
// and exits non-zero for the process supervisor to restart the host on the new code.
// A failing deploy is the caller's (gitsync.Coordinator's) responsibility to roll back before
// invoking this. The record written here never sets rolled_back; consumeDeployContinuation only
// reads that field and reports a rollback when it is set.
func (a *App) deploy(ctx context.Context, prevSHA, newSHA string, rebuildImage bool) error {
	if rebuildImage {
		if err := a.runtime.PullIfMissing(ctx, a.cfg.Container.Image); err != nil {
			return fmt.Errorf("lifecycle: deploy image refresh: %w", err)
		}
	}

	active := make(map[string]string)
	for folder := range a.cfg.Workspaces {
		if a.sessions.HasActiveContainer(folder) {
			if ws, err := a.store.GetWorkspaceByFolder(ctx, folder); err == nil && ws != nil {
				active[folder] = ws.JID
			}
		}
	}
	dc := deployContinuation{PreviousCommitSHA: prevSHA, CommitSHA: newSHA, ActiveSessions: active}
	raw, err := json.Marshal(dc)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal deploy continuation: %w", err)
	}
	path := filepath.Join(a.projectRoot, "data", "deploy_continuation.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("lifecycle: write deploy continuation: %w", err)
	}

	a.logger.Warn("lifecycle: self-deploy exiting for supervisor restart", "from", prevSHA, "to", newSHA)
	os.Exit(1)
	return nil
}

// channelsStatus, gatewayStatus, reposStatus, and activeSessionCount implement the
// api.StatusSection / api.SessionCounter closures GET /status reads, letting pkg/api stay
// ignorant of gateway/gitsync/session.
func (a *App) channelsStatus() map[string]any {
	out := make(map[string]any, len(a.channels))
	for _, ch := range a.channels {
		out[ch.Name()] = "connected"
	}
	return out
}

func (a *App) gatewayStatus() map[string]any {
	return map[string]any{"mode": a.cfg.Gateway.Mode()}
}

func (a *App) reposStatus() map[string]any {
	out := make(map[string]any, len(a.repos))
	for slug := range a.repos {
		out[slug] = "tracked"
	}
	return out
}

func (a *App) activeSessionCount() int {
	count := 0
	for folder := range a.cfg.Workspaces {
		if a.sessions.HasActiveContainer(folder) {
			count++
		}
	}
	return count
}

// shutdown stops every subsystem, racing against shutdownGrace; a slow shutdown is abandoned
// in favor of letting main.go hard-exit.
func (a *App) shutdown() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if a.httpServer != nil {
			_ = a.httpServer.Shutdown(ctx)
		}
		if a.gw != nil {
			_ = a.gw.Shutdown(ctx)
		}
		if a.queuePool != nil {
			a.queuePool.Stop()
		}
		if a.watcher != nil {
			_ = a.watcher.Close()
		}
		a.wg.Wait()
		if a.store != nil {
			_ = a.store.Close()
		}
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
		return fmt.Errorf("lifecycle: shutdown exceeded %s watchdog", shutdownGrace)
	}
}
