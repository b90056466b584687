package router

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/store"
)

// Router polls the message table for new rows, groups them by workspace, and routes each
// group to either pipe/enqueue/interrupt, per spec.md §4.1.
type Router struct {
	store     *store.Client
	cfg       *config.Config
	dispatch  Dispatcher
	sessions  SessionManager
	bus       OutboundBus
	approvals ApprovalResolver
	redeploy  RedeployTrigger

	mu                sync.Mutex
	lastTimestamp     time.Time
	lastID            string
	dispatchedThrough map[string]time.Time // folder -> transient over-advance cursor, reset on restart
}

// Deps bundles the Router's collaborators, wired once at startup.
type Deps struct {
	Store     *store.Client
	Config    *config.Config
	Dispatch  Dispatcher
	Sessions  SessionManager
	Bus       OutboundBus
	Approvals ApprovalResolver
	Redeploy  RedeployTrigger
}

// New builds a Router and loads its persisted cursor.
func New(ctx context.Context, d Deps) (*Router, error) {
	r := &Router{
		store:             d.Store,
		cfg:               d.Config,
		dispatch:          d.Dispatch,
		sessions:          d.Sessions,
		bus:               d.Bus,
		approvals:         d.Approvals,
		redeploy:          d.Redeploy,
		dispatchedThrough: make(map[string]time.Time),
	}

	state, err := d.Store.GetRouterState(ctx)
	if err != nil {
		return nil, err
	}
	r.lastTimestamp = state.LastTimestamp
	return r, nil
}

// Run ticks the router at the configured message-poll interval until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Intervals.MessagePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				slog.Error("router tick failed", "error", err)
			}
		}
	}
}

// Tick performs one polling pass: fetch new messages, advance and persist the global
// cursor before routing, then dispatch each workspace's batch.
func (r *Router) Tick(ctx context.Context) error {
	r.mu.Lock()
	since, afterID := r.lastTimestamp, r.lastID
	r.mu.Unlock()

	msgs, err := r.store.MessagesSince(ctx, since, afterID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	last := msgs[len(msgs)-1]
	state, err := r.store.GetRouterState(ctx)
	if err != nil {
		return err
	}
	state.LastTimestamp = last.Timestamp
	if err := r.store.SaveRouterState(ctx, *state); err != nil {
		return err
	}
	r.mu.Lock()
	r.lastTimestamp, r.lastID = last.Timestamp, last.ID
	r.mu.Unlock()

	for chatJID, batch := range groupByChat(msgs) {
		if err := r.routeChat(ctx, chatJID, batch); err != nil {
			slog.Error("route workspace failed", "chat_jid", chatJID, "error", err)
		}
	}
	return nil
}

func groupByChat(msgs []models.Message) map[string][]models.Message {
	groups := make(map[string][]models.Message)
	for _, m := range msgs {
		groups[m.ChatJID] = append(groups[m.ChatJID], m)
	}
	return groups
}

// routeChat resolves chatJID (through any alias) to its workspace and runs the routing
// decision (spec.md §4.1) against the new batch.
func (r *Router) routeChat(ctx context.Context, chatJID string, batch []models.Message) error {
	canonical, err := r.store.ResolveJIDAlias(ctx, chatJID)
	if err != nil {
		return err
	}

	ws, err := r.store.GetWorkspaceByJID(ctx, canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // not a registered workspace chat; nothing to route
	}
	if err != nil {
		return err
	}

	return r.routeWorkspace(ctx, *ws, batch)
}

// routeWorkspace implements the seven-step routing decision for one workspace's new batch.
func (r *Router) routeWorkspace(ctx context.Context, ws models.Workspace, batch []models.Message) error {
	wsCfg := r.cfg.Workspaces[ws.Folder]
	overrides := wsCfg.WorkspaceOverrides
	if chatOverride, ok := r.findChatOverride(ws.JID); ok {
		overrides = config.ResolveChatOverride(overrides, chatOverride)
	}

	// 1. Access check.
	if accessBlocksDispatch(overrides.Access) {
		return nil
	}

	// 2. Sender filter.
	batch = filterAllowedSenders(r.cfg.Owner, overrides.AllowedUsers, batch)
	if len(batch) == 0 {
		return nil
	}

	// 3. Trigger gate.
	if !ws.IsAdmin && overrides.Trigger == "mention" {
		last := batch[len(batch)-1]
		cmd := MatchCommand(r.cfg.Commands, last.Content)
		mentioned := false
		for _, m := range batch {
			if MatchesTrigger(r.cfg.Agent.Name, r.cfg.Agent.TriggerAlias, m.Content) {
				mentioned = true
				break
			}
		}
		if !mentioned && cmd.Kind == CommandNone {
			return nil
		}
	}

	// 4. Load pending: everything since max(last_agent_timestamp, _dispatched_through).
	state, err := r.store.GetRouterState(ctx)
	if err != nil {
		return err
	}
	cursor := state.LastAgentTimestamp[ws.Folder]
	r.mu.Lock()
	if dt, ok := r.dispatchedThrough[ws.Folder]; ok && dt.After(cursor) {
		cursor = dt
	}
	r.mu.Unlock()

	pending, err := r.store.RecentMessages(ctx, ws.JID, &cursor, 1000)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// 5. System-notice filter.
	if !r.sessions.HasActiveContainer(ws.Folder) && allSystemNotices(pending) {
		return nil
	}

	// 6. Special-command interception. A leading "@<name>" trigger mention is skipped first,
	// so "@pynchy boom" is matched as "boom".
	last := pending[len(pending)-1]
	cmdText := last.Content
	for _, n := range append([]string{r.cfg.Agent.Name}, r.cfg.Agent.TriggerAlias...) {
		if n == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)^\s*@` + regexp.QuoteMeta(n) + `(\s+|$)`)
		if loc := re.FindStringIndex(cmdText); loc != nil {
			cmdText = cmdText[loc[1]:]
			break
		}
	}
	if cmd := MatchCommand(r.cfg.Commands, cmdText); cmd.Kind != CommandNone {
		return r.handleCommand(ctx, ws, cmd)
	}

	// 7. Dispatch.
	return r.dispatchPending(ctx, ws, pending)
}

// findChatOverride looks up a per-chat [connections.*.chat.<jid>] override for chatJID
// across every configured connection.
func (r *Router) findChatOverride(chatJID string) (config.ChatOverride, bool) {
	for _, conn := range r.cfg.Connections.Slack {
		if c, ok := conn.Chat[chatJID]; ok {
			return c, true
		}
	}
	for _, conn := range r.cfg.Connections.WhatsApp {
		if c, ok := conn.Chat[chatJID]; ok {
			return c, true
		}
	}
	return config.ChatOverride{}, false
}

func (r *Router) handleCommand(ctx context.Context, ws models.Workspace, cmd Command) error {
	switch cmd.Kind {
	case CommandReset:
		if err := r.sessions.Reset(ctx, ws.Folder); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := r.store.ClearChat(ctx, ws.JID, now); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := r.store.DeleteSession(ctx, ws.Folder); err != nil {
			return err
		}
		r.clearCursor(ws.Folder)
		return r.bus.Broadcast(ctx, ws.JID, "session reset", "host")

	case CommandEnd:
		if err := r.sessions.EndSession(ctx, ws.Folder); err != nil {
			return err
		}
		return r.bus.Broadcast(ctx, ws.JID, "session ended", "host")

	case CommandRedeploy:
		if r.redeploy == nil {
			return nil
		}
		if err := r.redeploy.TriggerRedeploy(ctx); err != nil {
			return err
		}
		return r.bus.Broadcast(ctx, ws.JID, "redeploy triggered", "host")

	case CommandApprove, CommandDeny:
		approved := cmd.Kind == CommandApprove
		if err := r.approvals.Resolve(ctx, ws.Folder, cmd.ShortID, approved); err != nil {
			return err
		}
		verb := "approved"
		if !approved {
			verb = "denied"
		}
		return r.bus.Broadcast(ctx, ws.JID, "request "+cmd.ShortID+" "+verb, "host")
	}
	return nil
}

// dispatchPending implements step 7's three cases: interrupt an active task, pipe into an
// active message container, or enqueue a cold start.
func (r *Router) dispatchPending(ctx context.Context, ws models.Workspace, pending []models.Message) error {
	last := pending[len(pending)-1]
	forwardOnly, isForward := forwardVariant(last.Content)

	if _, isTask := r.sessions.ActiveTaskID(ws.Folder); isTask {
		if isForward {
			return r.sessions.Pipe(ctx, ws.Folder, forwardOnly)
		}
		if err := r.sessions.Interrupt(ctx, ws.Folder); err != nil {
			return err
		}
		r.dispatch.Enqueue(DispatchItem{WorkspaceFolder: ws.Folder, ChatJID: ws.JID, Text: joinMessages(pending), EnqueuedAt: time.Now()})
		return nil
	}

	if r.sessions.HasActiveContainer(ws.Folder) {
		text := joinMessages(pending)
		if isForward {
			text = forwardOnly
		}
		if err := r.sessions.Pipe(ctx, ws.Folder, text); err != nil {
			return err
		}
		if !isForward {
			r.advanceDispatchedThrough(ws.Folder, last.Timestamp)
		}
		return r.bus.React(ctx, ws.JID, last.ID, "⏳")
	}

	r.dispatch.Enqueue(DispatchItem{WorkspaceFolder: ws.Folder, ChatJID: ws.JID, Text: joinMessages(pending), EnqueuedAt: time.Now()})
	return nil
}

// forwardVariant recognizes the "btw "/"todo " forward-only prefixes that append to an
// in-flight run without advancing the dispatched-through cursor.
func forwardVariant(text string) (string, bool) {
	for _, prefix := range []string{"btw ", "todo "} {
		if strings.HasPrefix(strings.ToLower(text), prefix) {
			return text[len(prefix):], true
		}
	}
	return text, false
}

func joinMessages(msgs []models.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

func (r *Router) advanceDispatchedThrough(folder string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.dispatchedThrough[folder]; !ok || ts.After(cur) {
		r.dispatchedThrough[folder] = ts
	}
}

func (r *Router) clearCursor(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dispatchedThrough, folder)
}

// AdvanceAgentCursor records that the agent has actually consumed messages up to ts for
// folder — called by the session manager after a query-done pulse, never at dispatch time.
func (r *Router) AdvanceAgentCursor(ctx context.Context, folder string, ts time.Time) error {
	state, err := r.store.GetRouterState(ctx)
	if err != nil {
		return err
	}
	if cur, ok := state.LastAgentTimestamp[folder]; ok && !ts.After(cur) {
		return nil // cursor monotonicity: never move it backwards
	}
	state.LastAgentTimestamp[folder] = ts
	if err := r.store.SaveRouterState(ctx, *state); err != nil {
		return err
	}
	r.clearCursor(folder)
	return nil
}
