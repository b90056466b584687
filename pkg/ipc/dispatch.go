package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// TaskEnvelope is the generic shape every tasks/ file carries: a "type" discriminator plus an
// arbitrary payload, re-decoded by the matched Handler.
type TaskEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// tier1Signals lists the signal-only task types — admin-workspace-only, no payload beyond type.
var tier1Signals = map[string]bool{
	"refresh_groups": true,
}

// Handler processes one tasks/ file's payload for a matched task type. folder is the
// originating workspace; isAdmin reports whether that workspace is the admin workspace.
type Handler func(ctx context.Context, folder string, isAdmin bool, raw json.RawMessage) error

// Dispatcher routes tasks/ and approval_decisions/ files to registered handlers by a
// prefix-keyed registry (spec.md §4.5: tier 1 signal-only, tier 2 data-carrying).
type Dispatcher struct {
	root        *Root
	isAdmin     func(folder string) bool
	handlers    map[string]Handler // exact type match
	prefixes    map[string]Handler // "service:" style prefix match, e.g. "service:"
}

// NewDispatcher builds a Dispatcher. isAdmin reports whether a folder is the admin workspace,
// used to enforce tier-1's admin-only restriction.
func NewDispatcher(root *Root, isAdmin func(folder string) bool) *Dispatcher {
	return &Dispatcher{
		root:     root,
		isAdmin:  isAdmin,
		handlers: make(map[string]Handler),
		prefixes: make(map[string]Handler),
	}
}

// Register binds an exact task type (e.g. "sync_worktree_to_main", "refresh_groups") to h.
func (d *Dispatcher) Register(taskType string, h Handler) {
	d.handlers[taskType] = h
}

// RegisterPrefix binds every task type starting with prefix (e.g. "service:", "ask_user:") to h.
func (d *Dispatcher) RegisterPrefix(prefix string, h Handler) {
	d.prefixes[prefix] = h
}

// Run drains events from w, dispatching each tasks/ or approval_decisions/ file to its handler
// and removing it from disk per the read-then-unlink rule. Unmatched or quarantined files are
// logged and skipped. Blocks until ctx is cancelled or the events channel closes.
func (d *Dispatcher) Run(ctx context.Context, w *Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if ev.Dir != DirTasks && ev.Dir != DirApprovalDecisions {
				continue
			}
			if err := d.dispatchOne(ctx, ev); err != nil {
				slog.Error("ipc task dispatch failed", "folder", ev.Folder, "path", ev.Path, "error", err)
			}
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev Event) error {
	var envelope struct {
		Type string `json:"type"`
	}
	raw, err := d.peekAndConsume(ev.Folder, ev.Path, &envelope)
	if err != nil {
		return err
	}

	isAdmin := d.isAdmin(ev.Folder)

	if tier1Signals[envelope.Type] {
		if !isAdmin {
			return fmt.Errorf("tier-1 signal %q from non-admin workspace %q rejected", envelope.Type, ev.Folder)
		}
		if h, ok := d.handlers[envelope.Type]; ok {
			return h(ctx, ev.Folder, isAdmin, raw)
		}
		return fmt.Errorf("no handler registered for signal %q", envelope.Type)
	}

	if h, ok := d.handlers[envelope.Type]; ok {
		return h(ctx, ev.Folder, isAdmin, raw)
	}
	for prefix, h := range d.prefixes {
		if strings.HasPrefix(envelope.Type, prefix) {
			return h(ctx, ev.Folder, isAdmin, raw)
		}
	}
	return fmt.Errorf("no handler registered for task type %q", envelope.Type)
}

// peekAndConsume reads path fully (for both the type envelope and the raw payload), then
// removes it, per the atomicity rule's read-then-unlink requirement.
func (d *Dispatcher) peekAndConsume(folder, path string, envelope any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := d.root.ReadAndRemove(folder, path, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, envelope); err != nil {
		return nil, fmt.Errorf("ipc: decode envelope: %w", err)
	}
	return raw, nil
}
