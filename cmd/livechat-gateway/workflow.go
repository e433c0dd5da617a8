// ABOUTME: Offline conversation workflow commands: visitor sessions, open, reassign, resolve
// ABOUTME: Also previews which agent the matcher would pick for a tenant and skill set

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/livechat-gateway/internal/agent"
	"github.com/2389/livechat-gateway/internal/auth"
	"github.com/2389/livechat-gateway/internal/conversation"
	"github.com/2389/livechat-gateway/internal/store"
)

const conversationUsage = "usage: livechat-gateway conversation open VISITOR_ID [--title T] [--skills a,b] | reassign ID | resolve ID"

func splitSkills(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// runVisitor creates a visitor identity and prints its token.
func runVisitor(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "new" {
		return errors.New("usage: livechat-gateway visitor new [--tenant T] [--name NAME] [--email EMAIL]")
	}
	f, err := parseFlags(args[1:], []string{"tenant", "name", "email"}, nil)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	resolver := auth.NewResolver(verifier, s, cfg.Auth.VisitorTokenTTL, nil)
	return visitorNew(ctx, resolver, f, os.Stdout)
}

func visitorNew(ctx context.Context, resolver *auth.Resolver, f flags, w io.Writer) error {
	session, err := resolver.CreateVisitorSession(ctx,
		f.get("tenant", defaultTenant),
		f.get("name", "Visitor"),
		f.get("email", ""))
	if err != nil {
		return fmt.Errorf("creating visitor: %w", err)
	}
	fmt.Fprintf(w, "  ID:    %s\n", session.Identity.ID)
	fmt.Fprintf(w, "  Token: %s\n", session.Token)
	return nil
}

// runConversation drives the workflow service directly against the database.
// Live clients are not notified; the running gateway sees the new state on
// their next join.
func runConversation(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New(conversationUsage)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return conversationCommand(ctx, s, conversation.NewService(s, conversation.Options{}), args, os.Stdout)
}

func conversationCommand(ctx context.Context, s store.Store, svc *conversation.Service, args []string, w io.Writer) error {
	if len(args) < 2 {
		return errors.New(conversationUsage)
	}

	var (
		conv *store.Conversation
		err  error
	)
	switch args[0] {
	case "open":
		f, ferr := parseFlags(args[2:], []string{"title", "skills"}, nil)
		if ferr != nil {
			return ferr
		}
		visitor, gerr := s.GetIdentity(ctx, args[1])
		if gerr != nil {
			return fmt.Errorf("looking up visitor: %w", gerr)
		}
		conv, err = svc.Create(ctx, conversation.CreateRequest{
			TenantID:       visitor.TenantID,
			UserID:         visitor.ID,
			Title:          f.get("title", ""),
			RequiredSkills: splitSkills(f.get("skills", "")),
		})
	case "reassign":
		conv, err = svc.Reassign(ctx, args[1])
	case "resolve":
		conv, err = svc.Resolve(ctx, args[1])
	default:
		return fmt.Errorf("unknown conversation command: %s", args[0])
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s  %s", conv.ID, conv.Status)
	if conv.AgentID != "" {
		fmt.Fprintf(w, "  agent=%s", conv.AgentID)
	}
	fmt.Fprintln(w)
	return nil
}

// agentPreview prints the agent a new conversation would be routed to now.
func agentPreview(ctx context.Context, pool *agent.Pool, args []string, w io.Writer) error {
	f, err := parseFlags(args, []string{"tenant", "skills"}, nil)
	if err != nil {
		return err
	}

	skills := agent.NormalizeSkills(splitSkills(f.get("skills", "")))
	selected, ok, err := pool.Preview(ctx, f.get("tenant", defaultTenant), skills)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, color.HiBlackString("  No agent available"))
		return nil
	}
	fmt.Fprintf(w, "  %s (%s) load %d/%d\n",
		selected.DisplayName, selected.ID, selected.CurrentWorkload, selected.MaxWorkload)
	return nil
}
