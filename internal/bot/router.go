// Package bot routes inbound chat events: it moderates links, gates
// unregistered senders, resolves commands and enforces their access level
// before running them.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/commands"
	"github.com/memohai/warden/internal/identity"
)

// DefaultLinkPattern matches http and https URLs anywhere in a message.
const DefaultLinkPattern = `(?i)https?://\S+`

// Outcome is the terminal state of one inbound event.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"
	OutcomeModerated     Outcome = "moderated"
	OutcomeNotRegistered Outcome = "not_registered"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeDenied        Outcome = "denied"
	OutcomeDispatched    Outcome = "dispatched"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeHandlerError  Outcome = "handler_error"
	OutcomeGreeted       Outcome = "greeted"
)

// Router is the inbound event state machine. It implements channel.Processor.
type Router struct {
	services *Services
	links    *regexp.Regexp
	logger   *slog.Logger
}

// NewRouter builds a Router. An empty linkPattern uses DefaultLinkPattern.
func NewRouter(log *slog.Logger, services *Services, linkPattern string) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	if services == nil || services.Policy == nil || services.Identity == nil || services.Prefix == nil || services.Messages == nil || services.Commands == nil {
		return nil, errors.New("router services are incomplete")
	}
	if strings.TrimSpace(linkPattern) == "" {
		linkPattern = DefaultLinkPattern
	}
	links, err := regexp.Compile(linkPattern)
	if err != nil {
		return nil, fmt.Errorf("compile link pattern: %w", err)
	}
	return &Router{
		services: services,
		links:    links,
		logger:   log.With(slog.String("component", "router")),
	}, nil
}

// Services returns the dependencies shared with handlers.
func (r *Router) Services() *Services {
	return r.services
}

// HandleInbound processes one envelope to completion.
func (r *Router) HandleInbound(ctx context.Context, transport channel.Transport, env channel.Envelope) {
	log := r.logger.With(slog.String("event_id", env.ID), slog.String("channel", env.Channel.String()))
	outcome := r.handle(ctx, log, transport, env.ID, env.Event)
	log.Debug("event handled", slog.String("kind", string(kindOf(env.Event))), slog.String("outcome", string(outcome)))
}

// HandleEvent processes one event without envelope metadata and reports how
// it terminated.
func (r *Router) HandleEvent(ctx context.Context, transport channel.Transport, event channel.InboundEvent) Outcome {
	return r.handle(ctx, r.logger, transport, "", event)
}

func (r *Router) handle(ctx context.Context, log *slog.Logger, transport channel.Transport, eventID string, event channel.InboundEvent) Outcome {
	switch ev := event.(type) {
	case channel.TextMessage:
		return r.handleText(ctx, log, transport, eventID, ev)
	case channel.MembershipChange:
		return r.handleMembership(ctx, log, transport, ev)
	case channel.ButtonTap:
		return r.handleButton(ctx, log, transport, eventID, ev)
	default:
		log.Warn("unknown inbound event dropped", slog.String("type", fmt.Sprintf("%T", event)))
		return OutcomeIgnored
	}
}

// incoming is the part of a text or button event the command path needs.
type incoming struct {
	eventID     string
	chatID      string
	sender      string
	displayName string
	quoted      *channel.QuotedMessage
}

func (r *Router) handleText(ctx context.Context, log *slog.Logger, transport channel.Transport, eventID string, msg channel.TextMessage) Outcome {
	prefix := r.services.Prefix.Get()
	if !strings.HasPrefix(msg.Text, prefix) {
		return r.moderate(ctx, log, transport, msg)
	}
	in := incoming{
		eventID:     eventID,
		chatID:      msg.ChatID,
		sender:      msg.Sender,
		displayName: msg.SenderName,
		quoted:      msg.Quoted,
	}
	return r.dispatch(ctx, log, transport, in, strings.TrimPrefix(msg.Text, prefix))
}

// handleButton turns a tap into command text and enters the command path
// directly. Ids without the prefix are taken whole as the command name.
func (r *Router) handleButton(ctx context.Context, log *slog.Logger, transport channel.Transport, eventID string, tap channel.ButtonTap) Outcome {
	in := incoming{
		eventID:     eventID,
		chatID:      tap.ChatID,
		sender:      tap.Sender,
		displayName: tap.SenderName,
	}
	body := strings.TrimPrefix(tap.SelectedID, r.services.Prefix.Get())
	return r.dispatch(ctx, log, transport, in, body)
}

func (r *Router) moderate(ctx context.Context, log *slog.Logger, transport channel.Transport, msg channel.TextMessage) Outcome {
	if !identity.IsGroupChat(msg.ChatID) {
		return OutcomeIgnored
	}
	if !r.services.Policy.GroupSettings(msg.ChatID).AntilinkEnabled() || !r.links.MatchString(msg.Text) {
		return OutcomeIgnored
	}
	if r.services.Identity.IsGroupAdmin(ctx, msg.ChatID, msg.Sender, rosterFunc(transport)) {
		return OutcomeIgnored
	}

	data := r.baseData(msg.Sender, msg.SenderName, "")
	warning := r.services.Messages.Text("antilink_warning", data)
	if _, err := transport.SendText(ctx, msg.ChatID, warning, []string{msg.Sender}, nil); err != nil {
		log.Warn("antilink warning failed", slog.String("chat", msg.ChatID), slog.Any("error", transportErr("send_text", err)))
	}
	if err := transport.SetGroupMembership(ctx, msg.ChatID, msg.Sender, channel.MembershipRemove); err != nil {
		log.Warn("antilink removal failed", slog.String("chat", msg.ChatID), slog.String("sender", msg.Sender), slog.Any("error", transportErr("set_group_membership", err)))
	}
	log.Info("link removed", slog.String("chat", msg.ChatID), slog.String("sender", identity.Canonicalize(msg.Sender)))
	return OutcomeModerated
}

func (r *Router) dispatch(ctx context.Context, log *slog.Logger, transport channel.Transport, in incoming, body string) Outcome {
	name, args, argText := splitCommand(body)
	sender := identity.Canonicalize(in.sender)
	isGroup := identity.IsGroupChat(in.chatID)
	isOwner := r.services.Identity.IsOwner(sender)
	registered := r.services.Policy.IsRegistered(sender)
	registry := r.services.Commands

	if !registered && !isOwner && !registry.AllowedWithoutRegistration(name) {
		r.reject(ctx, log, transport, in, name, &NotRegisteredError{Command: name})
		return OutcomeNotRegistered
	}

	spec, ok := registry.Resolve(name)
	if !ok {
		r.reject(ctx, log, transport, in, name, &NotFoundError{Command: name})
		return OutcomeNotFound
	}

	if denied := r.authorize(ctx, transport, spec, in.chatID, sender, isGroup, isOwner, registered); denied != nil {
		r.reject(ctx, log, transport, in, spec.Name, denied)
		return OutcomeDenied
	}

	c := &Context{
		Services:      r.services,
		Transport:     transport,
		Logger:        log.With(slog.String("command", spec.Name)),
		EventID:       in.eventID,
		ChatID:        in.chatID,
		IsGroup:       isGroup,
		SenderAddress: in.sender,
		Sender:        sender,
		DisplayName:   displayName(in.displayName, sender),
		Command:       spec.Name,
		Args:          args,
		ArgText:       argText,
		Quoted:        in.quoted,
		Spec:          spec,
	}
	if err := r.invoke(ctx, c); err != nil {
		r.reject(ctx, log, transport, in, spec.Name, err)
		var verr *ValidationError
		if errors.As(err, &verr) {
			return OutcomeInvalid
		}
		return OutcomeHandlerError
	}
	return OutcomeDispatched
}

func (r *Router) authorize(ctx context.Context, transport channel.Transport, spec *Spec, chatID, sender string, isGroup, isOwner, registered bool) error {
	switch spec.Access {
	case commands.AccessRegistered:
		if !registered && !isOwner {
			return &NotRegisteredError{Command: spec.Name}
		}
	case commands.AccessGroupAdmin:
		if !isGroup {
			return &AuthorizationError{Required: spec.Access, GroupOnly: true}
		}
		if !r.services.Identity.IsGroupAdmin(ctx, chatID, sender, rosterFunc(transport)) {
			return &AuthorizationError{Required: spec.Access}
		}
	case commands.AccessOwner:
		if !isOwner {
			return &AuthorizationError{Required: spec.Access}
		}
	}
	return nil
}

// invoke runs the handler and converts a panic into an error.
func (r *Router) invoke(ctx context.Context, c *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.Logger.Error("handler panicked", slog.Any("panic", rec))
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()
	return c.Spec.Handler(ctx, c)
}

// reject sends exactly one message explaining why the command did not run.
func (r *Router) reject(ctx context.Context, log *slog.Logger, transport channel.Transport, in incoming, command string, cause error) {
	sender := identity.Canonicalize(in.sender)
	data := r.baseData(in.sender, displayName(in.displayName, sender), command)
	catalog := r.services.Messages
	prefix := r.services.Prefix.Get()

	var (
		sendErr   error
		verr      *ValidationError
		aerr      *AuthorizationError
		nrErr     *NotRegisteredError
		nfErr     *NotFoundError
		logAsWarn = false
	)
	switch {
	case errors.As(cause, &nrErr):
		_, sendErr = transport.SendInteractive(ctx, in.chatID, channel.Interactive{
			Text:   catalog.Text("not_registered", data),
			Footer: catalog.Text("footer", data),
			Buttons: []channel.Button{
				commandButton(catalog, prefix, "button_register", "register"),
				commandButton(catalog, prefix, "button_rules", "rules"),
			},
		})
	case errors.As(cause, &nfErr):
		_, sendErr = transport.SendInteractive(ctx, in.chatID, channel.Interactive{
			Text:   catalog.Text("not_found", data),
			Footer: catalog.Text("footer", data),
			Buttons: []channel.Button{
				commandButton(catalog, prefix, "button_menu", "menu"),
				commandButton(catalog, prefix, "button_allmenu", "allmenu"),
			},
		})
	case errors.As(cause, &aerr):
		key := "access_owner"
		if aerr.GroupOnly {
			key = "access_group_only"
		} else if aerr.Required == commands.AccessGroupAdmin {
			key = "access_group_admin"
		}
		_, sendErr = transport.SendText(ctx, in.chatID, catalog.Text(key, data), nil, nil)
	case errors.As(cause, &verr):
		data["Usage"] = verr.Usage
		_, sendErr = transport.SendText(ctx, in.chatID, catalog.Text("usage", data), nil, nil)
	default:
		logAsWarn = true
		data["Error"] = cause.Error()
		_, sendErr = transport.SendText(ctx, in.chatID, catalog.Text("handler_error", data), nil, nil)
	}

	if logAsWarn {
		log.Warn("command failed", slog.String("command", command), slog.String("chat", in.chatID), slog.Any("error", cause))
	} else {
		log.Debug("command rejected", slog.String("command", command), slog.String("reason", cause.Error()))
	}
	if sendErr != nil {
		log.Warn("rejection reply failed", slog.String("chat", in.chatID), slog.Any("error", transportErr("send", sendErr)))
	}
}

func (r *Router) handleMembership(ctx context.Context, log *slog.Logger, transport channel.Transport, change channel.MembershipChange) Outcome {
	settings := r.services.Policy.GroupSettings(change.ChatID)
	catalog := r.services.Messages
	prefix := r.services.Prefix.Get()

	switch change.Action {
	case channel.MembershipAdd:
		if !settings.WelcomeEnabled() {
			return OutcomeIgnored
		}
	case channel.MembershipRemove:
		if !settings.GoodbyeEnabled() {
			return OutcomeIgnored
		}
	default:
		log.Warn("unknown membership action", slog.String("action", string(change.Action)))
		return OutcomeIgnored
	}

	for _, participant := range change.Participants {
		data := r.baseData(participant, "", "")
		var err error
		if change.Action == channel.MembershipAdd {
			_, err = transport.SendInteractive(ctx, change.ChatID, channel.Interactive{
				Text:     catalog.Text("welcome", data),
				Footer:   catalog.Text("footer", data),
				Mentions: []string{participant},
				Buttons: []channel.Button{
					commandButton(catalog, prefix, "button_register", "register"),
					commandButton(catalog, prefix, "button_menu", "menu"),
					commandButton(catalog, prefix, "button_rules", "rules"),
				},
			})
		} else {
			_, err = transport.SendText(ctx, change.ChatID, catalog.Text("goodbye", data), []string{participant}, nil)
		}
		if err != nil {
			log.Warn("greeting failed",
				slog.String("chat", change.ChatID),
				slog.String("participant", participant),
				slog.String("action", string(change.Action)),
				slog.Any("error", transportErr("send", err)),
			)
		}
	}
	return OutcomeGreeted
}

func (r *Router) baseData(address, name, command string) map[string]any {
	handle := identity.Canonicalize(address)
	return map[string]any{
		"BotName": r.services.Settings.BotName,
		"Version": r.services.Settings.Version,
		"Prefix":  r.services.Prefix.Get(),
		"Name":    displayName(name, handle),
		"Handle":  handle,
		"Command": command,
	}
}

func displayName(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}

func kindOf(event channel.InboundEvent) channel.EventKind {
	if event == nil {
		return ""
	}
	return event.Kind()
}
