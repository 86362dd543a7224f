package ospbot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// RouteReason describes why a message was forwarded or dropped
type RouteReason string

const (
	RouteForward            RouteReason = "forward"
	RouteMaintenanceOwner   RouteReason = "maintenance_owner"
	RouteMaintenanceDropped RouteReason = "maintenance_dropped"
	RouteNoPrefixOwner      RouteReason = "no_prefix_owner"
)

// RouteDecision is the outcome of routing a single message
type RouteDecision struct {
	// Forward is true when the message should be handed to the
	// command dispatcher
	Forward bool

	// Content is the message content the dispatcher should see
	Content string

	Reason RouteReason
}

func (r RouteDecision) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("forward", r.Forward),
		slog.String("reason", string(r.Reason)),
	)
}

// Dispatcher parses and runs commands from a routed message
type Dispatcher interface {
	Dispatch(ctx context.Context, m *discordgo.Message)
}

// Router decides whether each incoming message reaches the command
// dispatcher, based on maintenance and no-prefix mode.
type Router struct {
	state        *State
	owners       map[string]struct{}
	strictPrefix string
	logger       *slog.Logger
}

func NewRouter(state *State, ownerIDs []string, strictPrefix string, logger *slog.Logger) *Router {
	owners := make(map[string]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		state:        state,
		owners:       owners,
		strictPrefix: strictPrefix,
		logger:       logger,
	}
}

// IsOwner reports whether the given user ID is a bot owner
func (r *Router) IsOwner(userID string) bool {
	if userID == "" {
		return false
	}
	_, ok := r.owners[userID]
	return ok
}

// Route applies the routing policy to a message from authorID:
//
//   - in maintenance mode, only owner messages are forwarded, unmodified
//   - otherwise, with no-prefix mode on, owner messages lacking the strict
//     prefix are forwarded with the strict prefix prepended
//   - everything else is forwarded unmodified
func (r *Router) Route(authorID string, content string) RouteDecision {
	owner := r.IsOwner(authorID)

	if r.state.Maintenance() {
		if owner {
			return RouteDecision{Forward: true, Content: content, Reason: RouteMaintenanceOwner}
		}
		return RouteDecision{Forward: false, Content: content, Reason: RouteMaintenanceDropped}
	}

	if r.state.NoPrefix() && owner && !strings.HasPrefix(content, r.strictPrefix) {
		return RouteDecision{
			Forward: true,
			Content: r.strictPrefix + content,
			Reason:  RouteNoPrefixOwner,
		}
	}
	return RouteDecision{Forward: true, Content: content, Reason: RouteForward}
}

// RouteMessage routes m, calling dispatcher at most once. When the
// content is rewritten, the dispatcher receives a copy of the message.
func (r *Router) RouteMessage(
	ctx context.Context,
	m *discordgo.Message,
	dispatcher Dispatcher,
) RouteDecision {
	decision := r.Route(messageAuthorID(m), m.Content)
	if !decision.Forward {
		r.logger.DebugContext(
			ctx,
			"dropped message",
			"route", decision,
			slog.Group("message", messageLogAttrs(m)...),
		)
		return decision
	}

	forward := m
	if decision.Content != m.Content {
		msgCopy := *m
		msgCopy.Content = decision.Content
		forward = &msgCopy
	}
	dispatcher.Dispatch(ctx, forward)
	return decision
}
