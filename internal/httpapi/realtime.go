package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"

	"qms/campus-queue/internal/hub"
	"qms/campus-queue/internal/models"
)

// RealtimeLookup resolves the targets a client asks to subscribe to.
type RealtimeLookup interface {
	GetDepartment(ctx context.Context, id string) (models.Department, error)
	GetTicket(ctx context.Context, id string) (models.QueueTicket, error)
}

type RealtimeOptions struct {
	Metrics *Metrics
	Logger  *zap.Logger
}

// NewRealtimeHandler serves SockJS connections under /realtime. Staff may
// watch their department's queue; a student may watch a ticket by naming
// its student_id.
func NewRealtimeHandler(h *hub.Hub, auth Authenticator, lookup RealtimeLookup, opts RealtimeOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		var caller *models.Session
		if token := realtimeToken(req); token != "" {
			authSession, err := auth.Authenticate(req.Context(), token)
			if err != nil {
				_ = session.Close(4002, "invalid session")
				return
			}
			caller = &authSession
		}

		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		opts.Metrics.RealtimeClients(1)
		defer func() {
			h.Unregister(client)
			opts.Metrics.RealtimeClients(-1)
		}()

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			sub, code, reason := authorizeSubscription(context.Background(), lookup, caller, parsed)
			if code != 0 {
				logger.Info("realtime subscription refused",
					zap.String("client_id", client.ID),
					zap.String("department_id", parsed.DepartmentID),
					zap.String("ticket_id", parsed.TicketID),
					zap.String("reason", reason),
				)
				_ = session.Close(code, reason)
				return
			}
			h.UpdateSubscription(client, sub)
		}
	})
}

func authorizeSubscription(ctx context.Context, lookup RealtimeLookup, caller *models.Session, msg hub.SubscribeMessage) (hub.Subscription, uint32, string) {
	if msg.TicketID != "" {
		ticket, err := lookup.GetTicket(ctx, msg.TicketID)
		if err != nil {
			return hub.Subscription{}, 4004, "ticket not found"
		}
		staffAllowed := caller != nil && canServe(*caller, ticket.DepartmentName)
		if !staffAllowed && (msg.StudentID == "" || msg.StudentID != ticket.StudentID) {
			return hub.Subscription{}, 4003, "access denied"
		}
		return hub.Subscription{TicketID: ticket.ID}, 0, ""
	}

	if caller == nil {
		return hub.Subscription{}, 4001, "missing session"
	}
	dept, err := lookup.GetDepartment(ctx, msg.DepartmentID)
	if err != nil {
		return hub.Subscription{}, 4004, "department not found"
	}
	if !canServe(*caller, dept.Name) {
		return hub.Subscription{}, 4003, "access denied"
	}
	return hub.Subscription{DepartmentID: dept.ID}, 0, ""
}

// realtimeToken also accepts ?token= since browsers cannot set headers on
// websocket upgrades.
func realtimeToken(r *http.Request) string {
	if token := sessionTokenFromRequest(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
