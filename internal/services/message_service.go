// Package services – MessageService
//
// MessageService is the delivery router. Send validates a direct message,
// persists it in a single transaction, and then pushes it to whichever of the
// two participants currently hold a live connection. Persistence is the
// commit point: once the row exists, push failures are logged and counted but
// never reported to the caller, and the message stays available through
// History.
//
// Both transports (HTTP and the websocket gateway) call Send; there is no
// second write path.
//
// Observability: public methods are OpenTelemetry-instrumented; push outcomes
// are exported as Prometheus counters.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/event"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

const lockStripes = 64

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConnLocator finds the live connection of a user.
type ConnLocator interface {
	Lookup(username string) (presence.Conn, bool)
}

// MessageService persists and routes direct messages.
type MessageService struct {
	DB       *gorm.DB
	Presence ConnLocator

	// MaxContentRunes caps text content; <= 0 disables the check.
	MaxContentRunes int

	stripes [lockStripes]sync.Mutex
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *gorm.DB, reg ConnLocator, maxContentRunes int) *MessageService {
	return &MessageService{
		DB:              db,
		Presence:        reg,
		MaxContentRunes: maxContentRunes,
	}
}

// stripe returns the lock guarding the unordered pair {a, b}.
func (s *MessageService) stripe(a, b string) *sync.Mutex {
	if b < a {
		a, b = b, a
	}
	h := xxhash.New()
	_, _ = h.WriteString(a)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(b)
	return &s.stripes[h.Sum64()%lockStripes]
}

// Send validates, persists, and pushes a message from sender to recipient.
//
// Validation (in order): sender present, recipient non-empty and different
// from sender, content within limit, media well-formed, at least one of
// content or media. None of these touch the store. The persisted message is
// returned even if every push fails.
func (s *MessageService) Send(ctx context.Context, sender, recipient string, content *string, md *domain.MediaDescriptor) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("sender", sender),
			attribute.String("recipient", recipient),
		),
	)
	defer span.End()

	sender, _ = canonicalUsername(sender)
	recipient, ok := canonicalUsername(recipient)
	if sender == "" {
		return nil, ErrNotAuthenticated
	}
	if recipient == "" || recipient == sender || !ok {
		return nil, ErrInvalidRecipient
	}

	if content != nil {
		trimmed := strings.TrimSpace(*content)
		if trimmed == "" {
			content = nil
		} else {
			content = &trimmed
		}
	}
	if content != nil && s.MaxContentRunes > 0 && utf8.RuneCountInString(*content) > s.MaxContentRunes {
		return nil, ErrTooLong
	}
	if md != nil {
		if err := validate.Struct(md); err != nil {
			return nil, ErrInvalidMedia
		}
	}
	if content == nil && md == nil {
		return nil, ErrEmptyMessage
	}

	// Past validation the message must land even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	mu := s.stripe(sender, recipient)
	mu.Lock()
	defer mu.Unlock()

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from, err := repo.GetUserByUsername(ctx, tx, sender)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNotAuthenticated
		}
		if err != nil {
			return err
		}
		to, err := repo.GetUserByUsername(ctx, tx, recipient)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnknownRecipient
		}
		if err != nil {
			return err
		}
		msg, err = repo.CreateMessage(ctx, tx, from, to, content, md)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrUnknownRecipient) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	messagesSent.Inc()
	span.SetAttributes(attribute.Int64("message.id", int64(msg.ID)))

	ev := event.NewMessage(msg.View())
	delivered := 0
	for _, u := range [2]string{sender, recipient} {
		if s.push(u, ev) {
			delivered++
		}
	}
	span.SetAttributes(attribute.Int("pushes.delivered", delivered))

	return msg, nil
}

// push enqueues ev on username's live connection, if any, and reports
// whether it was accepted.
func (s *MessageService) push(username string, ev event.Event) bool {
	if s.Presence == nil {
		return false
	}
	c, ok := s.Presence.Lookup(username)
	if !ok {
		return false
	}
	err := c.Send(ev)
	switch {
	case err == nil:
		pushes.WithLabelValues(pushDelivered).Inc()
		return true
	case errors.Is(err, presence.ErrSlowConsumer):
		pushes.WithLabelValues(pushSlow).Inc()
	case errors.Is(err, presence.ErrClosed):
		pushes.WithLabelValues(pushClosed).Inc()
	default:
		pushes.WithLabelValues(pushError).Inc()
	}
	log.Debug().
		Err(fmt.Errorf("%w: %v", ErrDeliveryFailed, err)).
		Str("user", username).
		Str("conn_id", c.ID()).
		Msg("push skipped")
	return false
}

// resolvePair checks that caller is one of a and b and loads both users.
func (s *MessageService) resolvePair(ctx context.Context, caller, a, b string) (*domain.User, *domain.User, error) {
	caller, _ = canonicalUsername(caller)
	a, _ = canonicalUsername(a)
	b, _ = canonicalUsername(b)
	if caller == "" {
		return nil, nil, ErrNotAuthenticated
	}
	if caller != a && caller != b {
		return nil, nil, ErrNotParticipant
	}

	ua, err := repo.GetUserByUsername(ctx, s.DB, a)
	if err != nil {
		return nil, nil, s.lookupErr(err, a == caller)
	}
	ub, err := repo.GetUserByUsername(ctx, s.DB, b)
	if err != nil {
		return nil, nil, s.lookupErr(err, b == caller)
	}
	return ua, ub, nil
}

func (s *MessageService) lookupErr(err error, isCaller bool) error {
	if errors.Is(err, repo.ErrNotFound) {
		if isCaller {
			return ErrNotAuthenticated
		}
		return ErrUnknownRecipient
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// History returns one page of the conversation between userA and userB,
// oldest first, plus the total number of messages. caller must be one of the
// two participants.
func (s *MessageService) History(ctx context.Context, caller, userA, userB string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("user.a", userA),
			attribute.String("user.b", userB),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	ua, ub, err := s.resolvePair(ctx, caller, userA, userB)
	if err != nil {
		return nil, 0, err
	}

	page, pageSize = utils.ClampPage(page, pageSize)
	offset := utils.Offset(page, pageSize)

	total, err := repo.CountConversation(ctx, s.DB, ua.ID, ub.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListConversationPage(ctx, s.DB, ua.ID, ub.ID, offset, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return items, total, nil
}

// Conversation returns every message between caller and peer, oldest first.
func (s *MessageService) Conversation(ctx context.Context, caller, peer string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Conversation",
		trace.WithAttributes(attribute.String("peer", peer)),
	)
	defer span.End()

	ua, ub, err := s.resolvePair(ctx, caller, caller, peer)
	if err != nil {
		return nil, err
	}
	items, err := repo.ListConversation(ctx, s.DB, ua.ID, ub.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return items, nil
}

// Stats returns the message count and latest message id for the conversation
// between userA and userB, for cache validators.
func (s *MessageService) Stats(ctx context.Context, caller, userA, userB string) (int64, uint64, error) {
	ua, ub, err := s.resolvePair(ctx, caller, userA, userB)
	if err != nil {
		return 0, 0, err
	}
	n, last, err := repo.ConversationStats(ctx, s.DB, ua.ID, ub.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, last, nil
}

// Get returns message id if caller took part in it.
func (s *MessageService) Get(ctx context.Context, caller string, id uint64) (*domain.Message, error) {
	caller, _ = canonicalUsername(caller)
	m, err := repo.GetMessage(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if m.Sender.Username != caller && m.Recipient.Username != caller {
		return nil, ErrMessageNotFound
	}
	return m, nil
}
