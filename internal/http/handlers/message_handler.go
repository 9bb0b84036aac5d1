// Message HTTP handlers.
//
// Idempotency: when the client sends an Idempotency-Key and a result is stored
// for (user, route, key), PostMessage returns the original message with
// `Idempotency-Replayed: true` instead of sending it again.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a direct message. At
// least one of Content and Media must be present.
type SendMessageRequest struct {
	Recipient string                  `json:"recipient" example:"bob"`
	Content   *string                 `json:"content"   example:"hi"`
	Media     *domain.MediaDescriptor `json:"media"`
}

// SendMessageResponse wraps the persisted message.
type SendMessageResponse struct {
	Message domain.MessageView `json:"message"`
}

// ListMessagesResponse contains a page of a conversation.
type ListMessagesResponse struct {
	Messages   []domain.MessageView `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// ConversationResponse contains a whole conversation, oldest first.
type ConversationResponse struct {
	Messages []domain.MessageView `json:"messages"`
}

func views(msgs []domain.Message) []domain.MessageView {
	return lo.Map(msgs, func(m domain.Message, _ int) domain.MessageView { return m.View() })
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a direct message
// @Description Persists a message and pushes it to the sender and recipient if they are
// @Description connected. Supports idempotency via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                       false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SendMessageRequest  true   "Message"
// @Success     201  {object}  handlers.SendMessageResponse  "Created, or an idempotent replay (Idempotency-Replayed: true)"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid recipient, empty or too long message, bad media"
// @Failure     401  {object}  handlers.ErrorResponse  "Not authenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown recipient"
// @Failure     500  {object}  handlers.ErrorResponse  "Persistence failure"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	caller := userID(c)
	scope := middleware.IdempotencyScope(c)
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	useIdem := hasKey && h.idem != nil

	if useIdem {
		if id, status, found, err := h.idem.Lookup(ctx, caller, scope, idemKey); err == nil && found {
			if prev, err := h.msgs.Get(ctx, caller, id); err == nil {
				if status == 0 {
					status = http.StatusOK
				}
				c.Header("Idempotency-Replayed", "true")
				ok(c, status, SendMessageResponse{Message: prev.View()})
				return
			}
		}
	}

	m, err := h.msgs.Send(ctx, caller, req.Recipient, req.Content, req.Media)
	if err != nil {
		failErr(c, err)
		return
	}

	if useIdem {
		if err := h.idem.Save(ctx, caller, scope, idemKey, m.ID, http.StatusCreated); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Uint64("message_id", m.ID).Msg("store idempotency key")
		}
	}

	ok(c, http.StatusCreated, SendMessageResponse{Message: m.View()})
}

// History godoc
// @ID          history
// @Summary     Conversation history between two users
// @Description Returns a page of messages exchanged between userA and userB, oldest first.
// @Description The caller must be one of the two users. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       userA      path   string  true   "First participant"
// @Param       userB      path   string  true   "Second participant"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(200) default(50)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Caller is not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown user"
// @Router      /history/{userA}/{userB} [get]
func (h *Handlers) History(c *gin.Context) {
	ctx := c.Request.Context()
	caller := userID(c)
	a, b := c.Param("userA"), c.Param("userB")

	count, lastID, err := h.msgs.Stats(ctx, caller, a, b)
	if err != nil {
		failErr(c, err)
		return
	}
	etag := fmt.Sprintf(`W/"history:%s:%s:%d:%d"`, a, b, count, lastID)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.msgs.History(ctx, caller, a, b, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   views(items),
		Pagination: newPagination(page, pageSize, total),
	})
}

// Conversation godoc
// @ID          conversation
// @Summary     Messages exchanged with a peer
// @Description Returns every message between the caller and peer, oldest first.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       peer  path  string  true  "Other participant"
// @Success     200  {object}  handlers.ConversationResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown peer"
// @Router      /messages/{peer} [get]
func (h *Handlers) Conversation(c *gin.Context) {
	items, err := h.msgs.Conversation(c.Request.Context(), userID(c), c.Param("peer"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Messages: views(items)})
}
