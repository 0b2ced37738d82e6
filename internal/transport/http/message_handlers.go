package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/proto"
	"github.com/tg11/boundless/internal/store"
)

// MessageHandlers serves the message REST endpoints. Mutations go through the
// hub so connected sessions see them.
type MessageHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(hub *core.Hub, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{hub: hub, log: logger}
}

// EditMessageRequest represents the edit request body.
type EditMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// MessagesResponse is a page of channel messages.
type MessagesResponse struct {
	Messages []proto.Message `json:"messages"`
}

// EditResponse is one entry of a message's edit history.
type EditResponse struct {
	ID       int64  `json:"id"`
	EditorID int64  `json:"editor_id"`
	OldBody  string `json:"old_message"`
	EditedTS int64  `json:"edited_ts"`
}

// HistoryResponse lists a message's edits, most recent first.
type HistoryResponse struct {
	MessageID int64          `json:"message_id"`
	Edits     []EditResponse `json:"edits"`
}

// ListChannel returns channel messages oldest first.
// GET /api/channels/:channel_id/messages?after_ts=&after_id=&limit=
func (h *MessageHandlers) ListChannel(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	resume, err := parseResume(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
	}

	ctx := c.Request.Context()
	channelID := c.Param("channel_id")
	after, err := resume.cursor(ctx, h.hub, actor, channelID)
	if err != nil {
		h.fail(c, err)
		return
	}

	messages, err := h.hub.ListChannel(ctx, actor, channelID, after, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := MessagesResponse{Messages: make([]proto.Message, 0, len(messages))}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, protoMessage(m))
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessage returns one message, including soft-deleted ones.
// GET /api/messages/:message_id
func (h *MessageHandlers) GetMessage(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	msg, err := h.hub.GetMessage(c.Request.Context(), actor, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, protoMessage(*msg))
}

// History returns the edit history of a message.
// GET /api/messages/:message_id/history
func (h *MessageHandlers) History(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	edits, err := h.hub.MessageHistory(c.Request.Context(), actor, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse(id, edits))
}

// EditMessage replaces a message body and broadcasts the change.
// PATCH /api/messages/:message_id
func (h *MessageHandlers) EditMessage(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid edit request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.hub.Edit(c.Request.Context(), actor, "", id, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, protoMessage(*msg))
}

// DeleteMessage soft-deletes a message and broadcasts the change.
// DELETE /api/messages/:message_id
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}

	msg, err := h.hub.Delete(c.Request.Context(), actor, "", id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, protoMessage(*msg))
}

func (h *MessageHandlers) actor(c *gin.Context) (core.Identity, bool) {
	actor, ok := identityFrom(c)
	if !ok {
		h.log.Error().Msg("identity not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	return actor, ok
}

func (h *MessageHandlers) actorAndID(c *gin.Context) (core.Identity, int64, bool) {
	actor, ok := h.actor(c)
	if !ok {
		return actor, 0, false
	}
	id, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
		return actor, 0, false
	}
	return actor, id, true
}

func (h *MessageHandlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("message request failed")
	}
	c.JSON(status, ErrorResponse{Error: core.ToCoreError(err).Message})
}

func historyResponse(messageID int64, edits []store.MessageEdit) HistoryResponse {
	resp := HistoryResponse{MessageID: messageID, Edits: make([]EditResponse, 0, len(edits))}
	for _, e := range edits {
		resp.Edits = append(resp.Edits, EditResponse{
			ID:       e.ID,
			EditorID: e.EditorID,
			OldBody:  e.OldBody,
			EditedTS: e.EditedAt.UnixMilli(),
		})
	}
	return resp
}
