package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"rentmail/models"
	"rentmail/relay"
	"rentmail/storage"
	"rentmail/utils"
)

// ChatHandler handles the live chat endpoints
type ChatHandler struct {
	store    storage.MailStore
	relay    *relay.Relay
	operator models.Party
}

// NewChatHandler creates a new chat handler
func NewChatHandler(store storage.MailStore, r *relay.Relay, operator models.Party) *ChatHandler {
	return &ChatHandler{
		store:    store,
		relay:    r,
		operator: operator,
	}
}

// NewThreadRequest opens a conversation with one participant
type NewThreadRequest struct {
	Subject          string `json:"subject"`
	ParticipantEmail string `json:"participantEmail"`
	ParticipantName  string `json:"participantName"`
}

// ChatMessageRequest posts a message into a thread
type ChatMessageRequest struct {
	ThreadID       string `json:"threadId"`
	Text           string `json:"text"`
	SenderEmail    string `json:"senderEmail"`
	RecipientEmail string `json:"recipientEmail"`
	Subject        string `json:"subject"`
}

// HandleNew creates an empty thread
func (h *ChatHandler) HandleNew(c *fiber.Ctx) error {
	var req NewThreadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.BadRequestError("Invalid request", err)
		}
	}
	req.ParticipantEmail = strings.TrimSpace(req.ParticipantEmail)

	operator := h.operator
	thread := models.Thread{
		ID:           storage.NewThreadID(),
		Subject:      firstNonEmpty(req.Subject, req.ParticipantName, req.ParticipantEmail, "New conversation"),
		From:         &operator,
		Participants: []string{},
		Messages:     []models.Message{},
	}
	thread.AddParticipants(operator.Email)
	if req.ParticipantEmail != "" {
		thread.To = &models.Party{Name: req.ParticipantName, Email: req.ParticipantEmail}
		thread.AddParticipants(req.ParticipantEmail)
	}

	created, err := h.store.CreateThread(c.UserContext(), thread)
	if err != nil {
		return FromStoreError(err)
	}

	utils.Log.Info("Thread created: id=%s participant=%s", created.ID, req.ParticipantEmail)

	return c.JSON(fiber.Map{
		"ok":     true,
		"thread": created,
	})
}

// HandleMessage appends an operator message, creating the thread when its id
// is unknown, and pushes it to live watchers
func (h *ChatHandler) HandleMessage(c *fiber.Ctx) error {
	var req ChatMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	if req.ThreadID == "" {
		return utils.BadRequestError("threadId required", nil)
	}
	if req.Text == "" {
		return utils.BadRequestError("text required", nil)
	}

	msg := models.Message{
		ID:         storage.NewMessageID("msg"),
		From:       firstNonEmpty(req.SenderEmail, h.operator.Email),
		To:         firstNonEmpty(req.RecipientEmail, defaultRecipientEmail),
		Text:       req.Text,
		IsOutgoing: true,
		Subject:    req.Subject,
	}

	stored, created, err := h.store.CreateOrAppend(c.UserContext(), req.ThreadID, msg, nil)
	if err != nil {
		return FromStoreError(err)
	}
	if created {
		utils.Log.Info("Thread %s created by first message", req.ThreadID)
	}

	h.relay.Publish(req.ThreadID, relay.EventMessage, stored)

	return c.JSON(fiber.Map{
		"ok":      true,
		"message": stored,
	})
}

// HandleDelete removes a thread and all its messages
func (h *ChatHandler) HandleDelete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return utils.BadRequestError("Missing thread id", nil)
	}

	if err := h.store.DeleteThread(c.UserContext(), id); err != nil {
		return FromStoreError(err)
	}

	h.relay.Publish(id, relay.EventDeleted, fiber.Map{"id": id})
	utils.Log.Info("Thread deleted: id=%s", id)

	return c.JSON(fiber.Map{"ok": true})
}
