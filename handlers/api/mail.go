package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"rentmail/models"
	"rentmail/relay"
	"rentmail/storage"
	"rentmail/utils"
)

const sendTimeout = 30 * time.Second

// MailHandler serves the thread list and the outgoing mail endpoints
type MailHandler struct {
	store    storage.MailStore
	relay    *relay.Relay
	mailer   Mailer
	operator models.Party
}

// NewMailHandler creates a new mail handler
func NewMailHandler(store storage.MailStore, r *relay.Relay, mailer Mailer, operator models.Party) *MailHandler {
	return &MailHandler{
		store:    store,
		relay:    r,
		mailer:   mailer,
		operator: operator,
	}
}

// SendMailRequest represents an email send request
type SendMailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	MailID  string `json:"mailId"`
}

// SimulateIncomingRequest carries the text of a fake counterparty reply
type SimulateIncomingRequest struct {
	Text string `json:"text"`
}

// HandleList returns every stored thread
func (h *MailHandler) HandleList(c *fiber.Ctx) error {
	threads, err := h.store.ReadAll(c.UserContext())
	if err != nil {
		return FromStoreError(err)
	}
	return c.JSON(threads)
}

// HandleGet returns one thread
func (h *MailHandler) HandleGet(c *fiber.Ctx) error {
	thread, err := h.store.GetThread(c.UserContext(), c.Params("id"))
	if err != nil {
		return FromStoreError(err)
	}
	return c.JSON(thread)
}

// HandleSend mails the message, then records it in its thread
func (h *MailHandler) HandleSend(c *fiber.Ctx) error {
	var req SendMailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	// Without a usable transport nothing else about the request matters
	if err := h.mailer.Ready(); err != nil {
		return asAppError(err, "Failed to send email")
	}

	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		return utils.BadRequestError("Invalid recipient", nil)
	}
	if req.Subject == "" {
		return utils.BadRequestError("Subject required", nil)
	}
	if req.Text == "" && req.HTML == "" {
		return utils.BadRequestError("Email body required", nil)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), sendTimeout)
	defer cancel()

	err := h.mailer.Send(ctx, OutgoingMail{
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	})
	if err != nil {
		utils.Log.Error("SMTP send to %s failed: %v", req.To, err)
		return asAppError(err, "Failed to send email").WithContext("to", req.To)
	}

	msg := models.Message{
		ID:         storage.NewMessageID("msg"),
		From:       h.operator.Email,
		To:         req.To,
		Text:       req.Text,
		HTML:       req.HTML,
		IsOutgoing: true,
		Subject:    req.Subject,
	}

	threadID := req.MailID
	if threadID == "" {
		threadID = storage.NewThreadID()
	}

	operator := h.operator
	stored, _, err := h.store.CreateOrAppend(c.UserContext(), threadID, msg, &storage.ThreadSeed{
		From: &operator,
		To:   &models.Party{Email: req.To},
	})
	if err != nil {
		// The mail is already out; the thread is now behind the mailbox
		utils.Log.Error("Sent mail to %s but failed to record it in %s: %v", req.To, threadID, err)
		return FromStoreError(err)
	}

	h.relay.Publish(threadID, relay.EventMessage, stored)

	return c.JSON(fiber.Map{
		"ok":      true,
		"message": stored,
		"mailId":  threadID,
	})
}

// asAppError keeps the status of an AppError anywhere in err's chain and
// reports anything else as a 500 with message
func asAppError(err error, message string) *utils.AppError {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return utils.InternalServerError(message, err)
}

// HandleSimulateIncoming appends a reply from the thread's counterparty
func (h *MailHandler) HandleSimulateIncoming(c *fiber.Ctx) error {
	var req SimulateIncomingRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if req.Text == "" {
		return utils.BadRequestError("text required", nil)
	}

	id := c.Params("id")
	thread, err := h.store.GetThread(c.UserContext(), id)
	if err != nil {
		return FromStoreError(err)
	}

	from, to := defaultRecipientEmail, h.operator.Email
	if thread.To != nil && thread.To.Email != "" {
		from = thread.To.Email
	}
	if thread.From != nil && thread.From.Email != "" {
		to = thread.From.Email
	}

	msg := models.Message{
		ID:         storage.NewMessageID("in"),
		From:       from,
		To:         to,
		Text:       req.Text,
		IsOutgoing: false,
		Subject:    utils.ReplySubject(thread.Subject),
	}

	stored, err := h.store.AppendMessage(c.UserContext(), id, msg)
	if err != nil {
		return FromStoreError(err)
	}

	h.relay.Publish(id, relay.EventMessage, stored)

	return c.JSON(fiber.Map{
		"ok":      true,
		"message": stored,
	})
}
