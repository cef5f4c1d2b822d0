package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/congo-pay/chatwallet/internal/assistant"
	"github.com/congo-pay/chatwallet/internal/middleware"
)

const (
	dataTypeMessage       = "message"
	throttleNoticeTimeout = 10 * time.Second
)

type webhookPayload struct {
	DataType string `json:"dataType"`
	Data     struct {
		Message struct {
			ID   string `json:"id"`
			From string `json:"from"`
			Body string `json:"body"`
		} `json:"message"`
	} `json:"data"`
}

func peekPayload(c *fiber.Ctx) (webhookPayload, bool) {
	var p webhookPayload
	if err := json.Unmarshal(c.Body(), &p); err != nil {
		return webhookPayload{}, false
	}
	return p, true
}

func messageID(c *fiber.Ctx) string {
	p, _ := peekPayload(c)
	return p.Data.Message.ID
}

func messageSender(c *fiber.Ctx) string {
	p, _ := peekPayload(c)
	return p.Data.Message.From
}

func acknowledged(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true})
}

// RegisterWebhookRoutes mounts the chat gateway webhook. Every well-formed
// delivery is acknowledged with {"success":true}; the message itself is
// handled asynchronously and answered through the notifier.
func RegisterWebhookRoutes(app *fiber.App, router *assistant.Service, d Deps) {
	run := d.Runner
	if run == nil {
		run = func(task func()) { go task() }
	}
	budget := d.Cfg.SponsorTimeout + d.Cfg.ReceiptTimeout + time.Minute

	throttled := func(c *fiber.Ctx) error {
		if first, _ := c.Locals(middleware.ThrottleFirstLocal).(bool); first {
			sender := utils.CopyString(messageSender(c))
			run(func() {
				ctx, cancel := context.WithTimeout(context.Background(), throttleNoticeTimeout)
				defer cancel()
				router.NotifyThrottled(ctx, sender)
			})
		}
		return acknowledged(c)
	}

	handlers := []fiber.Handler{middleware.WebhookSignature(d.Cfg.WebhookSecret)}
	if d.Cache != nil {
		handlers = append(handlers,
			middleware.Throttle(d.Cache, d.Cfg.InboundPerMinute, messageSender, throttled),
			middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, messageID),
		)
	}

	handlers = append(handlers, func(c *fiber.Ctx) error {
		payload, ok := peekPayload(c)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "invalid webhook payload")
		}
		if payload.DataType != dataTypeMessage {
			return acknowledged(c)
		}

		msg := payload.Data.Message
		c.Locals(middleware.SenderLocal, msg.From)
		in := assistant.Inbound{ID: msg.ID, From: msg.From, Text: msg.Body}
		requestID := utils.CopyString(middleware.GetRequestID(c))

		run(func() {
			ctx, cancel := context.WithTimeout(context.Background(), budget)
			defer cancel()
			if err := router.HandleMessage(ctx, in); err != nil {
				d.Logger.Info("message handled with error",
					slog.String("request_id", requestID),
					slog.String("message_id", in.ID),
					slog.Any("error", err))
			}
		})
		return acknowledged(c)
	})

	app.Post("/whatsapp", handlers...)
}
