// Package ingress receives webhooks from payment providers. Every accepted
// delivery is stored as an external event and handed to the actor that
// owns its type; the HTTP response only acknowledges receipt.
package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/subscription"
)

// StripeWebhookPath is where Stripe delivers events.
const StripeWebhookPath = "/v1/integrations/stripe/webhook"

// maxBodyBytes caps a delivery. Larger bodies are refused with 413 so
// Stripe reports the failure instead of retrying a truncated payload.
const maxBodyBytes = 1 << 20

// stripeRoutes maps Stripe event types to the actor handling them. Types
// not listed are acknowledged and dropped.
var stripeRoutes = map[string]string{
	"customer.subscription.created": subscription.TaskStripeUpdate,
	"customer.subscription.updated": subscription.TaskStripeUpdate,
	"customer.subscription.deleted": subscription.TaskStripeUpdate,
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRoute routes another Stripe event type to an actor.
func WithRoute(eventType, task string) Option {
	return func(s *Server) { s.routes[eventType] = task }
}

// WithRoutes lets register add routes to the server's router, such as
// the operator API.
func WithRoutes(register func(gin.IRouter)) Option {
	return func(s *Server) { s.mounts = append(s.mounts, register) }
}

// Server is the webhook ingress.
type Server struct {
	router   *gin.Engine
	mounts   []func(gin.IRouter)
	events   *externalevent.Service
	enqueuer jobqueue.Enqueuer
	secret   string
	routes   map[string]string
	logger   *slog.Logger
}

// New creates a Server. secret is the Stripe endpoint signing secret.
func New(events *externalevent.Service, enqueuer jobqueue.Enqueuer, secret string, opts ...Option) *Server {
	s := &Server{
		events:   events,
		enqueuer: enqueuer,
		secret:   secret,
		routes:   make(map[string]string, len(stripeRoutes)),
		logger:   slog.Default(),
	}
	for k, v := range stripeRoutes {
		s.routes[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST(StripeWebhookPath, s.handleStripe)
	for _, mount := range s.mounts {
		mount(router)
	}
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStripe(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn("rejected oversized stripe webhook", slog.Int64("limit", tooLarge.Limit))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "read body"})
		return
	}

	evt, err := webhook.ConstructEvent(body, c.GetHeader("Stripe-Signature"), s.secret)
	if err != nil {
		s.logger.Warn("rejected stripe webhook", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	task, ok := s.routes[evt.Type]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	err = jobqueue.Run(c.Request.Context(), s.enqueuer, func(ctx context.Context) error {
		_, err := s.events.Enqueue(ctx, externalevent.SourceStripe, task, evt.ID, body)
		return err
	})
	switch {
	case errors.Is(err, externalevent.ErrDuplicate):
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
	case err != nil:
		s.logger.Error("store stripe webhook",
			slog.String("event_id", evt.ID),
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store event"})
	default:
		s.logger.Info("stripe webhook accepted",
			slog.String("event_id", evt.ID),
			slog.String("type", evt.Type),
			slog.String("task", task),
		)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}
