package handler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/notification"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
)

// SubscriptionConfirmer visits an SNS SubscribeURL
type SubscriptionConfirmer interface {
	Confirm(ctx context.Context, subscribeURL string) error
}

// HTTPConfirmer confirms subscriptions with a GET to the SubscribeURL
type HTTPConfirmer struct {
	Client *http.Client
}

// Confirm checks the URL points at SNS over HTTPS and fetches it
func (c HTTPConfirmer) Confirm(ctx context.Context, subscribeURL string) error {
	if err := ValidateSubscribeURL(subscribeURL); err != nil {
		return err
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confirm subscription: SNS returned %s", resp.Status)
	}
	return nil
}

// ValidateSubscribeURL rejects anything but an HTTPS URL on an SNS host
func ValidateSubscribeURL(raw string) error {
	_, err := notification.ValidateSNSURL(raw, "SubscribeURL")
	return err
}

// SignatureVerifier checks that an SNS envelope was signed by SNS
type SignatureVerifier interface {
	Verify(ctx context.Context, raw []byte) error
}

// NotificationOptions control the notification endpoint
type NotificationOptions struct {
	MaxBodyBytes         int64
	ConfirmSubscriptions bool
	// TopicARN, when set, is the only topic whose messages are accepted
	TopicARN string
	// Verifier checks SNS envelope signatures; nil accepts unsigned envelopes
	Verifier SignatureVerifier
	// DirectAuth guards bodies that are not SNS envelopes: direct events,
	// bare CloudWatch alarms and Lambda-shaped batches
	DirectAuth func(http.Handler) http.Handler
}

// NotificationHandler accepts alarm notifications over HTTP: SNS HTTPS
// deliveries as well as direct posts of the other accepted shapes.
type NotificationHandler struct {
	runner    ports.CycleRunner
	confirmer SubscriptionConfirmer
	opts      NotificationOptions
	logger    *logger.Logger
}

// NewNotificationHandler creates the handler
func NewNotificationHandler(runner ports.CycleRunner, confirmer SubscriptionConfirmer, opts NotificationOptions, log *logger.Logger) *NotificationHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 256 * 1024
	}
	if confirmer == nil {
		confirmer = HTTPConfirmer{}
	}
	if opts.DirectAuth == nil {
		opts.DirectAuth = func(next http.Handler) http.Handler { return next }
	}
	return &NotificationHandler{
		runner:    runner,
		confirmer: confirmer,
		opts:      opts,
		logger:    log.WithField("component", "notification_api"),
	}
}

// ServeHTTP handles POST /v1/notifications
func (h *NotificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:     fmt.Sprintf("body exceeds %d bytes", h.opts.MaxBodyBytes),
				Code:      string(errors.ErrCodeInvalidNotification),
				Timestamp: time.Now().UTC(),
			})
			return
		}
		writeError(w, r, h.logger, errors.NewInvalidNotificationError("could not read body", err))
		return
	}

	run := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the cycle runs to completion even if the sender disconnects
		result := h.runner.HandleNotification(context.WithoutCancel(r.Context()), body)
		writeJSON(w, resultStatus(result.ErrorCode), result)
	})

	env, err := notification.ParseEnvelope(body)
	if err != nil {
		h.opts.DirectAuth(run).ServeHTTP(w, r)
		return
	}

	if h.opts.TopicARN != "" && env.TopicArn != h.opts.TopicARN {
		h.logger.WithField("topic_arn", env.TopicArn).Warn("Rejected message from unexpected topic")
		h.forbidden(w, "unexpected topic")
		return
	}
	if h.opts.Verifier != nil {
		if err := h.opts.Verifier.Verify(r.Context(), body); err != nil {
			h.logger.WithError(err).WithField("topic_arn", env.TopicArn).Warn("Rejected SNS message with invalid signature")
			h.forbidden(w, "invalid SNS signature")
			return
		}
	}

	switch env.Type {
	case notification.TypeSubscriptionConfirmation:
		h.confirm(w, r, env)
	case notification.TypeUnsubscribeConfirmation:
		h.logger.WithField("topic_arn", env.TopicArn).Warn("Topic subscription removed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	default:
		run.ServeHTTP(w, r)
	}
}

func (h *NotificationHandler) forbidden(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusForbidden, ErrorResponse{
		Error:     message,
		Code:      string(errors.ErrCodeUnauthorized),
		Timestamp: time.Now().UTC(),
	})
}

func (h *NotificationHandler) confirm(w http.ResponseWriter, r *http.Request, env *notification.Envelope) {
	log := h.logger.WithField("topic_arn", env.TopicArn)
	if !h.opts.ConfirmSubscriptions {
		log.Warn("Subscription confirmation received but confirmation is disabled")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.confirmer.Confirm(r.Context(), env.SubscribeURL); err != nil {
		if !errors.IsFailoverError(err) {
			err = errors.WrapError(err, errors.ErrCodeInternalError, "notification", "subscription confirmation failed")
		}
		writeError(w, r, log, err)
		return
	}

	log.Info("Confirmed SNS subscription")
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}
