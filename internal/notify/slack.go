package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackNotifier posts lifecycle events to a Slack incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(buildSlackMessage(event))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := n.poster.deliver(ctx, event.Server, payload); err != nil {
		return err
	}

	n.logger.Debug().
		Str("server", event.Server).
		Str("kind", string(event.Kind)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

func buildSlackMessage(event Event) slack.WebhookMessage {
	summary := event.Summary()
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", headline(event.Kind), false, false))
	text := slack.NewTextBlockObject("mrkdwn", summary, false, false)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Players:*\n%d", event.Players), false, false),
	}
	if event.Target != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Desired state:*\n`%s`", event.Target), false, false))
	}
	if event.IdleFor > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Idle for:*\n%s", event.IdleFor.Round(time.Second)), false, false))
	}
	section := slack.NewSectionBlock(text, fields, nil)

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Server: *%s*", event.Server), false, false),
	}
	if event.Source != "" {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", "Source: "+event.Source, false, false))
	}
	footer := slack.NewContextBlock("", contextElements...)

	blockSet := slack.Blocks{BlockSet: []slack.Block{header, section, footer}}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func headline(kind Kind) string {
	switch kind {
	case KindStateChanged:
		return "Server state changed"
	case KindIdleRegistered:
		return "Server idle"
	case KindIdleCleared:
		return "Players are back"
	case KindIdleShutdown:
		return "Server stopped for inactivity"
	default:
		return string(kind)
	}
}
