package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/tools/email"
)

// DeliveryDispatcher renders a report draft to HTML mail and hands it to the
// delivery capability exactly once per draft.
type DeliveryDispatcher struct {
	config    *config.Config
	sender    email.Sender
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewDeliveryDispatcher creates a new dispatcher instance
func NewDeliveryDispatcher(cfg *config.Config, sender email.Sender, tele *telemetry.Telemetry) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		config:    cfg,
		sender:    sender,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[DELIVERY] ", log.LstdFlags),
	}
}

// Deliver sends the draft to recipient and returns a receipt. The capability
// is called at most once; callers must not re-deliver a draft that already
// produced a receipt.
func (d *DeliveryDispatcher) Deliver(ctx context.Context, draft ReportDraft, recipient string) (DeliveryReceipt, error) {
	startTime := time.Now()

	msg := email.Message{
		From:      d.config.Email.SenderAddress,
		To:        recipient,
		Subject:   d.subjectFor(draft),
		HTMLBody:  d.renderHTML(draft),
		PlainBody: draft.MarkdownBody,
	}

	err := d.sender.Send(ctx, msg)
	d.telemetry.RecordDeliveryEvent(ctx, telemetry.DeliveryEvent{
		Recipient: recipient,
		Duration:  time.Since(startTime),
		Success:   err == nil,
	})
	if err != nil {
		cause := DeliveryUpstream
		if errors.Is(err, email.ErrRejected) {
			cause = DeliveryRejected
		}
		return DeliveryReceipt{}, DeliveryError{Cause: cause, Err: err}
	}

	d.logger.Printf("report delivered to %s in %v", recipient, time.Since(startTime))
	return DeliveryReceipt{Delivered: true, Recipient: recipient, Timestamp: time.Now()}, nil
}

func (d *DeliveryDispatcher) subjectFor(draft ReportDraft) string {
	subject := draft.ShortSummary
	if i := strings.IndexAny(subject, ".\n"); i > 0 {
		subject = subject[:i]
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "Research report"
	}
	if prefix := d.config.Email.SubjectPrefix; prefix != "" {
		subject = prefix + " " + subject
	}
	return subject
}

// renderHTML wraps the rendered markdown body with the summary on top and
// the follow-up questions at the bottom.
func (d *DeliveryDispatcher) renderHTML(draft ReportDraft) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	fmt.Fprintf(&b, "<p><em>%s</em></p>\n<hr/>\n", htmlEscape(draft.ShortSummary))
	b.WriteString(markdownToHTML(draft.MarkdownBody))
	if len(draft.FollowUpQuestions) > 0 {
		b.WriteString("<hr/>\n<h3>Follow-up questions</h3>\n<ul>\n")
		for _, q := range draft.FollowUpQuestions {
			fmt.Fprintf(&b, "<li>%s</li>\n", htmlEscape(q))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</body></html>")
	return b.String()
}
