// Package notify emails the credit committee when an analysis completes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"

	"github.com/jordan-wright/email"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/bus"
	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// Message is one notification to deliver.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends notifications by email.
type SMTPSender struct {
	host string
	port int
	from string
	auth smtp.Auth
}

// NewSMTPSender creates a sender for the configured SMTP relay.
func NewSMTPSender(cfg domain.NotifyConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return &SMTPSender{
		host: cfg.SMTPHost,
		port: cfg.SMTPPort,
		from: cfg.From,
		auth: auth,
	}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = msg.To
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := e.Send(addr, s.auth); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogSender logs notifications instead of sending them.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.Info("notification",
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
	)
	return nil
}

// NewSender returns an SMTPSender when a relay is configured, else a
// LogSender.
func NewSender(cfg domain.NotifyConfig) Sender {
	if cfg.SMTPHost == "" {
		return LogSender{}
	}
	return NewSMTPSender(cfg)
}

// Notifier turns analysis.completed events into committee emails.
type Notifier struct {
	bus        domain.EventBus
	sender     Sender
	recipients []string

	mu            sync.Mutex
	subscriptions []domain.Subscription
}

// NewNotifier creates a notifier.
func NewNotifier(b domain.EventBus, sender Sender, recipients []string) *Notifier {
	return &Notifier{bus: b, sender: sender, recipients: recipients}
}

// Start subscribes for the given tenants, or every tenant when none is set.
func (n *Notifier) Start(ctx context.Context, tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		tenantIDs = []string{domain.AllTenants}
	}

	for _, tenantID := range tenantIDs {
		sub, err := n.bus.Subscribe(ctx, tenantID, domain.TopicAnalysisCompleted, n.handle)
		if err != nil {
			return fmt.Errorf("failed to subscribe notifier for %s: %w", tenantID, err)
		}
		n.mu.Lock()
		n.subscriptions = append(n.subscriptions, sub)
		n.mu.Unlock()
	}

	slog.Info("notifier started",
		"tenant_count", len(tenantIDs),
		"recipients", len(n.recipients),
	)
	return nil
}

// Stop removes every subscription.
func (n *Notifier) Stop() {
	n.mu.Lock()
	subs := n.subscriptions
	n.subscriptions = nil
	n.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func (n *Notifier) handle(ctx context.Context, msg *domain.Message) error {
	if len(n.recipients) == 0 {
		return nil
	}

	var event domain.AnalysisCompletedEvent
	if err := bus.DecodeJSON(msg, &event); err != nil {
		slog.Error("failed to parse completed event", "message_id", msg.ID, "error", err)
		return err
	}
	// Stateless analyses have no dossier to review.
	if event.DossierID == "" {
		return nil
	}

	out := Compose(msg.TenantID, event)
	out.To = n.recipients
	if err := n.sender.Send(ctx, out); err != nil {
		slog.Error("failed to send notification",
			"dossier_id", event.DossierID,
			"error", err,
		)
		return err
	}

	slog.Debug("notification sent", "dossier_id", event.DossierID, "result_id", event.ResultID)
	return nil
}

// Compose builds the committee email of a completed analysis.
func Compose(tenantID string, e domain.AnalysisCompletedEvent) Message {
	ref := e.Reference
	if ref == "" {
		ref = e.DossierID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dossier : %s\n", ref)
	if e.ClientName != "" {
		fmt.Fprintf(&b, "Client : %s\n", e.ClientName)
	}
	if e.Officer != "" {
		fmt.Fprintf(&b, "Chargé de dossier : %s\n", e.Officer)
	}
	fmt.Fprintf(&b, "Agence : %s\n\n", tenantID)
	fmt.Fprintf(&b, "Score global : %.2f / 100\n", e.GlobalScore)
	fmt.Fprintf(&b, "Classe de risque : %s\n", e.RiskClass)
	fmt.Fprintf(&b, "Recommandation : %s\n", e.Recommendation)
	if e.Disagreement {
		fmt.Fprintf(&b, "\nDésaccord entre l'analyse narrative et la grille : %s\n", strings.Join(e.Flags, ", "))
	}
	fmt.Fprintf(&b, "\nRésultat : %s\n", e.ResultID)

	return Message{
		Subject: fmt.Sprintf("[%s] Dossier %s classé %s", e.Recommendation, ref, e.RiskClass),
		Body:    b.String(),
	}
}
