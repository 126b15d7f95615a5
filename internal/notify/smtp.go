package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPNotifier sends alert mail to the security distribution list.
type SMTPNotifier struct {
	host       string
	port       int
	from       string
	password   string
	recipients []string

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates a mail channel. password may be empty for
// unauthenticated relays.
func NewSMTPNotifier(host string, port int, from, password string, recipients []string) *SMTPNotifier {
	return &SMTPNotifier{
		host:       host,
		port:       port,
		from:       from,
		password:   password,
		recipients: recipients,
		sendMail:   smtp.SendMail,
	}
}

func (n *SMTPNotifier) Name() string { return "smtp" }

func (n *SMTPNotifier) Notify(ctx context.Context, alert Alert) error {
	if len(n.recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] threat alert for %s\r\n", alert.LevelName, alert.Entity)
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Entity:       %s\r\n", alert.Entity)
	fmt.Fprintf(&b, "Threat level: %s\r\n", alert.LevelName)
	fmt.Fprintf(&b, "Final risk:   %.2f\r\n", alert.FinalRisk)
	fmt.Fprintf(&b, "Network risk: %.2f\r\n", alert.NetworkRisk)
	fmt.Fprintf(&b, "User risk:    %.2f\r\n", alert.UserRisk)
	fmt.Fprintf(&b, "Action:       %s\r\n", alert.Action)
	fmt.Fprintf(&b, "Time:         %s\r\n", alert.Timestamp.Format("2006-01-02 15:04:05 MST"))

	var auth smtp.Auth
	if n.password != "" {
		auth = smtp.PlainAuth("", n.from, n.password, n.host)
	}
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.sendMail(addr, auth, n.from, n.recipients, []byte(b.String())); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	return nil
}
