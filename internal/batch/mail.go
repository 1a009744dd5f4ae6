package batch

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type MailConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

func (c MailConfig) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

// NewReportMail builds the mail of a run, the json report is attached.
func NewReportMail(cfg MailConfig, report Report) (*email.Email, error) {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Autoquote <%s>", cfg.EmailAddress)
	mail.To = cfg.To
	mail.Subject = fmt.Sprintf("Prix %s: %d/%d services", report.Plate, report.Succeeded, report.Total)
	mail.Text = []byte(report.Summary())

	body, err := report.JSON()
	if err != nil {
		return nil, err
	}
	_, err = mail.Attach(bytes.NewReader(body), report.FileName(), "application/json")
	if err != nil {
		return nil, err
	}
	return mail, nil
}

// SendReport mails the report, servers that refuse AUTH get the mail without it.
func SendReport(ctx context.Context, cfg MailConfig, report Report) error {
	ctx, span := tracer.Start(ctx, "batch:sendReport")
	defer span.End()

	mail, err := NewReportMail(cfg, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build mail")
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	err = mail.Send(addr, smtp.PlainAuth("", cfg.EmailAddress, cfg.Password, cfg.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send mail")
		return err
	}
	return nil
}
