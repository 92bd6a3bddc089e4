package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Mailer sends notification emails. Delivery failures are logged by
// callers and never fail the surrounding operation.
type Mailer interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type Config struct {
	// Provider is "ses" or "noop".
	Provider    string
	FromAddress string
	FromName    string
	SES         SESConfig
}

// New creates a mailer from config. Unknown providers fall back to noop.
func New(cfg Config, log *slog.Logger) (Mailer, error) {
	switch cfg.Provider {
	case "ses":
		awsCfg := aws.Config{
			Region: cfg.SES.Region,
			Credentials: aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(
					cfg.SES.AccessKeyID,
					cfg.SES.SecretAccessKey,
					"",
				),
			),
		}
		return &sesMailer{
			client:      ses.NewFromConfig(awsCfg),
			fromAddress: cfg.FromAddress,
			fromName:    cfg.FromName,
			log:         log,
		}, nil
	case "noop", "":
		return &Noop{log: log}, nil
	default:
		log.Warn("unknown mail provider, using noop", "provider", cfg.Provider)
		return &Noop{log: log}, nil
	}
}

type sesMailer struct {
	client      *ses.Client
	fromAddress string
	fromName    string
	log         *slog.Logger
}

func (s *sesMailer) Send(ctx context.Context, to, subject, html, text string) error {
	source := s.fromAddress
	if s.fromName != "" {
		source = fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}
	if html != "" {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(html),
			Charset: aws.String("UTF-8"),
		}
	}
	if text != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(text),
			Charset: aws.String("UTF-8"),
		}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("mailer: send via ses: %w", err)
	}

	s.log.Info("email sent", "to", to, "message_id", aws.ToString(result.MessageId))

	return nil
}

// Noop logs instead of sending. Used in development and as the fallback
// provider.
type Noop struct {
	log *slog.Logger
}

func (n *Noop) Send(ctx context.Context, to, subject, html, text string) error {
	if n.log != nil {
		n.log.Info("email skipped (noop)", "to", to, "subject", subject)
	}
	return nil
}
