package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/kursadbilgin/notification-engine/internal/domain"
)

const defaultEmailSubject = "Notification"

// SESService is the subset of the SES client used for email delivery.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSService is the subset of the SNS client used for SMS delivery.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// LoadAWSConfig resolves credentials from the default chain for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return cfg, nil
}

type SESEmailSender struct {
	client  SESService
	from    string
	subject string
}

func NewSESEmailSender(client SESService, from string, subject string) (*SESEmailSender, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("ses from address is required")
	}
	if strings.TrimSpace(subject) == "" {
		subject = defaultEmailSubject
	}

	return &SESEmailSender{client: client, from: strings.TrimSpace(from), subject: subject}, nil
}

func (s *SESEmailSender) Send(ctx context.Context, _ domain.Channel, recipient string, message string) (*Receipt, error) {
	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(s.subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(message)},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return nil, classifyAWSError("ses send email failed", err, sesPermanentCodes)
	}

	receipt := &Receipt{}
	if out != nil && out.MessageId != nil {
		receipt.MessageID = *out.MessageId
	}
	return receipt, nil
}

type SNSSMSSender struct {
	client SNSService
}

func NewSNSSMSSender(client SNSService) (*SNSSMSSender, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	return &SNSSMSSender{client: client}, nil
}

func (s *SNSSMSSender) Send(ctx context.Context, _ domain.Channel, recipient string, message string) (*Receipt, error) {
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(recipient),
		Message:     aws.String(message),
	})
	if err != nil {
		return nil, classifyAWSError("sns publish failed", err, snsPermanentCodes)
	}

	receipt := &Receipt{}
	if out != nil && out.MessageId != nil {
		receipt.MessageID = *out.MessageId
	}
	return receipt, nil
}

var sesPermanentCodes = map[string]bool{
	"MessageRejected":                       true,
	"MailFromDomainNotVerifiedException":    true,
	"ConfigurationSetDoesNotExistException": true,
	"AccountSendingPausedException":         true,
	"InvalidParameterValue":                 true,
}

var snsPermanentCodes = map[string]bool{
	"InvalidParameter":      true,
	"InvalidParameterValue": true,
	"AuthorizationError":    true,
	"OptedOut":              true,
	"EndpointDisabled":      true,
}

// classifyAWSError maps an SDK error to a ProviderError. Known permanent codes
// are not retried unless the service reports a server fault.
func classifyAWSError(message string, err error, permanent map[string]bool) error {
	if errors.Is(err, context.Canceled) {
		return permanentError(message, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		transient := !permanent[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer
		return &ProviderError{
			Message:   fmt.Sprintf("%s: %s", message, apiErr.ErrorCode()),
			Transient: transient,
			Cause:     err,
		}
	}

	return transientError(message, err)
}
