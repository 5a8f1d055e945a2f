package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures an SES sender.
type SESConfig struct {
	Region    string
	AccessKey string // empty uses the default credential chain
	SecretKey string
	From      string
	Subject   string
	Endpoint  string // overrides the service endpoint
}

// SES sends each message as a plain-text email through Amazon SES.
type SES struct {
	client  sesAPI
	from    string
	subject string
}

// NewSES loads AWS configuration and creates an SES sender.
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	if cfg.From == "" {
		return nil, errors.New("ses from is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SES{client: client, from: cfg.From, subject: cfg.Subject}, nil
}

// Send emails msg.Body to msg.To. The confirmation id is the SES MessageId.
func (s *SES) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", permanent(msg.To, ErrEmptyAddress)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(s.subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", classifySES(msg.To, err)
	}
	if out.MessageId == nil {
		return "", temporary(msg.To, errors.New("ses returned no message id"))
	}
	return *out.MessageId, nil
}

// classifySES treats rejected messages and bad requests as permanent.
func classifySES(addr string, err error) error {
	var rejected *types.MessageRejected
	var badRequest *types.BadRequestException
	var notVerified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &rejected) || errors.As(err, &badRequest) || errors.As(err, &notVerified) {
		return permanent(addr, err)
	}
	return temporary(addr, err)
}
