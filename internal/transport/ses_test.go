package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSend(t *testing.T) {
	api := &fakeSES{}
	s := &SES{client: api, from: "relay@example.com", subject: "Notice"}

	id, err := s.Send(context.Background(), Message{To: "user@example.org", Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "ses-1" {
		t.Errorf("id = %q", id)
	}
	in := api.inputs[0]
	if *in.FromEmailAddress != "relay@example.com" {
		t.Errorf("from = %q", *in.FromEmailAddress)
	}
	if len(in.Destination.ToAddresses) != 1 || in.Destination.ToAddresses[0] != "user@example.org" {
		t.Errorf("to = %v", in.Destination.ToAddresses)
	}
	if *in.Content.Simple.Subject.Data != "Notice" || *in.Content.Simple.Body.Text.Data != "hello" {
		t.Errorf("content = %+v", in.Content.Simple)
	}
}

func TestSESErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{"rejected", &types.MessageRejected{Message: aws.String("rejected")}, true},
		{"bad request", &types.BadRequestException{Message: aws.String("bad")}, true},
		{"throttled", &types.TooManyRequestsException{Message: aws.String("slow down")}, false},
		{"network", errors.New("dial tcp: timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SES{client: &fakeSES{err: tt.err}, from: "a@b"}
			_, err := s.Send(context.Background(), Message{To: "c@d", Body: "x"})
			if IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent(%v) = %v, want %v", err, !tt.wantPermanent, tt.wantPermanent)
			}
		})
	}
}

func TestSESOverHTTP(t *testing.T) {
	var path string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"MessageId":"0100-abc"}`))
	}))
	defer srv.Close()

	s, err := NewSES(context.Background(), SESConfig{
		Region:    "us-east-1",
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
		From:      "relay@example.com",
		Subject:   "Notice",
		Endpoint:  srv.URL,
	})
	if err != nil {
		t.Fatalf("NewSES() error = %v", err)
	}

	id, err := s.Send(context.Background(), Message{To: "user@example.org", Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id != "0100-abc" {
		t.Errorf("id = %q", id)
	}
	if !strings.HasSuffix(path, "/v2/email/outbound-emails") {
		t.Errorf("path = %q", path)
	}
	if payload["FromEmailAddress"] != "relay@example.com" {
		t.Errorf("payload = %v", payload)
	}
}

func TestNewSESRequiresFrom(t *testing.T) {
	if _, err := NewSES(context.Background(), SESConfig{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without from")
	}
}
