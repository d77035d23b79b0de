package openfinance

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	ofclient "finlink/internal/infrastructure/openfinance"
)

func connectorWith(fields ...ofclient.CredentialDescriptor) func(ctx context.Context, id int) (*ofclient.Connector, error) {
	return func(ctx context.Context, id int) (*ofclient.Connector, error) {
		return &ofclient.Connector{ID: id, Name: "Test Bank", Credentials: fields}, nil
	}
}

var testFields = []ofclient.CredentialDescriptor{
	{Name: "cpf", Label: "CPF", Type: "text", Validation: "^[0-9]{11}$", ValidationMessage: "CPF must have 11 digits"},
	{Name: "password", Label: "Password", Type: "password"},
	{Name: "branch", Label: "Branch", Type: "number", Optional: true},
}

func TestSubmitter_Submit(t *testing.T) {
	var got ofclient.CreateItemRequest
	client := &MockClient{
		GetConnectorFunc: connectorWith(testFields...),
		CreateItemFunc: func(ctx context.Context, req ofclient.CreateItemRequest) (*ofclient.Item, error) {
			got = req
			return &ofclient.Item{ID: "item-9", Status: "UPDATING"}, nil
		},
	}
	s := NewSubmitter(client, zap.NewNop())

	item, err := s.Submit(context.Background(), 42, 201, map[string]string{
		"cpf":      "123.456.789-01",
		"password": "  hunter2 ",
	}, []string{"ACCOUNTS", "TRANSACTIONS"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if item.ID != "item-9" {
		t.Errorf("item ID = %s", item.ID)
	}
	if got.ConnectorID != 201 || got.ClientUserID != "42" {
		t.Errorf("request = %+v", got)
	}
	if got.Parameters["cpf"] != "12345678901" {
		t.Errorf("cpf not normalized: %q", got.Parameters["cpf"])
	}
	if got.Parameters["password"] != "hunter2" {
		t.Errorf("password not trimmed: %q", got.Parameters["password"])
	}
	if _, ok := got.Parameters["branch"]; ok {
		t.Error("empty optional field should be omitted")
	}
	if len(got.Products) != 2 {
		t.Errorf("products = %v", got.Products)
	}
}

func TestSubmitter_CollectsAllFieldErrors(t *testing.T) {
	client := &MockClient{GetConnectorFunc: connectorWith(testFields...)}
	s := NewSubmitter(client, zap.NewNop())

	_, err := s.Submit(context.Background(), 42, 201, map[string]string{
		"cpf":   "123",
		"token": "x",
	}, nil)

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	fields := map[string]string{}
	for _, fe := range verrs.Errors {
		fields[fe.Field] = fe.Message
	}
	if fields["cpf"] != "CPF must have 11 digits" {
		t.Errorf("cpf message = %q", fields["cpf"])
	}
	if fields["password"] != "is required" {
		t.Errorf("password message = %q", fields["password"])
	}
	if _, ok := fields["token"]; !ok {
		t.Error("unknown field should be reported")
	}
	if client.Calls("CreateItem") != 0 {
		t.Error("nothing should be sent when validation fails")
	}
}

func TestSubmitter_InputErrors(t *testing.T) {
	s := NewSubmitter(&MockClient{}, zap.NewNop())

	if _, err := s.Submit(context.Background(), 1, 0, map[string]string{"a": "b"}, nil); err == nil {
		t.Error("expected error for missing institution")
	}
	_, err := s.Submit(context.Background(), 1, 201, nil, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "credentials" {
		t.Errorf("missing credentials error = %v, want ValidationError on credentials", err)
	}
}

func TestSubmitter_AggregatorErrors(t *testing.T) {
	client := &MockClient{
		GetConnectorFunc: connectorWith(ofclient.CredentialDescriptor{Name: "user"}),
		CreateItemFunc: func(ctx context.Context, req ofclient.CreateItemRequest) (*ofclient.Item, error) {
			return nil, &ofclient.APIError{StatusCode: 500, Message: "boom"}
		},
	}
	s := NewSubmitter(client, zap.NewNop())

	_, err := s.Submit(context.Background(), 1, 201, map[string]string{"user": "u"}, nil)
	var aggErr *AggregatorError
	if !errors.As(err, &aggErr) || aggErr.Operation != "create item" {
		t.Errorf("expected create item AggregatorError, got %v", err)
	}
	if _, ok := ofclient.AsAPIError(err); !ok {
		t.Error("APIError should stay reachable through the wrap")
	}
}

func TestNormalizeCredential(t *testing.T) {
	tests := []struct {
		field CredentialField
		in    string
		want  string
	}{
		{CredentialField{Name: "cpf"}, "123.456.789-01", "12345678901"},
		{CredentialField{Name: "CNPJ"}, "12.345.678/0001-90", "12345678000190"},
		{CredentialField{Name: "doc", Type: "cpf"}, " 111.222.333-44 ", "11122233344"},
		{CredentialField{Name: "document"}, "1-2", "12"},
		{CredentialField{Name: "user"}, " a.b-c ", "a.b-c"},
	}

	for _, tt := range tests {
		if got := normalizeCredential(tt.field, tt.in); got != tt.want {
			t.Errorf("normalizeCredential(%s, %q) = %q, want %q", tt.field.Name, tt.in, got, tt.want)
		}
	}
}

func TestSubmitter_InvalidPatternIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	client := &MockClient{
		GetConnectorFunc: connectorWith(ofclient.CredentialDescriptor{Name: "agency", Label: "Agency", Validation: "([0-9"}),
	}
	s := NewSubmitter(client, zap.New(core))

	if _, err := s.Submit(context.Background(), 1, 201, map[string]string{"agency": "abc"}, nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	entries := logs.FilterMessage("ignoring invalid validation pattern").All()
	if len(entries) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["field"] != "agency" || fields["pattern"] != "([0-9" {
		t.Errorf("logged fields = %v", fields)
	}
}
