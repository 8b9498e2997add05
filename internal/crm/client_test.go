package crm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{BaseURL: srv.URL, APIToken: "test-token"}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(&Config{}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestFetchRecord(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Id":"00Q123","LeadSource":"Web","AnnualRevenue":250000}`))
	})

	record, err := client.FetchRecord(context.Background(), routing.ObjectLead, "00Q123")
	require.NoError(t, err)

	assert.Equal(t, "/sobjects/Lead/00Q123", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "Web", record["LeadSource"])
	assert.Equal(t, float64(250000), record["AnnualRevenue"])
}

func TestFetchRecord_EmptyExternalID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.FetchRecord(context.Background(), routing.ObjectLead, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestFetchRecord_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType apperrors.ErrorType
	}{
		{"not found", http.StatusNotFound, apperrors.ErrTypeNotFound},
		{"unauthorized", http.StatusUnauthorized, apperrors.ErrTypeAuth},
		{"forbidden", http.StatusForbidden, apperrors.ErrTypeAuth},
		{"server error", http.StatusInternalServerError, apperrors.ErrTypeRemote},
		{"bad request", http.StatusBadRequest, apperrors.ErrTypeRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.FetchRecord(context.Background(), routing.ObjectContact, "003ABC")
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.wantType), "got %v", err)
		})
	}
}

func TestFetchRecord_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := client.FetchRecord(context.Background(), routing.ObjectLead, "00Q123")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRemote))
}

func TestWriteOwner(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.WriteOwner(context.Background(), routing.ObjectLead, "00Q123", "user-7")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/sobjects/Lead/00Q123", gotPath)
	assert.JSONEq(t, `{"OwnerId":"user-7"}`, gotBody)
}

func TestWriteOwner_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	err := client.WriteOwner(context.Background(), routing.ObjectLead, "", "user-7")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	err = client.WriteOwner(context.Background(), routing.ObjectLead, "00Q123", "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestWriteOwner_RemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.WriteOwner(context.Background(), routing.ObjectContact, "003ABC", "user-7")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRemote))
}

func TestFetchRecord_BreakerOpensOnRepeatedFailure(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	// CRMConfig opens the circuit after three consecutive failures
	for i := 0; i < 3; i++ {
		_, err := client.FetchRecord(context.Background(), routing.ObjectLead, "00Q123")
		require.Error(t, err)
	}
	require.Equal(t, 3, calls)

	_, err := client.FetchRecord(context.Background(), routing.ObjectLead, "00Q123")
	require.Error(t, err)
	assert.Equal(t, 3, calls, "open breaker must reject without calling the CRM")
	assert.Equal(t, "open", client.BreakerStats().State)
}
