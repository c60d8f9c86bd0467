package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vegafield/lora-gateway-bridge/internal/gatewayctl"
)

type fakeStatusSource struct{ resp gatewayctl.StatusResponse }

func (f fakeStatusSource) Status() gatewayctl.StatusResponse { return f.resp }

func TestHealthEndpoint(t *testing.T) {
	s := New(fakeStatusSource{}, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusEndpointUnauthenticatedWhenNoSecret(t *testing.T) {
	s := New(fakeStatusSource{resp: gatewayctl.StatusResponse{Success: true, GatewayID: "G100101"}}, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusEndpointRequiresBearerWhenSecretSet(t *testing.T) {
	s := New(fakeStatusSource{}, "supersecret", nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a token", rec.Code)
	}
}

func TestStatusEndpointAcceptsValidBearer(t *testing.T) {
	secret := "supersecret"
	s := New(fakeStatusSource{resp: gatewayctl.StatusResponse{Success: true}}, secret, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a valid token", rec.Code)
	}
}
