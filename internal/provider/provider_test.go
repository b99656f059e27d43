package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/relayfactory/internal/config"
	"github.com/lucasnoah/relayfactory/internal/contract"
)

func testEnvelope(t *testing.T) contract.TaskEnvelope {
	t.Helper()
	env, err := contract.NewEnvelope("analyze", "analyzer", "corr-1", contract.AnalyzeInput{TargetHint: "."})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestLocalSuccess(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, env contract.TaskEnvelope) (any, error) {
		return contract.AnalyzeOutput{Findings: []contract.Finding{}}, nil
	})
	res := NewLocal("analyzer", h).Invoke(context.Background(), testEnvelope(t), time.Second)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.CorrelationID != "corr-1" || res.AgentRole != "analyzer" {
		t.Errorf("identity = %s/%s", res.CorrelationID, res.AgentRole)
	}
	var out contract.AnalyzeOutput
	if err := res.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestLocalBusinessError(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, env contract.TaskEnvelope) (any, error) {
		return nil, errors.New("no such target")
	})
	res := NewLocal("analyzer", h).Invoke(context.Background(), testEnvelope(t), time.Second)
	if res.Success || res.Error != "no such target" {
		t.Errorf("got %+v", res)
	}
	if res.Transport() {
		t.Error("business error must not be transport-class")
	}
}

func TestLocalTimeout(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, env contract.TaskEnvelope) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	res := NewLocal("analyzer", h).Invoke(context.Background(), testEnvelope(t), 10*time.Millisecond)
	if res.Error != contract.ErrTimeout {
		t.Errorf("Error = %q, want timeout", res.Error)
	}
}

func TestLocalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := HandlerFunc(func(ctx context.Context, env contract.TaskEnvelope) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	res := NewLocal("analyzer", h).Invoke(ctx, testEnvelope(t), time.Second)
	if res.Success {
		t.Fatal("expected failure")
	}
}

func TestLocalPanic(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, env contract.TaskEnvelope) (any, error) {
		panic("boom")
	})
	res := NewLocal("analyzer", h).Invoke(context.Background(), testEnvelope(t), time.Second)
	if res.Success || !strings.Contains(res.Error, "boom") {
		t.Errorf("got %+v", res)
	}
}

func TestRemoteRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != InvokePath {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get(HeaderCorrelationID) != "corr-1" {
			t.Errorf("correlation header = %q", r.Header.Get(HeaderCorrelationID))
		}
		claims, err := VerifyToken(secret, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err != nil {
			t.Errorf("VerifyToken: %v", err)
		} else if claims.ID != "corr-1" || claims.Role != "analyzer" {
			t.Errorf("claims = %+v", claims)
		}
		var env contract.TaskEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode: %v", err)
		}
		res, _ := contract.Succeeded(env, contract.AnalyzeOutput{Findings: []contract.Finding{}})
		json.NewEncoder(w).Encode(res)
	}))
	defer srv.Close()

	p := NewRemote(srv.URL+"/", WithSigner(NewTokenSigner(secret, time.Minute)))
	res := p.Invoke(context.Background(), testEnvelope(t), time.Second)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
}

func TestRemoteFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusBadGateway)
			},
			want: contract.ErrUnreachable,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json"))
			},
			want: contract.ErrUnreachable,
		},
		{
			name: "wrong correlation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(contract.AgentResult{Success: true, Result: json.RawMessage(`{}`), CorrelationID: "other"})
			},
			want: contract.ErrCorrelationMismatch,
		},
		{
			name: "slow worker",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(500 * time.Millisecond):
				}
			},
			timeout: 20 * time.Millisecond,
			want:    contract.ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			res := NewRemote(srv.URL).Invoke(context.Background(), testEnvelope(t), timeout)
			if res.Success || res.Error != tt.want {
				t.Errorf("got success=%v error=%q, want %q", res.Success, res.Error, tt.want)
			}
		})
	}
}

func TestRemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	res := NewRemote(url).Invoke(context.Background(), testEnvelope(t), time.Second)
	if res.Error != contract.ErrUnreachable {
		t.Errorf("Error = %q, want unreachable", res.Error)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	env := testEnvelope(t)
	tok, err := NewTokenSigner([]byte("a"), time.Minute).Sign(env)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := VerifyToken([]byte("b"), tok); err == nil {
		t.Error("expected signature mismatch")
	}
	if _, err := VerifyToken([]byte("a"), ""); err == nil {
		t.Error("expected missing token error")
	}

	expired := NewTokenSigner([]byte("a"), time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _ = expired.Sign(env)
	if _, err := VerifyToken([]byte("a"), tok); err == nil {
		t.Error("expected expiry error")
	}
}

func TestReplay(t *testing.T) {
	env := testEnvelope(t)
	recorded, _ := contract.Succeeded(env, contract.AnalyzeOutput{Findings: []contract.Finding{{ID: "F1"}}})
	rp, err := NewReplay([]contract.Exchange{{Stage: "analyze", Envelope: env, Result: recorded}})
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}

	again, _ := contract.NewEnvelope("analyze", "analyzer", "corr-2", contract.AnalyzeInput{TargetHint: "."})
	res := rp.Invoke(context.Background(), again, time.Second)
	if !res.Success || res.CorrelationID != "corr-2" {
		t.Fatalf("got %+v", res)
	}

	other, _ := contract.NewEnvelope("analyze", "analyzer", "corr-3", contract.AnalyzeInput{TargetHint: "./other"})
	if res := rp.Invoke(context.Background(), other, time.Second); res.Error != ErrNoRecording {
		t.Errorf("unrecorded payload: Error = %q", res.Error)
	}
}

func TestBuild(t *testing.T) {
	cfg := config.ProviderSettings{
		Default:      "local",
		Endpoint:     "http://workers:8088",
		JWTSecretEnv: "RELAY_JWT",
		Roles: map[string]config.RoleProvider{
			"planner": {Kind: "remote"},
		},
	}
	handlers := map[string]Handler{
		"analyzer": HandlerFunc(func(context.Context, contract.TaskEnvelope) (any, error) { return nil, nil }),
	}
	getenv := func(k string) string {
		if k == "RELAY_JWT" {
			return "secret"
		}
		return ""
	}

	reg, err := Build([]string{"analyzer", "planner"}, cfg, "dev", handlers, BuildOptions{Getenv: getenv})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := reg["analyzer"].(*Local); !ok {
		t.Errorf("analyzer = %T, want *Local", reg["analyzer"])
	}
	remote, ok := reg["planner"].(*Remote)
	if !ok {
		t.Fatalf("planner = %T, want *Remote", reg["planner"])
	}
	if remote.signer == nil {
		t.Error("expected signer from RELAY_JWT")
	}

	if _, err := Build([]string{"janitor"}, cfg, "dev", handlers, BuildOptions{}); err == nil {
		t.Error("expected error for role without local worker")
	}

	rp, _ := NewReplay(nil)
	reg, err = Build([]string{"janitor"}, cfg, "dev", nil, BuildOptions{Replay: rp})
	if err != nil || reg["janitor"] != rp {
		t.Errorf("replay build = %v, %v", reg, err)
	}
}
