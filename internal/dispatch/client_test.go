package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fortwave/netclient/internal/protocol"
)

func TestSendStampsIdentityAndCounter(t *testing.T) {
	var bodies []protocol.ClientAction
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/matches/m-1/actions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var action protocol.ClientAction
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			t.Errorf("decode action: %v", err)
		}
		bodies = append(bodies, action)
		_ = json.NewEncoder(w).Encode(protocol.ActionAck{OK: true, Seq: uint64(len(bodies))})
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	first, err := protocol.NewCoinDepositAction("pad-1", 5)
	if err != nil {
		t.Fatalf("build action: %v", err)
	}
	ack, err := client.Send(context.Background(), "m-1", first)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !ack.OK || ack.Seq != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}

	second, err := protocol.NewWeaponPickAction("wpn-7")
	if err != nil {
		t.Fatalf("build action: %v", err)
	}
	if _, err := client.Send(context.Background(), "m-1", second); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(bodies))
	}
	for i, body := range bodies {
		if body.PlayerID != "p-test" {
			t.Fatalf("submission %d missing identity: %+v", i, body)
		}
		if body.ClientSeq != uint64(i+1) {
			t.Fatalf("client seq not strictly increasing: %+v", bodies)
		}
	}
}

func TestSendSurfacesServerRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"pad already owned"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	action, err := protocol.NewTowerDecisionAction("pad-1", "bld-3")
	if err != nil {
		t.Fatalf("build action: %v", err)
	}
	_, err = client.Send(context.Background(), "m-1", action)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Status != http.StatusConflict || reqErr.Message != "pad already owned" {
		t.Fatalf("unexpected rejection %+v", reqErr)
	}
}

func TestSendTreatsRefusedAckAsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.ActionAck{OK: false, Error: "not the decision owner"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	action, err := protocol.NewTowerDecisionAction("pad-1", "bld-3")
	if err != nil {
		t.Fatalf("build action: %v", err)
	}
	_, err = client.Send(context.Background(), "m-1", action)

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Message != "not the decision owner" {
		t.Fatalf("unexpected rejection %+v", reqErr)
	}
}

func TestRejectionFallsBackToStatusText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	_, err := client.State(context.Background(), "m-1")

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Message != http.StatusText(http.StatusServiceUnavailable) {
		t.Fatalf("unexpected message %q", reqErr.Message)
	}
}

func TestRequestTimeoutIsMarked(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "p-test", nil, WithTimeout(30*time.Millisecond))
	_, err := client.State(context.Background(), "m-1")

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if !reqErr.Timeout {
		t.Fatalf("expected timeout flag, got %+v", reqErr)
	}
}

func TestRejoinCarriesTheCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rejoin") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body joinRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.LastAppliedSeq != 17 {
			t.Errorf("expected cursor 17, got %d", body.LastAppliedSeq)
		}
		missed, _ := protocol.NewSequencedMessage(protocol.TypeLevelUp, 18, protocol.LevelUpPayload{PlayerID: body.PlayerID, Level: 2})
		_ = json.NewEncoder(w).Encode(protocol.SyncResult{
			State:  protocol.MatchState{MatchID: "m-1", Seq: 18, Status: protocol.MatchStatusPlaying},
			Missed: []protocol.ServerMessage{missed},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	result, err := client.Rejoin(context.Background(), "m-1", 17)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if result.State.Seq != 18 || len(result.Missed) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Missed[0].HasSeq || result.Missed[0].Seq != 18 {
		t.Fatalf("missed backlog lost its sequencing: %+v", result.Missed[0])
	}
}

func TestSyncPassesTheCursorInQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != "41" {
			t.Errorf("expected since=41, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(protocol.SyncResult{State: protocol.MatchState{Seq: 41}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	if _, err := client.Sync(context.Background(), "m-1", 41); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestBestEffortSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "p-test", nil)
	client.SendBestEffort(context.Background(), "m-1", protocol.NewDisconnectAction())
}

func TestNewPlayerIDIsAnonymousAndFresh(t *testing.T) {
	first := NewPlayerID()
	second := NewPlayerID()
	if !strings.HasPrefix(first, "p-") || len(first) != len("p-")+16 {
		t.Fatalf("unexpected identity shape %q", first)
	}
	if first == second {
		t.Fatal("identities must be fresh per call")
	}
}
