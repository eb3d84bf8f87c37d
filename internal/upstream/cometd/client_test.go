package cometd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/upstream"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

const topic = "/event/AssetCancelInitiatedEvent"

// fakePlatform serves the SOAP login and a minimal Bayeux endpoint
type fakePlatform struct {
	t          *testing.T
	server     *httptest.Server
	events     chan json.RawMessage
	loginFault string
	subscribe  func(m message) message
	connectErr string

	mu            sync.Mutex
	subscribeExts []map[string]interface{}
	handshakes    int
	disconnects   int
	authHeaders   []string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	f := &fakePlatform{t: t, events: make(chan json.RawMessage, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/services/Soap/u/55.0", f.handleLogin)
	mux.HandleFunc("/cometd/55.0", f.handleBayeux)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePlatform) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	assert.Equal(f.t, "login", r.Header.Get("SOAPAction"))
	assert.Contains(f.t, string(body), "<username>user@example.com</username>")
	assert.Contains(f.t, string(body), "<password>p&amp;ss</password>")

	w.Header().Set("Content-Type", "text/xml")
	if f.loginFault != "" {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode>sf:INVALID_LOGIN</faultcode><faultstring>%s</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`, f.loginFault)
		return
	}
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com"><soapenv:Body><loginResponse><result><serverUrl>%s/services/Soap/u/55.0/00Dxx</serverUrl><sessionId>SESSION-1</sessionId><userId>005xx</userId><userInfo><organizationId>00Dxx</organizationId></userInfo></result></loginResponse></soapenv:Body></soapenv:Envelope>`, f.server.URL)
}

func (f *fakePlatform) handleBayeux(w http.ResponseWriter, r *http.Request) {
	var in []message
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		f.t.Errorf("decode bayeux request: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	f.mu.Unlock()

	var out []message
	for _, m := range in {
		switch m.Channel {
		case channelHandshake:
			f.mu.Lock()
			f.handshakes++
			f.mu.Unlock()
			http.SetCookie(w, &http.Cookie{Name: "BAYEUX_BROWSER", Value: "b1"})
			out = append(out, message{Channel: channelHandshake, ClientID: "client-1", Successful: true,
				Advice: &advice{Reconnect: reconnectRetry, Timeout: 100}})
		case channelSubscribe:
			f.mu.Lock()
			f.subscribeExts = append(f.subscribeExts, m.Ext)
			f.mu.Unlock()
			reply := message{Channel: channelSubscribe, Subscription: m.Subscription, Successful: true}
			if f.subscribe != nil {
				reply = f.subscribe(m)
			}
			out = append(out, reply)
		case channelConnect:
			if f.connectErr != "" {
				out = append(out, message{Channel: channelConnect, Error: f.connectErr})
				continue
			}
			if _, err := r.Cookie("BAYEUX_BROWSER"); err != nil {
				f.t.Errorf("connect without bayeux cookie")
			}
			select {
			case data := <-f.events:
				out = append(out, message{Channel: topic, Data: data})
			case <-time.After(50 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
			out = append(out, message{Channel: channelConnect, Successful: true,
				Advice: &advice{Reconnect: reconnectRetry, Timeout: 100}})
		case channelDisconnect:
			f.mu.Lock()
			f.disconnects++
			f.mu.Unlock()
			out = append(out, message{Channel: channelDisconnect, Successful: true})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func newTestClient(t *testing.T, f *fakePlatform) *Client {
	t.Helper()
	c, err := NewClient(Config{
		LoginURL:       f.server.URL,
		Username:       "user@example.com",
		Password:       "p&ss",
		APIVersion:     "55.0",
		RequestTimeout: 2 * time.Second,
	}, logger.Nop())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{APIVersion: "55.0"}, logger.Nop())
	assert.Error(t, err)
	_, err = NewClient(Config{LoginURL: "https://login.example.com"}, logger.Nop())
	assert.Error(t, err)
}

func TestClient_Connect(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	require.NoError(t, c.Connect(context.Background()))

	s := c.Session()
	require.NotNil(t, s)
	assert.Equal(t, "SESSION-1", s.ID)
	assert.Equal(t, f.server.URL, s.InstanceURL)
	assert.Equal(t, "005xx", s.UserID)
	assert.Equal(t, "00Dxx", s.OrganizationID)

	require.NoError(t, c.Close())
	assert.Nil(t, c.Session())
}

func TestClient_Connect_InvalidLogin(t *testing.T) {
	f := newFakePlatform(t)
	f.loginFault = "INVALID_LOGIN: Invalid username, password, security token; or user locked out."
	c := newTestClient(t, f)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, upstream.ErrAuthentication))
	assert.True(t, upstream.IsPermanent(err))
	assert.Contains(t, err.Error(), "INVALID_LOGIN")
}

func TestClient_SubscribeBeforeConnect(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)

	err := c.Subscribe(context.Background(), entity.StreamSubscription{Topic: topic}, func(*entity.RelayMessage) {})
	assert.ErrorIs(t, err, upstream.ErrNotConnected)
}

func TestClient_SubscribeDeliversEventsInOrder(t *testing.T) {
	f := newFakePlatform(t)
	c := newTestClient(t, f)
	require.NoError(t, c.Connect(context.Background()))

	for i := 1; i <= 3; i++ {
		f.events <- json.RawMessage(fmt.Sprintf(
			`{"schema":"s1","payload":{"RequestId":"req-%d","HasErrors":false},"event":{"replayId":%d}}`, i, 100+i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []*entity.RelayMessage
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, entity.StreamSubscription{Topic: topic, Replay: entity.ReplayNewOnly},
			func(msg *entity.RelayMessage) {
				mu.Lock()
				got = append(got, msg)
				n := len(got)
				mu.Unlock()
				if n == 3 {
					cancel()
				}
			})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	for i, msg := range got {
		p, err := entity.DecodePayload(msg.Data)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("req-%d", i+1), p.Payload.RequestID)
		assert.Equal(t, int64(101+i), msg.ReplayID)
		assert.Equal(t, topic, msg.Topic)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.subscribeExts, 1)
	replay, ok := f.subscribeExts[0]["replay"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(-1), replay[topic])
	assert.Equal(t, 1, f.disconnects)
	for _, h := range f.authHeaders {
		assert.Equal(t, "Bearer SESSION-1", h)
	}
}

func TestClient_SubscribeDenied(t *testing.T) {
	f := newFakePlatform(t)
	f.subscribe = func(m message) message {
		return message{Channel: channelSubscribe, Error: "400::The channel you requested to subscribe to does not exist"}
	}
	c := newTestClient(t, f)
	require.NoError(t, c.Connect(context.Background()))

	err := c.Subscribe(context.Background(), entity.StreamSubscription{Topic: topic}, func(*entity.RelayMessage) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrSubscriptionDenied)
	assert.True(t, upstream.IsPermanent(err))
}

func TestClient_ConnectUnauthorizedExpiresSession(t *testing.T) {
	f := newFakePlatform(t)
	f.connectErr = "401::Authentication invalid"
	c := newTestClient(t, f)
	require.NoError(t, c.Connect(context.Background()))

	err := c.Subscribe(context.Background(), entity.StreamSubscription{Topic: topic}, func(*entity.RelayMessage) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrSessionExpired)
	assert.False(t, upstream.IsPermanent(err))
}

func TestClient_UnknownClientTriggersRehandshake(t *testing.T) {
	f := newFakePlatform(t)
	f.connectErr = "403::Unknown client"
	c := newTestClient(t, f)
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			f.mu.Lock()
			n := f.handshakes
			f.mu.Unlock()
			if n >= 2 {
				cancel()
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	err := c.Subscribe(ctx, entity.StreamSubscription{Topic: topic}, func(*entity.RelayMessage) {})
	assert.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.GreaterOrEqual(t, f.handshakes, 2)
	assert.GreaterOrEqual(t, len(f.subscribeExts), 2, "re-handshake must re-subscribe")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "403", errorCode("403::Unknown client"))
	assert.Equal(t, "", errorCode("no code"))
	assert.True(t, isMeta("/meta/connect"))
	assert.False(t, isMeta(topic))
	assert.Equal(t, int64(7), replayIDOf(json.RawMessage(`{"event":{"replayId":7}}`)))
	assert.Equal(t, int64(0), replayIDOf(json.RawMessage(`{"event":{"replayId":0}}`)))
	assert.Equal(t, int64(-1), replayIDOf(json.RawMessage(`{"payload":{"RequestId":"req-1"}}`)))
	assert.Equal(t, int64(-1), replayIDOf(json.RawMessage(`not json`)))
	assert.True(t, strings.HasSuffix(truncate([]byte(strings.Repeat("a", 10)), 4), "..."))
}
