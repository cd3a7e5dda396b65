package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zoeyai/belottracker/pkg/card"
)

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()

	t.Logf("系统信息:")
	t.Logf("  Hostname: %s", info.Hostname)
	t.Logf("  Platform: %s", info.Platform)
	t.Logf("  OSVersion: %s", info.OSVersion)

	if info.Platform == "" {
		t.Error("Platform 不应为空")
	}
	if info.ClientVersion != Version {
		t.Errorf("ClientVersion 应为 %s, 实际为 %s", Version, info.ClientVersion)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.HeartbeatInterval != 5 {
		t.Errorf("HeartbeatInterval 应为 5, 实际为 %d", config.HeartbeatInterval)
	}
	if len(config.ReconnectDelays) == 0 {
		t.Error("ReconnectDelays 不应为空")
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(nil)

	if client == nil {
		t.Fatal("NewClient 返回 nil")
	}
	if client.IsConnected() {
		t.Error("新建的客户端不应处于连接状态")
	}
	status, clientID := client.GetStatus()
	if status != StatusDisconnected {
		t.Errorf("新建客户端状态应为 disconnected, 实际为 %s", status)
	}
	if clientID != "" {
		t.Error("新建客户端 clientID 应为空")
	}
	if client.SessionID() == "" {
		t.Error("新建客户端应生成会话 ID")
	}
}

func TestClientCallbacks(t *testing.T) {
	client := NewClient(nil)

	var received ClientStatus
	client.SetStatusCallback(func(status ClientStatus) {
		received = status
	})
	client.setStatus(StatusConnecting)
	if received != StatusConnecting {
		t.Errorf("状态回调未正确触发: 期望 %s, 实际 %s", StatusConnecting, received)
	}
}

func TestClientLogs(t *testing.T) {
	client := NewClient(nil)

	client.log("INFO", "Test message 1")
	client.log("WARN", "Test message 2")
	client.log("ERROR", "Test message 3")

	logs := client.GetLogs(10)
	if len(logs) != 3 {
		t.Fatalf("日志数量应为 3, 实际为 %d", len(logs))
	}
	if logs[0].Level != "INFO" || logs[0].Message != "Test message 1" {
		t.Error("第一条日志内容不正确")
	}
	if last := client.GetLogs(1); len(last) != 1 || last[0].Message != "Test message 3" {
		t.Errorf("GetLogs(1) 应返回最后一条, 实际 %+v", last)
	}

	for i := 0; i < maxLogs+10; i++ {
		client.log("DEBUG", "filler")
	}
	if n := len(client.GetLogs(0)); n != maxLogs {
		t.Errorf("日志应保留 %d 条, 实际 %d", maxLogs, n)
	}
}

func TestBuildWsURL(t *testing.T) {
	cases := map[string]string{
		"localhost:3001":          "ws://localhost:3001/ws/feed",
		"http://localhost:3001":   "ws://localhost:3001/ws/feed",
		"https://example.com":     "wss://example.com/ws/feed",
		"wss://example.com":       "wss://example.com/ws/feed",
		"ws://example.com/custom": "ws://example.com/custom",
		"example.com":             "wss://example.com/ws/feed",
		"127.0.0.1:8080/":         "ws://127.0.0.1:8080/ws/feed",
	}
	for in, want := range cases {
		if got := buildWsURL(in); got != want {
			t.Errorf("buildWsURL(%q) = %q, 期望 %q", in, got, want)
		}
	}
}

func TestConnectWithoutServer(t *testing.T) {
	client := NewClient(nil)

	err := client.Connect("localhost:59999", "test_key", "test_secret")
	if err == nil {
		t.Error("连接不存在的服务器应返回错误")
		client.Disconnect()
	}
	if client.IsConnected() {
		t.Error("连接失败后不应处于连接状态")
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	client := NewClient(nil)
	client.PublishCards([]card.Card{card.MustParse("SA")})
	client.PublishRoundEnd()

	if n := len(client.outgoing); n != 0 {
		t.Errorf("未连接时不应入队, 实际 %d 条", n)
	}
}

// feedServer 测试用服务端
type feedServer struct {
	t      *testing.T
	reject bool

	mu       sync.Mutex
	conn     *websocket.Conn
	hello    ConnectMessage
	messages chan Message
}

func newFeedServer(t *testing.T, reject bool) (*feedServer, *httptest.Server) {
	fs := &feedServer{t: t, reject: reject, messages: make(chan Message, 32)}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("升级失败: %v", err)
			return
		}
		defer conn.Close()

		var hello ConnectMessage
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		fs.mu.Lock()
		fs.hello = hello
		fs.conn = conn
		fs.mu.Unlock()

		resp := ConnectResponse{Type: "connected", Success: !fs.reject, ClientID: "client-1"}
		if fs.reject {
			resp.Message = "密钥错误"
		}
		if err := conn.WriteJSON(resp); err != nil || fs.reject {
			return
		}
		for {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if m.Heartbeat != nil {
				continue
			}
			fs.messages <- m
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *feedServer) send(msg ServerMessage) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.conn.WriteJSON(msg); err != nil {
		fs.t.Errorf("服务端发送失败: %v", err)
	}
}

func (fs *feedServer) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-fs.messages:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("等待客户端消息超时")
		return Message{}
	}
}

type fakeHandler struct {
	mu     sync.Mutex
	resets int
	token  string
	card   card.Card
}

func (h *fakeHandler) Reset() {
	h.mu.Lock()
	h.resets++
	h.mu.Unlock()
}

func (h *fakeHandler) Calibrate(tok string, c card.Card) ([]string, error) {
	h.mu.Lock()
	h.token, h.card = tok, c
	h.mu.Unlock()
	return []string{tok}, nil
}

func TestPublishRoundTrip(t *testing.T) {
	fs, srv := newFeedServer(t, false)
	client := NewClient(nil)
	handler := &fakeHandler{}
	client.SetHandler(handler)

	if err := client.Connect(srv.URL, "ak", "sk"); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer client.Disconnect()

	if _, id := client.GetStatus(); id != "client-1" {
		t.Errorf("clientID 应为 client-1, 实际 %q", id)
	}
	fs.mu.Lock()
	hello := fs.hello
	fs.mu.Unlock()
	if hello.AccessKey != "ak" || hello.SessionID != client.SessionID() {
		t.Errorf("认证消息不正确: %+v", hello)
	}

	client.PublishCards([]card.Card{card.MustParse("SA"), {}, card.MustParse("H10")})
	m := fs.next(t)
	if m.Cards == nil || len(m.Cards.Cards) != 2 || m.Cards.Cards[0] != "SA" || m.Cards.Cards[1] != "H10" {
		t.Fatalf("cards 消息不正确: %+v", m)
	}
	if m.MessageID == "" || m.SessionID != client.SessionID() {
		t.Errorf("消息缺少 ID 或会话: %+v", m)
	}

	client.PublishCards([]card.Card{{}})
	client.PublishRoundEnd()
	if m := fs.next(t); m.RoundEnd == nil {
		t.Fatalf("应只收到 roundEnd, 实际 %+v", m)
	}

	before := client.SessionID()
	client.PublishSessionEnd()
	if m := fs.next(t); m.SessionEnd == nil || m.SessionID != before {
		t.Fatalf("sessionEnd 消息不正确: %+v", m)
	}
	if client.SessionID() == before {
		t.Error("会话结束后应轮换会话 ID")
	}

	fs.send(ServerMessage{MessageID: "p1", Ping: &Ping{Timestamp: 42}})
	if m := fs.next(t); m.Pong == nil || m.MessageID != "p1" || m.Pong.ServerTimestamp != 42 {
		t.Fatalf("pong 不正确: %+v", m)
	}

	fs.send(ServerMessage{MessageID: "r1", ResetSession: &ResetSession{Reason: "manual"}})
	if m := fs.next(t); m.Ack == nil || !m.Ack.Success || m.Ack.Command != "resetSession" {
		t.Fatalf("reset ack 不正确: %+v", m)
	}

	fs.send(ServerMessage{MessageID: "c1", Calibrate: &Calibrate{Token: "/img/x.png", CardID: "DQ"}})
	if m := fs.next(t); m.Ack == nil || !m.Ack.Success {
		t.Fatalf("calibrate ack 不正确: %+v", m)
	}
	fs.send(ServerMessage{MessageID: "c2", Calibrate: &Calibrate{Token: "/img/y.png", CardID: "ZZ"}})
	if m := fs.next(t); m.Ack == nil || m.Ack.Success || m.Ack.Message == "" {
		t.Fatalf("非法牌应校准失败: %+v", m)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.resets != 1 {
		t.Errorf("Reset 应调用 1 次, 实际 %d", handler.resets)
	}
	if handler.token != "/img/x.png" || handler.card != card.MustParse("DQ") {
		t.Errorf("Calibrate 参数不正确: %s %v", handler.token, handler.card)
	}
}

func TestConnectRejected(t *testing.T) {
	_, srv := newFeedServer(t, true)
	client := NewClient(nil)

	if err := client.Connect(srv.URL, "ak", "bad"); err == nil {
		t.Fatal("被拒绝时应返回错误")
	}
	if client.IsConnected() {
		t.Error("被拒绝后不应处于连接状态")
	}
}

func TestMessageOmitsEmptyEvents(t *testing.T) {
	data, err := json.Marshal(&Message{MessageID: "m", Cards: &Cards{Cards: []string{"SA"}}})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	for _, k := range []string{"roundEnd", "sessionEnd", "pong", "ack", "heartbeat"} {
		if _, ok := raw[k]; ok {
			t.Errorf("空事件 %s 不应出现在 JSON 中", k)
		}
	}
}

// BenchmarkGetSystemInfo 基准测试
func BenchmarkGetSystemInfo(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GetSystemInfo()
	}
}

func TestRunUntilCancel(t *testing.T) {
	fs, srv := newFeedServer(t, false)
	client := NewClient(&ClientConfig{ServerURL: srv.URL, HeartbeatInterval: 5, ReconnectDelays: []int{1}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for !client.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("Run 应建立连接")
		}
		time.Sleep(10 * time.Millisecond)
	}
	client.PublishRoundEnd()
	if m := fs.next(t); m.RoundEnd == nil {
		t.Fatalf("应收到 roundEnd, 实际 %+v", m)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run 未在取消后返回")
	}
	if client.IsConnected() {
		t.Error("取消后不应处于连接状态")
	}
}
