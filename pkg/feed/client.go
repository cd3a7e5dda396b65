// Package feed 通过 WebSocket 向外部观察者推送出牌事件
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/card"
)

// DefaultPath 服务端 WebSocket 路径
const DefaultPath = "/ws/feed"

const (
	queueSize = 100
	maxLogs   = 500
)

// ErrNotConnected 未连接
var ErrNotConnected = errors.New("未连接到服务端")

// Client WebSocket 推送客户端，实现 engine.Publisher
type Client struct {
	config *ClientConfig
	conn   *websocket.Conn

	sessionID   string
	clientID    string
	isConnected bool
	status      ClientStatus

	outgoing chan *Message
	stopCh   chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup

	onStatusChange StatusCallback
	handler        Handler
	summary        SummaryFunc

	logs   []LogEntry
	logsMu sync.Mutex
	flog   *logger.Logger

	mu sync.RWMutex
}

// NewClient 创建新的推送客户端
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	return &Client{
		config:    config,
		sessionID: uuid.NewString(),
		status:    StatusDisconnected,
		outgoing:  make(chan *Message, queueSize),
		stopCh:    make(chan struct{}),
		logs:      make([]LogEntry, 0, maxLogs),
		flog:      logger.Named("feed"),
	}
}

// SetStatusCallback 设置状态变更回调
func (c *Client) SetStatusCallback(cb StatusCallback) {
	c.mu.Lock()
	c.onStatusChange = cb
	c.mu.Unlock()
}

// SetHandler 设置服务端命令处理器
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// SetSummary 设置心跳附带的概要
func (c *Client) SetSummary(fn SummaryFunc) {
	c.mu.Lock()
	c.summary = fn
	c.mu.Unlock()
}

// SessionID 当前会话 ID，会话结束后轮换
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// GetStatus 返回状态与服务端分配的客户端 ID
func (c *Client) GetStatus() (ClientStatus, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.clientID
}

// Connect 连接到服务端
func (c *Client) Connect(serverURL, accessKey, secretKey string) error {
	c.mu.Lock()
	c.config.ServerURL = serverURL
	c.config.AccessKey = accessKey
	c.config.SecretKey = secretKey
	c.quit = make(chan struct{})
	c.mu.Unlock()

	return c.doConnect()
}

// Run 按配置连接并保持到 ctx 结束；连接失败时按重连延迟反复重试
func (c *Client) Run(ctx context.Context) error {
	c.mu.RLock()
	cfg := *c.config
	c.mu.RUnlock()

	for attempt := 0; ; attempt++ {
		err := c.Connect(cfg.ServerURL, cfg.AccessKey, cfg.SecretKey)
		if err == nil {
			break
		}
		delay := 5
		if n := len(cfg.ReconnectDelays); n > 0 {
			delay = cfg.ReconnectDelays[min(attempt, n-1)]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(delay) * time.Second):
		}
	}

	<-ctx.Done()
	c.Disconnect()
	return ctx.Err()
}

// buildWsURL 根据 serverURL 构建 WebSocket URL
//
//   - localhost:3001 → ws://localhost:3001/ws/feed
//   - http://localhost:3001 → ws://localhost:3001/ws/feed
//   - https://example.com → wss://example.com/ws/feed
//   - example.com → wss://example.com/ws/feed
func buildWsURL(serverURL string) string {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")

	if strings.HasPrefix(serverURL, "ws://") || strings.HasPrefix(serverURL, "wss://") {
		u, err := url.Parse(serverURL)
		if err != nil {
			return serverURL
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = DefaultPath
		}
		return u.String()
	}
	if rest, ok := strings.CutPrefix(serverURL, "http://"); ok {
		return "ws://" + rest + DefaultPath
	}
	if rest, ok := strings.CutPrefix(serverURL, "https://"); ok {
		return "wss://" + rest + DefaultPath
	}
	if isLocalAddress(serverURL) {
		return "ws://" + serverURL + DefaultPath
	}
	return "wss://" + serverURL + DefaultPath
}

// isLocalAddress 判断是否为本地地址
func isLocalAddress(addr string) bool {
	host := addr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || host == "::1" || host == ""
}

// doConnect 执行连接与认证
func (c *Client) doConnect() error {
	c.mu.RLock()
	serverURL := c.config.ServerURL
	accessKey := c.config.AccessKey
	secretKey := c.config.SecretKey
	sessionID := c.sessionID
	c.mu.RUnlock()

	wsURL := buildWsURL(serverURL)
	c.log("INFO", fmt.Sprintf("Connecting to %s...", wsURL))
	c.setStatus(StatusConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		c.log("ERROR", fmt.Sprintf("WebSocket connection failed: %v", err))
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("连接失败: %w", err)
	}

	fail := func(msg string, err error) error {
		c.log("ERROR", fmt.Sprintf("%s: %v", msg, err))
		conn.Close()
		c.setStatus(StatusDisconnected)
		return err
	}

	hello := ConnectMessage{
		Type:       "connect",
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		SessionID:  sessionID,
		SystemInfo: GetSystemInfo(),
	}
	data, err := json.Marshal(hello)
	if err != nil {
		return fail("Failed to marshal connect message", fmt.Errorf("序列化认证消息失败: %w", err))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fail("Failed to send connect message", fmt.Errorf("发送认证消息失败: %w", err))
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, respData, err := conn.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fail("Failed to read connect response", fmt.Errorf("读取认证响应失败: %w", err))
	}

	var resp ConnectResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return fail("Failed to parse connect response", fmt.Errorf("解析认证响应失败: %w", err))
	}
	if !resp.Success {
		return fail("Connect rejected", fmt.Errorf("认证被拒绝: %s", resp.Message))
	}

	stopCh := make(chan struct{})
	outgoing := make(chan *Message, queueSize)
	c.mu.Lock()
	c.conn = conn
	c.clientID = resp.ClientID
	c.isConnected = true
	c.stopCh = stopCh
	c.outgoing = outgoing
	c.mu.Unlock()

	c.log("INFO", fmt.Sprintf("Connected as %s (session %s)", resp.ClientID, sessionID))
	c.setStatus(StatusConnected)

	c.wg.Add(3)
	go c.sendLoop(conn, outgoing, stopCh)
	go c.receiveLoop(conn, stopCh)
	go c.heartbeatLoop(stopCh)

	return nil
}

// sendLoop 发送消息循环
func (c *Client) sendLoop(conn *websocket.Conn, outgoing <-chan *Message, stopCh <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case msg := <-outgoing:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log("ERROR", fmt.Sprintf("Failed to marshal message: %v", err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log("ERROR", fmt.Sprintf("Failed to send message: %v", err))
				return
			}
		}
	}
}

// receiveLoop 接收消息循环，读失败时触发重连
func (c *Client) receiveLoop(conn *websocket.Conn, stopCh <-chan struct{}) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
			default:
				c.log("ERROR", fmt.Sprintf("WebSocket read error: %v", err))
				go c.attemptReconnect()
			}
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log("WARN", fmt.Sprintf("Failed to parse server message: %v", err))
			continue
		}
		c.handleServerMessage(&msg)
	}
}

// handleServerMessage 处理服务端消息
func (c *Client) handleServerMessage(msg *ServerMessage) {
	switch {
	case msg.Ping != nil:
		c.handlePing(msg.MessageID, msg.Ping)
	case msg.ResetSession != nil:
		c.handleReset(msg.MessageID, msg.ResetSession)
	case msg.Calibrate != nil:
		c.handleCalibrate(msg.MessageID, msg.Calibrate)
	}
}

// handlePing 处理 Ping
func (c *Client) handlePing(msgID string, ping *Ping) {
	c.log("DEBUG", "Received ping, sending pong")
	m := c.newMessage()
	m.MessageID = msgID
	m.Pong = &Pong{
		ClientTimestamp: time.Now().UnixMilli(),
		ServerTimestamp: ping.Timestamp,
	}
	c.sendMessage(m)
}

// handleReset 处理重置命令
func (c *Client) handleReset(msgID string, cmd *ResetSession) {
	c.log("INFO", fmt.Sprintf("Received reset: %s", cmd.Reason))

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()

	ack := &Ack{Command: "resetSession", Success: h != nil}
	if h != nil {
		h.Reset()
	} else {
		ack.Message = "未设置命令处理器"
	}
	c.sendAck(msgID, ack)
}

// handleCalibrate 处理校准命令
func (c *Client) handleCalibrate(msgID string, cmd *Calibrate) {
	c.log("INFO", fmt.Sprintf("Received calibrate: %s -> %s", cmd.Token, cmd.CardID))

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()

	ack := &Ack{Command: "calibrate"}
	switch cd, err := card.Parse(cmd.CardID); {
	case h == nil:
		ack.Message = "未设置命令处理器"
	case err != nil:
		ack.Message = err.Error()
	default:
		keys, err := h.Calibrate(cmd.Token, cd)
		if err != nil {
			ack.Message = err.Error()
		} else {
			ack.Success = true
			ack.Message = fmt.Sprintf("写入 %d 个键", len(keys))
		}
	}
	c.sendAck(msgID, ack)
}

func (c *Client) sendAck(msgID string, ack *Ack) {
	m := c.newMessage()
	m.MessageID = msgID
	m.Ack = ack
	c.sendMessage(m)
}

// heartbeatLoop 心跳循环
func (c *Client) heartbeatLoop(stopCh <-chan struct{}) {
	defer c.wg.Done()

	c.mu.RLock()
	interval := c.config.HeartbeatInterval
	c.mu.RUnlock()

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

// sendHeartbeat 发送心跳
func (c *Client) sendHeartbeat() {
	c.mu.RLock()
	summary := c.summary
	c.mu.RUnlock()

	hb := &Heartbeat{}
	if summary != nil {
		hb.Summary = summary()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	hb.Resource = GetResourceInfo(ctx)
	cancel()

	m := c.newMessage()
	m.Heartbeat = hb
	c.sendMessage(m)
	c.log("DEBUG", "Heartbeat sent")
}

// newMessage 带唯一 ID 与当前会话的空消息
func (c *Client) newMessage() *Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Message{
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		SessionID: c.sessionID,
		ClientID:  c.clientID,
	}
}

// sendMessage 发送消息到队列，队列满时丢弃
func (c *Client) sendMessage(msg *Message) bool {
	c.mu.RLock()
	outgoing := c.outgoing
	c.mu.RUnlock()

	select {
	case outgoing <- msg:
		return true
	default:
		c.log("WARN", "Outgoing message queue full, dropping message")
		return false
	}
}

// publish 仅在已连接时入队，断线期间的事件直接丢弃
func (c *Client) publish(msg *Message) bool {
	if !c.IsConnected() {
		return false
	}
	return c.sendMessage(msg)
}

// PublishCards 推送新出现的牌，非法牌不会外发
func (c *Client) PublishCards(cards []card.Card) {
	ids := card.IDs(cards)
	if len(ids) == 0 {
		return
	}
	m := c.newMessage()
	m.Cards = &Cards{Cards: ids}
	c.publish(m)
}

// PublishRoundEnd 推送一局结束
func (c *Client) PublishRoundEnd() {
	m := c.newMessage()
	m.RoundEnd = &Event{}
	c.publish(m)
}

// PublishSessionEnd 推送会话结束并轮换会话 ID
func (c *Client) PublishSessionEnd() {
	m := c.newMessage()
	m.SessionEnd = &Event{}
	c.publish(m)

	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.mu.Unlock()
}

// dropConn 停止当前连接的循环并关闭连接
func (c *Client) dropConn() bool {
	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return false
	}
	c.isConnected = false
	close(c.stopCh)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	return true
}

// Disconnect 断开连接并停止重连
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.quit != nil {
		select {
		case <-c.quit:
		default:
			close(c.quit)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	if !c.dropConn() {
		return nil
	}

	c.mu.Lock()
	c.clientID = ""
	c.mu.Unlock()

	c.log("INFO", "Disconnected")
	c.setStatus(StatusDisconnected)
	return nil
}

// attemptReconnect 按延迟序列尝试重连
func (c *Client) attemptReconnect() {
	if !c.dropConn() {
		return
	}
	c.setStatus(StatusReconnecting)

	c.mu.RLock()
	delays := append([]int(nil), c.config.ReconnectDelays...)
	quit := c.quit
	c.mu.RUnlock()

	for i, delay := range delays {
		c.log("INFO", fmt.Sprintf("Reconnect attempt %d/%d in %ds...", i+1, len(delays), delay))
		select {
		case <-quit:
			return
		case <-time.After(time.Duration(delay) * time.Second):
		}

		if err := c.doConnect(); err == nil {
			c.log("INFO", "Reconnected successfully!")
			return
		}
	}

	c.log("ERROR", "All reconnect attempts failed")
	c.setStatus(StatusDisconnected)
}

// setStatus 设置状态并触发回调
func (c *Client) setStatus(status ClientStatus) {
	c.mu.Lock()
	c.status = status
	cb := c.onStatusChange
	c.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

// log 记录到环形缓冲并写入日志
func (c *Client) log(level, message string) {
	c.logsMu.Lock()
	if len(c.logs) >= maxLogs {
		c.logs = c.logs[1:]
	}
	c.logs = append(c.logs, LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
	})
	c.logsMu.Unlock()

	switch level {
	case "DEBUG":
		c.flog.Debug("%s", message)
	case "WARN":
		c.flog.Warn("%s", message)
	case "ERROR":
		c.flog.Error("%s", message)
	default:
		c.flog.Info("%s", message)
	}
}

// GetLogs 获取最近的日志
func (c *Client) GetLogs(limit int) []LogEntry {
	c.logsMu.Lock()
	defer c.logsMu.Unlock()

	if limit <= 0 || limit > len(c.logs) {
		limit = len(c.logs)
	}
	start := len(c.logs) - limit
	out := make([]LogEntry, limit)
	copy(out, c.logs[start:])
	return out
}
