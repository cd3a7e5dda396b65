package feed

// ConnectMessage 认证消息
type ConnectMessage struct {
	Type       string      `json:"type"`
	AccessKey  string      `json:"accessKey"`
	SecretKey  string      `json:"secretKey"`
	SessionID  string      `json:"sessionId"`
	SystemInfo *SystemInfo `json:"systemInfo,omitempty"`
}

// ConnectResponse 认证响应
type ConnectResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ClientID string `json:"clientId"`
}

// ServerMessage 服务端消息
type ServerMessage struct {
	MessageID    string        `json:"messageId"`
	Timestamp    int64         `json:"timestamp"`
	Ping         *Ping         `json:"ping,omitempty"`
	ResetSession *ResetSession `json:"resetSession,omitempty"`
	Calibrate    *Calibrate    `json:"calibrate,omitempty"`
}

// Ping Ping 命令
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// ResetSession 重置会话命令
type ResetSession struct {
	Reason string `json:"reason,omitempty"`
}

// Calibrate 校准命令
type Calibrate struct {
	Token  string `json:"token"`
	CardID string `json:"cardId"`
}

// Message 客户端发出的消息
type Message struct {
	MessageID  string     `json:"messageId"`
	Timestamp  int64      `json:"timestamp"`
	SessionID  string     `json:"sessionId"`
	ClientID   string     `json:"clientId,omitempty"`
	Cards      *Cards     `json:"cards,omitempty"`
	RoundEnd   *Event     `json:"roundEnd,omitempty"`
	SessionEnd *Event     `json:"sessionEnd,omitempty"`
	Pong       *Pong      `json:"pong,omitempty"`
	Ack        *Ack       `json:"ack,omitempty"`
	Heartbeat  *Heartbeat `json:"heartbeat,omitempty"`
}

// Cards 新出现的牌
type Cards struct {
	Cards []string `json:"cards"`
}

// Event 无负载事件
type Event struct {
	Reason string `json:"reason,omitempty"`
}

// Pong Pong 响应
type Pong struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// Ack 命令执行结果
type Ack struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Heartbeat 心跳
type Heartbeat struct {
	Resource *ResourceInfo `json:"resource,omitempty"`
	Summary  *Summary      `json:"summary,omitempty"`
}
