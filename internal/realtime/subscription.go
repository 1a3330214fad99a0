package realtime

import (
	"strings"

	"github.com/multi-agent/agent-sync/internal/protocol"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
	"github.com/multi-agent/agent-sync/pkg/logger"
	"github.com/multi-agent/agent-sync/pkg/util"
)

// SubscribeToSession 绑定到 sessionID。
//
// 已订阅 (或已请求) 同一 id 时为 no-op; 否则先退订旧 session、
// 复位派生状态, 再发送 subscribe。id 在后端确认后才成为 current。
// 未连接时为记录日志的 no-op, 返回 ErrNotConnected。
func (c *Client) SubscribeToSession(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.WithCode(apperrors.Wrap(apperrors.ErrInvalidInput, "Client.SubscribeToSession", "empty session id"), apperrors.CodeInput)
	}

	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		logger.Warn("realtime: subscribe while disconnected ignored", logger.FieldSessionID, sessionID)
		return apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotConnected, "Client.SubscribeToSession", "not connected"), apperrors.CodeState)
	}
	if sessionID == c.currentSession || sessionID == c.pendingSession {
		c.mu.Unlock()
		return nil
	}

	if prev := util.FirstNonEmpty(c.pendingSession, c.currentSession); prev != "" {
		c.sendUnsubscribeLocked(prev)
		c.currentSession, c.pendingSession = "", ""
		c.resetSessionStateLocked()
	}
	err := c.sendSubscribeLocked(sessionID)
	c.mu.Unlock()
	c.out.drain()
	return err
}

// UnsubscribeFromSession 退订当前 session 并清空本地订阅状态。
func (c *Client) UnsubscribeFromSession() error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		logger.Warn("realtime: unsubscribe while disconnected ignored")
		return apperrors.WithCode(apperrors.Wrap(apperrors.ErrNotConnected, "Client.UnsubscribeFromSession", "not connected"), apperrors.CodeState)
	}
	target := util.FirstNonEmpty(c.pendingSession, c.currentSession)
	if target == "" {
		c.mu.Unlock()
		return nil
	}
	c.sendUnsubscribeLocked(target)
	c.currentSession, c.pendingSession, c.desiredSession = "", "", ""
	c.resetSessionStateLocked()
	c.mu.Unlock()
	c.out.drain()
	return nil
}

func (c *Client) sendSubscribeLocked(sessionID string) error {
	c.desiredSession = sessionID
	if err := c.conn.Send(protocol.SubscribeFrame(sessionID)); err != nil {
		logger.Warn("realtime: subscribe send failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
		return apperrors.WithCode(err, apperrors.CodeTransport)
	}
	c.pendingSession = sessionID
	logger.Info("realtime: subscribe requested", logger.FieldSessionID, sessionID)
	return nil
}

func (c *Client) sendUnsubscribeLocked(sessionID string) {
	if err := c.conn.Send(protocol.UnsubscribeFrame(sessionID)); err != nil {
		logger.Warn("realtime: unsubscribe send failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
		return
	}
	logger.Info("realtime: unsubscribed", logger.FieldSessionID, sessionID)
}

// onSubscribedLocked 处理后端确认。空 session_id 视为对 pending 的确认。
func (c *Client) onSubscribedLocked(e SubscribedEvent) {
	id := e.SessionID
	if id == "" {
		id = c.pendingSession
	}
	switch {
	case id != "" && id == c.pendingSession:
		c.currentSession = id
		c.pendingSession = ""
		logger.Info("realtime: subscribed", logger.FieldSessionID, id)
	case id != "" && id == c.currentSession:
	default:
		logger.Warn("realtime: ack for unrequested session ignored",
			logger.FieldSessionID, e.SessionID,
			"pending", c.pendingSession,
		)
	}
}

func (c *Client) onUnsubscribedLocked(e UnsubscribedEvent) {
	switch e.SessionID {
	case "":
	case c.currentSession:
		c.currentSession = ""
		if c.desiredSession == e.SessionID {
			c.desiredSession = ""
		}
	case c.pendingSession:
		c.pendingSession = ""
	}
}
