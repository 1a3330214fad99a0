// console.go: 终端交互: stdin 命令解析 + 事件打印。
package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/multi-agent/agent-sync/internal/realtime"
)

var errQuit = errors.New("quit")

// commander realtime.Client 的命令面子集。
type commander interface {
	SendMessage(content string) error
	SubscribeToSession(sessionID string) error
	UnsubscribeFromSession() error
	Ping() error
}

// handleLine 执行一行输入。以 "/" 开头的是本地命令, 其余作为用户消息发送。
//
//	/session <id>   切换 session
//	/leave          退订
//	/ping           测 RTT
//	/quit           退出
func handleLine(c commander, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.SendMessage(line)
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "session":
		return c.SubscribeToSession(strings.TrimSpace(arg))
	case "leave":
		return c.UnsubscribeFromSession()
	case "ping":
		return c.Ping()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", "/"+cmd)
	}
}

// printer 把事件渲染成人类可读的行。注册到 KindAll。
type printer struct {
	mu        sync.Mutex
	w         io.Writer
	streaming string // 正在输出的流式消息 id
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

func (p *printer) handle(ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case realtime.MessageChunkEvent:
		if p.streaming != e.MessageID {
			p.endStreamLocked()
			p.streaming = e.MessageID
			fmt.Fprint(p.w, "assistant> ")
		}
		fmt.Fprint(p.w, e.Chunk)
		if e.IsComplete {
			p.endStreamLocked()
		}
		return
	case realtime.MessageEvent:
		p.endStreamLocked()
		fmt.Fprintf(p.w, "%s> %s\n", e.Message.Role, e.Message.Content)
	case realtime.ToolCallEvent:
		p.endStreamLocked()
		fmt.Fprintf(p.w, "  ⚙ %s\n", e.Call.Name)
	case realtime.ToolResultEvent:
		p.endStreamLocked()
		if e.Call.Error != "" {
			fmt.Fprintf(p.w, "  ✗ %s: %s\n", e.Call.Name, e.Call.Error)
		} else {
			fmt.Fprintf(p.w, "  ✓ %s\n", e.Call.Name)
		}
	case realtime.AgentThoughtEvent:
		p.endStreamLocked()
		fmt.Fprintf(p.w, "  … %s\n", e.Content)
	case realtime.WaitingForInputEvent:
		p.endStreamLocked()
		fmt.Fprintln(p.w, "(waiting for input)")
	case realtime.SubscribedEvent:
		fmt.Fprintf(p.w, "[subscribed %s]\n", e.SessionID)
	case realtime.DisconnectEvent:
		p.endStreamLocked()
		fmt.Fprintf(p.w, "[disconnected %s]\n", e.Reason)
	case realtime.ErrorEvent:
		p.endStreamLocked()
		fmt.Fprintf(p.w, "[error %s] %s\n", e.Info.Source, e.Info.Message)
	case realtime.PongEvent:
		fmt.Fprintf(p.w, "[pong rtt=%s]\n", e.RTT)
	}
}

func (p *printer) endStreamLocked() {
	if p.streaming != "" {
		fmt.Fprintln(p.w)
		p.streaming = ""
	}
}
