package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"matrimony_chat/internal/service"
)

type wsFrame struct {
	Type      string                `json:"type"`
	RequestID string                `json:"requestId"`
	Command   string                `json:"command"`
	OK        bool                  `json:"ok"`
	Error     string                `json:"error"`
	State     *service.SessionState `json:"state"`
	Rows      []json.RawMessage     `json:"rows"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
}

func TestWebSocketChat(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?participant_id=" + uuid.New().String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readUntil(t, conn, func(f wsFrame) bool { return f.Type == "ack" })
	if first.Command != wsCommandState || first.State == nil || !first.State.NeedsIdentity {
		t.Fatalf("initial frame = %+v", first)
	}

	// строки ленты могут прийти раньше подтверждения команды
	sawRow := false
	isRow := func(f wsFrame) bool { return f.Type == string(service.EventRows) && len(f.Rows) == 1 }

	send := func(cmd wsCommand) wsFrame {
		t.Helper()
		if err := conn.WriteJSON(cmd); err != nil {
			t.Fatalf("write: %v", err)
		}
		return readUntil(t, conn, func(f wsFrame) bool {
			if isRow(f) {
				sawRow = true
			}
			return f.Type == "ack" && f.RequestID == cmd.RequestID
		})
	}

	if ack := send(wsCommand{Type: wsCommandSend, RequestID: "1", Text: "hello"}); ack.OK || ack.Error == "" {
		t.Fatalf("send without identity = %+v", ack)
	}
	if ack := send(wsCommand{Type: wsCommandIdentity, RequestID: "2", Identity: "alice"}); !ack.OK {
		t.Fatalf("identity = %+v", ack)
	}
	if ack := send(wsCommand{Type: wsCommandSend, RequestID: "3", Text: "hello everyone"}); !ack.OK {
		t.Fatalf("send = %+v", ack)
	}

	if !sawRow {
		readUntil(t, conn, isRow)
	}

	if ack := send(wsCommand{Type: "dance", RequestID: "4"}); ack.OK || ack.Error != "Unknown command." {
		t.Fatalf("unknown command = %+v", ack)
	}
}
