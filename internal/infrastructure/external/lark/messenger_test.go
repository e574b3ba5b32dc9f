package lark

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/domain/entity"
)

type sentMessage struct {
	receiveID string
	msgType   string
	content   string
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) SendMessage(_ context.Context, receiveID, msgType, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMessage{receiveID, msgType, content})
	return "om_1", nil
}

type mockLookup struct {
	leaders map[string]string
	calls   int
	err     error
}

func (m *mockLookup) GetLeader(_ context.Context, userID string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.leaders[userID], nil
}

func decode(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(content), &out))
	return out
}

func TestMessenger_SendNotification(t *testing.T) {
	tests := []struct {
		name     string
		n        port.Notification
		wantType string
		wantText string
	}{
		{
			name:     "plain text with relative link",
			n:        port.Notification{RecipientID: "ou_1", Title: "Welcome", Message: "Day one at 9:00", LinkURL: "/processes/7", Priority: entity.PriorityNormal},
			wantType: "text",
			wantText: "Welcome\nDay one at 9:00\nhttps://hr.example.com/processes/7",
		},
		{
			name:     "absolute link kept",
			n:        port.Notification{RecipientID: "ou_1", Title: "Docs", LinkURL: "https://wiki.example.com/x"},
			wantType: "text",
			wantText: "Docs\nhttps://wiki.example.com/x",
		},
		{
			name:     "quotes are escaped",
			n:        port.Notification{RecipientID: "ou_1", Title: `Say "hi"`},
			wantType: "text",
			wantText: `Say "hi"`,
		},
		{
			name:     "urgent goes out as card",
			n:        port.Notification{RecipientID: "ou_1", Title: "Badge expired", Priority: entity.PriorityUrgent},
			wantType: "interactive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{}
			m := NewMessenger(sender, "https://hr.example.com/", zap.NewNop())

			require.NoError(t, m.SendNotification(context.Background(), tt.n))
			require.Len(t, sender.sent, 1)
			assert.Equal(t, "ou_1", sender.sent[0].receiveID)
			assert.Equal(t, tt.wantType, sender.sent[0].msgType)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, decode(t, sender.sent[0].content)["text"])
			}
		})
	}
}

func TestMessenger_Errors(t *testing.T) {
	m := NewMessenger(&mockSender{}, "", zap.NewNop())
	assert.Error(t, m.SendNotification(context.Background(), port.Notification{Title: "x"}))
	assert.Error(t, m.SendRichMessage(context.Background(), port.RichMessage{Title: "x"}))

	failing := NewMessenger(&mockSender{err: errors.New("code=99991663")}, "", zap.NewNop())
	err := failing.SendNotification(context.Background(), port.Notification{RecipientID: "ou_1", Title: "x"})
	assert.ErrorContains(t, err, "99991663")
}

func TestBuildCard(t *testing.T) {
	card := buildCard(port.RichMessage{
		Kind:  port.MessageApprovalRequest,
		Title: "Approval needed: Onboard Ada",
		Fields: []port.RichField{
			{Label: "Level", Value: "1 of 2"},
		},
	}, "https://hr.example.com/approvals/3")

	header := card["header"].(map[string]interface{})
	assert.Equal(t, "blue", header["template"])
	assert.Equal(t, "Approval needed: Onboard Ada", header["title"].(map[string]interface{})["content"])

	elements := card["elements"].([]interface{})
	require.Len(t, elements, 3)
	action := elements[2].(map[string]interface{})
	button := action["actions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "https://hr.example.com/approvals/3", button["url"])
	assert.Equal(t, "Review", button["text"].(map[string]interface{})["content"])

	plain := buildCard(port.RichMessage{Kind: "unknown", Title: "x"}, "")
	assert.Equal(t, "grey", plain["header"].(map[string]interface{})["template"])
	assert.Empty(t, plain["elements"])
}

func TestDirectory_ResolveManager(t *testing.T) {
	lookup := &mockLookup{leaders: map[string]string{"ou_emp": "ou_mgr"}}
	d := NewDirectory(lookup, time.Minute, zap.NewNop())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	mgr, ok, err := d.ResolveManager(context.Background(), "ou_emp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ou_mgr", mgr)

	_, ok, err = d.ResolveManager(context.Background(), "ou_ceo")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _ = d.ResolveManager(context.Background(), "ou_emp")
	assert.Equal(t, 2, lookup.calls, "cached within ttl")

	now = now.Add(2 * time.Minute)
	_, _, _ = d.ResolveManager(context.Background(), "ou_emp")
	assert.Equal(t, 3, lookup.calls)

	_, ok, err = d.ResolveManager(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory_LookupError(t *testing.T) {
	d := NewDirectory(&mockLookup{err: errors.New("no permission")}, 0, zap.NewNop())
	_, ok, err := d.ResolveManager(context.Background(), "ou_emp")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	assert.NoError(t, n.SendNotification(context.Background(), port.Notification{RecipientID: "u", Title: "t"}))
	assert.NoError(t, n.SendRichMessage(context.Background(), port.RichMessage{RecipientID: "u", Fields: []port.RichField{{Label: "a", Value: "b"}}}))
}
