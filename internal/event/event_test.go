package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func TestInbound_Decode(t *testing.T) {
	req := require.New(t)

	var in Inbound
	req.NoError(json.Unmarshal([]byte(`{"type":"send_message","payload":{"recipient":"bob","content":"hi"}}`), &in))
	req.Equal(TypeSendMessage, in.Type)

	var p SendMessagePayload
	req.NoError(in.Decode(&p))
	req.Equal("bob", p.Recipient)
	req.NotNil(p.Content)
	req.Equal("hi", *p.Content)
	req.Nil(p.Media)
}

func TestInbound_Decode_MissingPayload(t *testing.T) {
	req := require.New(t)

	for _, raw := range []string{`{"type":"identify"}`, `{"type":"identify","payload":null}`} {
		var in Inbound
		req.NoError(json.Unmarshal([]byte(raw), &in))
		var p IdentifyPayload
		req.ErrorIs(in.Decode(&p), ErrNoPayload)
	}
}

func TestEvent_WireShape(t *testing.T) {
	req := require.New(t)

	b, err := json.Marshal(Joined([]string{"alice", "bob"}, "bob"))
	req.NoError(err)
	req.JSONEq(`{"type":"presence_changed","payload":{"online":["alice","bob"],"joined":"bob"}}`, string(b))

	b, err = json.Marshal(Pong())
	req.NoError(err)
	req.JSONEq(`{"type":"pong"}`, string(b))

	content := "hi"
	b, err = json.Marshal(NewMessage(domain.MessageView{ID: 7, Sender: "alice", Recipient: "bob", Content: &content}))
	req.NoError(err)

	var back struct {
		Type    string             `json:"type"`
		Payload domain.MessageView `json:"payload"`
	}
	req.NoError(json.Unmarshal(b, &back))
	req.Equal(TypeNewMessage, back.Type)
	req.Equal(uint64(7), back.Payload.ID)
	req.Nil(back.Payload.Media)
}
