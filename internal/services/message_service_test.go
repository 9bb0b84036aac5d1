package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/event"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

func newMsgSvc(t *testing.T, names ...string) (*MessageService, *presence.Registry) {
	t.Helper()
	db := newSvcDB(t)
	newUsers(t, db, names...)
	reg := presence.NewRegistry()
	return NewMessageService(db, reg, 20), reg
}

func TestSend_ThenHistory_ContainsMessageOnceAndLast(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob")
	ctx := context.Background()

	if _, err := svc.Send(ctx, "bob", "alice", strp("earlier"), nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m, err := svc.Send(ctx, "alice", "bob", strp("  hi  "), nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.ID == 0 || *m.Content != "hi" || m.Sender.Username != "alice" || m.Recipient.Username != "bob" {
		t.Fatalf("unexpected message: %+v", m)
	}

	items, total, err := svc.History(ctx, "bob", "alice", "bob", 1, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 messages, got total=%d len=%d", total, len(items))
	}
	if items[1].ID != m.ID {
		t.Fatalf("new message must be last, got %+v", items)
	}
	seen := 0
	for _, it := range items {
		if it.ID == m.ID {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("expected message exactly once, saw %d", seen)
	}
}

func TestSend_ToSelf_AlwaysInvalidRecipient(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice")
	ctx := context.Background()

	media := &domain.MediaDescriptor{Kind: domain.MediaImage, StorageLocator: "a.png"}
	for _, tc := range []struct {
		content *string
		media   *domain.MediaDescriptor
	}{
		{strp("hi"), nil},
		{nil, nil},
		{strp(""), nil},
		{strp(strings.Repeat("x", 100)), nil},
		{nil, media},
		{nil, &domain.MediaDescriptor{Kind: "bogus"}},
	} {
		for _, u := range []string{"alice", "nobody"} {
			if _, err := svc.Send(ctx, u, u, tc.content, tc.media); !errors.Is(err, ErrInvalidRecipient) {
				t.Fatalf("Send(%s,%s) err = %v; want ErrInvalidRecipient", u, u, err)
			}
		}
	}
	if _, err := svc.Send(ctx, "alice", "  ", strp("hi"), nil); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("blank recipient: %v", err)
	}
}

func TestSend_UnknownRecipient_NoHistoryEntry(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob")
	ctx := context.Background()

	if _, err := svc.Send(ctx, "alice", "nonexistent", strp("hi"), nil); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("expected ErrUnknownRecipient, got %v", err)
	}
	var n int64
	svc.DB.Model(&domain.Message{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}

	if _, err := svc.Send(ctx, "ghost", "bob", strp("hi"), nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for unknown sender, got %v", err)
	}
	if _, err := svc.Send(ctx, "", "bob", strp("hi"), nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for empty sender, got %v", err)
	}
}

func TestSend_ContentAndMediaValidation(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob")
	ctx := context.Background()

	cases := []struct {
		name    string
		content *string
		media   *domain.MediaDescriptor
		want    error
	}{
		{"nothing", nil, nil, ErrEmptyMessage},
		{"blank text", strp("   "), nil, ErrEmptyMessage},
		{"too long", strp(strings.Repeat("é", 21)), nil, ErrTooLong},
		{"bad kind", nil, &domain.MediaDescriptor{Kind: "pdf", StorageLocator: "a.pdf"}, ErrInvalidMedia},
		{"empty locator", nil, &domain.MediaDescriptor{Kind: domain.MediaImage}, ErrInvalidMedia},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Send(ctx, "alice", "bob", tc.content, tc.media); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v; want %v", err, tc.want)
			}
		})
	}

	// Exactly at the limit, media only, and text+media are all accepted.
	if _, err := svc.Send(ctx, "alice", "bob", strp(strings.Repeat("é", 20)), nil); err != nil {
		t.Fatalf("at limit: %v", err)
	}
	md := &domain.MediaDescriptor{Kind: domain.MediaAudio, StorageLocator: "20250101_x.mp3"}
	m, err := svc.Send(ctx, "alice", "bob", nil, md)
	if err != nil {
		t.Fatalf("media only: %v", err)
	}
	if m.Content != nil || m.Media() == nil || *m.Media() != *md {
		t.Fatalf("unexpected media message: %+v", m)
	}
	if _, err := svc.Send(ctx, "alice", "bob", strp("look"), md); err != nil {
		t.Fatalf("text+media: %v", err)
	}
}

func TestSend_MediaLocatorIsOpaque(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob")
	ctx := context.Background()

	for _, loc := range []string{"uploads/2024/a.png", "s3://bucket/key.png", "https://cdn.example.com/v/clip.mp4", "../x.png"} {
		md := &domain.MediaDescriptor{Kind: domain.MediaImage, StorageLocator: loc}
		m, err := svc.Send(ctx, "alice", "bob", nil, md)
		if err != nil {
			t.Fatalf("locator %q: %v", loc, err)
		}
		if got := m.Media(); got == nil || got.StorageLocator != loc {
			t.Fatalf("locator %q stored as %+v", loc, got)
		}
	}
}

func TestSend_UsernamesCompareInNormalForm(t *testing.T) {
	svc, _ := newMsgSvc(t, "josé", "bob")
	ctx := context.Background()
	decomposed := "jose\u0301"

	if _, err := svc.Send(ctx, "josé", decomposed, strp("hi"), nil); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("self-send across spellings: err = %v; want ErrInvalidRecipient", err)
	}
	if _, err := svc.Send(ctx, decomposed, "josé", strp("hi"), nil); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("self-send from decomposed sender: err = %v; want ErrInvalidRecipient", err)
	}

	m, err := svc.Send(ctx, "bob", " "+decomposed+" ", strp("hola"), nil)
	if err != nil {
		t.Fatalf("send to decomposed recipient: %v", err)
	}
	if m.Recipient.Username != "josé" {
		t.Fatalf("recipient = %q; want the stored spelling", m.Recipient.Username)
	}

	items, total, err := svc.History(ctx, decomposed, "bob", decomposed, 1, 10)
	if err != nil || total != 1 || len(items) != 1 || items[0].ID != m.ID {
		t.Fatalf("History = %d/%d err=%v", len(items), total, err)
	}
	conv, err := svc.Conversation(ctx, "bob", decomposed)
	if err != nil || len(conv) != 1 {
		t.Fatalf("Conversation = %d err=%v", len(conv), err)
	}
	if _, err := svc.Get(ctx, decomposed, m.ID); err != nil {
		t.Fatalf("Get by decomposed caller: %v", err)
	}

	for _, bad := range []string{"x", "no spaces", "semi;colon"} {
		if _, err := svc.Send(ctx, "bob", bad, strp("hi"), nil); !errors.Is(err, ErrInvalidRecipient) {
			t.Fatalf("recipient %q: err = %v; want ErrInvalidRecipient", bad, err)
		}
	}
}

func TestSend_PushesToOnlineParticipants(t *testing.T) {
	svc, reg := newMsgSvc(t, "alice", "bob", "carol")
	ctx := context.Background()

	alice, bob, carol := newRecConn(), newRecConn(), newRecConn()
	reg.Register("alice", alice)
	reg.Register("bob", bob)
	reg.Register("carol", carol)

	before := testutil.ToFloat64(pushes.WithLabelValues(pushDelivered))
	m, err := svc.Send(ctx, "alice", "bob", strp("hi"), nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := testutil.ToFloat64(pushes.WithLabelValues(pushDelivered)) - before; got != 2 {
		t.Fatalf("expected 2 delivered pushes, got %v", got)
	}

	for name, c := range map[string]*recConn{"alice": alice, "bob": bob} {
		evs := c.ofType(event.TypeNewMessage)
		if len(evs) != 1 {
			t.Fatalf("%s: expected 1 new_message, got %d", name, len(evs))
		}
		v := evs[0].Payload.(domain.MessageView)
		if v.ID != m.ID || *v.Content != "hi" || v.Media != nil || v.Sender != "alice" || v.Recipient != "bob" {
			t.Fatalf("%s: unexpected payload %+v", name, v)
		}
	}
	if len(carol.Events()) != 0 {
		t.Fatalf("carol must not receive anything, got %+v", carol.Events())
	}
}

func TestSend_PushFailureDoesNotFailSend(t *testing.T) {
	svc, reg := newMsgSvc(t, "alice", "bob")
	ctx := context.Background()

	slow := newRecConn()
	slow.err = presence.ErrSlowConsumer
	reg.Register("bob", slow)

	before := testutil.ToFloat64(pushes.WithLabelValues(pushSlow))
	sentBefore := testutil.ToFloat64(messagesSent)

	m, err := svc.Send(ctx, "alice", "bob", strp("hi"), nil)
	if err != nil || m == nil {
		t.Fatalf("Send must succeed despite push failure: m=%v err=%v", m, err)
	}
	if got := testutil.ToFloat64(pushes.WithLabelValues(pushSlow)) - before; got != 1 {
		t.Fatalf("expected 1 slow_consumer push, got %v", got)
	}
	if got := testutil.ToFloat64(messagesSent) - sentBefore; got != 1 {
		t.Fatalf("expected messages counter +1, got %v", got)
	}

	// Recipient offline entirely: still persisted and retrievable.
	reg.Unregister("bob")
	if _, err := svc.Send(ctx, "alice", "bob", strp("again"), nil); err != nil {
		t.Fatalf("offline recipient: %v", err)
	}
	items, err := svc.Conversation(ctx, "bob", "alice")
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 messages, got %d err=%v", len(items), err)
	}
}

func TestSend_CanceledContextAfterValidationStillPersists(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := svc.Send(ctx, "alice", "bob", strp("hi"), nil)
	if err != nil || m == nil {
		t.Fatalf("expected persisted message, got m=%v err=%v", m, err)
	}
}

func TestSend_PersistenceFailure(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob")
	if err := svc.DB.Migrator().DropTable(&domain.Message{}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Send(context.Background(), "alice", "bob", strp("hi"), nil)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestSend_ConcurrentUnrelatedPairs_DistinctIncreasingIDs(t *testing.T) {
	const pairs, perPair = 4, 10
	names := make([]string, 0, pairs*2)
	for i := 0; i < pairs; i++ {
		names = append(names, fmt.Sprintf("from%d", i), fmt.Sprintf("to%d", i))
	}
	svc, _ := newMsgSvc(t, names...)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ids  = map[uint64]bool{}
		errs []error
	)
	for p := 0; p < pairs; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			var last uint64
			for i := 0; i < perPair; i++ {
				m, err := svc.Send(ctx, fmt.Sprintf("from%d", p), fmt.Sprintf("to%d", p), strp("x"), nil)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					if ids[m.ID] {
						errs = append(errs, fmt.Errorf("duplicate id %d", m.ID))
					}
					if m.ID <= last {
						errs = append(errs, fmt.Errorf("pair %d: id %d after %d", p, m.ID, last))
					}
					ids[m.ID] = true
					last = m.ID
				}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("errors: %v", errs)
	}
	if len(ids) != pairs*perPair {
		t.Fatalf("expected %d distinct ids, got %d", pairs*perPair, len(ids))
	}
}

func TestSend_SameConversation_PushOrderMatchesIDs(t *testing.T) {
	svc, reg := newMsgSvc(t, "alice", "bob")
	bob := newRecConn()
	reg.Register("bob", bob)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "alice", "bob"
			if i%2 == 1 {
				from, to = to, from
			}
			if _, err := svc.Send(context.Background(), from, to, strp("x"), nil); err != nil {
				t.Errorf("Send: %v", err)
			}
		}(i)
	}
	wg.Wait()

	evs := bob.ofType(event.TypeNewMessage)
	if len(evs) != 10 {
		t.Fatalf("expected 10 pushes, got %d", len(evs))
	}
	var last uint64
	for _, ev := range evs {
		id := ev.Payload.(domain.MessageView).ID
		if id <= last {
			t.Fatalf("push order broken: %d after %d", id, last)
		}
		last = id
	}
}

func TestHistory_AuthorizationAndPaging(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob", "carol")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := svc.Send(ctx, "alice", "bob", strp(fmt.Sprint(i)), nil); err != nil {
			t.Fatal(err)
		}
	}

	if _, _, err := svc.History(ctx, "carol", "alice", "bob", 1, 10); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, _, err := svc.History(ctx, "", "alice", "bob", 1, 10); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, _, err := svc.History(ctx, "alice", "alice", "nobody", 1, 10); !errors.Is(err, ErrUnknownRecipient) {
		t.Fatalf("expected ErrUnknownRecipient, got %v", err)
	}

	items, total, err := svc.History(ctx, "alice", "bob", "alice", 2, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 5 || len(items) != 2 || *items[0].Content != "2" || *items[1].Content != "3" {
		t.Fatalf("unexpected page: total=%d items=%+v", total, items)
	}

	empty, total, err := svc.History(ctx, "carol", "carol", "bob", 0, 0)
	if err != nil || total != 0 || len(empty) != 0 {
		t.Fatalf("expected empty history, got %d/%d err=%v", len(empty), total, err)
	}
}

func TestStatsAndGet(t *testing.T) {
	svc, _ := newMsgSvc(t, "alice", "bob", "carol")
	ctx := context.Background()

	n, last, err := svc.Stats(ctx, "alice", "alice", "bob")
	if err != nil || n != 0 || last != 0 {
		t.Fatalf("empty stats: %d %d %v", n, last, err)
	}
	m, err := svc.Send(ctx, "alice", "bob", strp("hi"), nil)
	if err != nil {
		t.Fatal(err)
	}
	n, last, err = svc.Stats(ctx, "bob", "alice", "bob")
	if err != nil || n != 1 || last != m.ID {
		t.Fatalf("stats: %d %d %v", n, last, err)
	}

	got, err := svc.Get(ctx, "bob", m.ID)
	if err != nil || got.ID != m.ID {
		t.Fatalf("Get: %+v %v", got, err)
	}
	if _, err := svc.Get(ctx, "carol", m.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for outsider, got %v", err)
	}
	if _, err := svc.Get(ctx, "alice", 9999); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}
