package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"haven/cmd/internal/conversation"
	"haven/cmd/internal/directory"
	"haven/cmd/internal/notify"
	v1 "haven/contracts/realtime/v1"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case b := <-c.Send:
			var probe struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(b, &probe)
			out = append(out, probe.Type)
		default:
			return out
		}
	}
}

func TestHub_BroadcastExcludesAndSkipsFullClients(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	a := NewClient("alice", "a1", 1)
	b := NewClient("bob", "b1", 1)
	full := NewClient("carol", "c1", 1)
	for _, c := range []*Client{a, b, full} {
		h.Register(c)
		h.JoinRoom("r1", c)
	}
	full.Send <- []byte(`{"type":"filler"}`)

	n := h.BroadcastToRoom("r1", v1.NewTypingEvent("alice", true), a)
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("excluded client received %v", got)
	}
	if got := drain(b); !slices.Equal(got, []string{v1.TypeTyping}) {
		t.Fatalf("bob got %v", got)
	}
}

func TestHub_UnregisterPurgesEveryRoom(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	a := NewClient("alice", "a1", 8)
	b := NewClient("bob", "b1", 8)
	h.Register(a)
	h.Register(b)
	for _, room := range []string{"r1", "r2"} {
		h.JoinRoom(room, a)
		h.JoinRoom(room, b)
	}

	h.Unregister(a)
	h.Unregister(a) // idempotent

	if h.IsOnline("alice") {
		t.Fatalf("alice still online")
	}
	for _, room := range []string{"r1", "r2"} {
		if got := h.UsersInRoom(room); !slices.Equal(got, []string{"bob"}) {
			t.Fatalf("%s members=%v", room, got)
		}
		if n := h.BroadcastToRoom(room, v1.NewTypingEvent("bob", false), nil); n != 1 {
			t.Fatalf("%s broadcast reached %d", room, n)
		}
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("unregistered client not closed")
	}

	h.LeaveRoom("r1", b)
	h.LeaveRoom("r2", b)
	if h.RoomSize("r1") != 0 || h.RoomSize("r2") != 0 {
		t.Fatalf("rooms not emptied")
	}
}

func TestHub_SendToUserReachesEveryConnection(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	phone := NewClient("alice", "a1", 4)
	laptop := NewClient("alice", "a2", 4)
	h.Register(phone)
	h.Register(laptop)

	if n := h.SendToUser("alice", v1.NewNotificationEvent("hi", "")); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if n := h.SendToUser("nobody", v1.NewNotificationEvent("hi", "")); n != 0 {
		t.Fatalf("offline user received %d", n)
	}
	h.Unregister(phone)
	if !h.IsOnline("alice") {
		t.Fatalf("alice should still be online on laptop")
	}
}

func TestHub_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("u", "s", 4)
			h.Register(c)
			h.JoinRoom("r", c)
			h.BroadcastToRoom("r", v1.NewTypingEvent("u", true), c)
			h.Unregister(c)
		}()
	}
	wg.Wait()

	if h.RoomSize("r") != 0 || h.IsOnline("u") {
		t.Fatalf("state leaked: room=%d online=%v", h.RoomSize("r"), h.IsOnline("u"))
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	userID   string
	event    notify.Event
	channels []notify.Channel
}

var _ notify.Notifier = (*recordingNotifier)(nil)

func (n *recordingNotifier) Notify(userID string, ev notify.Event, channels ...notify.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{userID: userID, event: ev, channels: channels})
}

func (n *recordingNotifier) users() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.userID)
	}
	slices.Sort(out)
	return out
}

func TestRelay_MessageCreated(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	rec := &recordingNotifier{}
	r := NewRelay(quietLogger(), h, rec)

	alice := NewClient("alice", "a1", 8)
	bob := NewClient("bob", "b1", 8)
	carolPersonal := NewClient("carol", "c1", 8)
	h.Register(alice)
	h.Register(bob)
	h.Register(carolPersonal)
	h.JoinRoom("conv", alice)
	h.JoinRoom("conv", bob)

	conv := conversation.Conversation{
		ID:           "conv",
		Participants: []string{"alice", "bob", "carol", "dave", "erin"},
		MutedFor:     []string{"erin"},
	}
	msg := conversation.Message{
		ID:             "m1",
		ConversationID: "conv",
		SenderID:       "alice",
		Body:           "hello there",
		CreatedAt:      time.Now().UTC(),
	}
	r.MessageCreated(conv, msg)

	if got := drain(alice); !slices.Equal(got, []string{v1.TypeMessage}) {
		t.Fatalf("sender echo: %v", got)
	}
	if got := drain(bob); !slices.Equal(got, []string{v1.TypeMessage}) {
		t.Fatalf("bob: %v", got)
	}
	if got := drain(carolPersonal); !slices.Equal(got, []string{v1.TypeNotification}) {
		t.Fatalf("carol personal channel: %v", got)
	}

	// bob is in the room, erin muted; carol (online elsewhere) and dave
	// (offline) get out-of-band notifications.
	if got := rec.users(); !slices.Equal(got, []string{"carol", "dave"}) {
		t.Fatalf("notified=%v", got)
	}
	c := rec.calls[0]
	if !slices.Equal(c.channels, []notify.Channel{notify.ChannelPush, notify.ChannelEmail, notify.ChannelSMS}) || c.event.Kind != notify.KindMessage || c.event.MessageID != "m1" {
		t.Fatalf("unexpected notify call: %+v", c)
	}
}

func TestRelay_ConversationStarted(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	rec := &recordingNotifier{}
	r := NewRelay(quietLogger(), h, rec)

	r.ConversationStarted(conversation.Conversation{ID: "c", Participants: []string{"alice", "bob"}}, "alice")

	if got := rec.users(); !slices.Equal(got, []string{"bob"}) {
		t.Fatalf("notified=%v", got)
	}
	if ch := rec.calls[0].channels; !slices.Equal(ch, []notify.Channel{notify.ChannelEmail, notify.ChannelPush, notify.ChannelSMS}) {
		t.Fatalf("channels=%v", ch)
	}
}

type smsRecorder struct {
	mu  sync.Mutex
	got []string
}

func (s *smsRecorder) Channel() notify.Channel { return notify.ChannelSMS }

func (s *smsRecorder) Deliver(_ context.Context, to directory.Profile, ev notify.Event) error {
	phone, _ := to.PhoneNumber()
	s.mu.Lock()
	s.got = append(s.got, to.UserID+":"+phone+":"+string(ev.Kind))
	s.mu.Unlock()
	return nil
}

func (s *smsRecorder) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.got)
	slices.Sort(out)
	return out
}

func TestRelay_SMSReachesOptedInRecipients(t *testing.T) {
	t.Parallel()

	phone := "+15550100"
	dir := directory.NewStaticDirectory(
		directory.Profile{UserID: "bob", Phone: &phone, Prefs: directory.Prefs{SMS: true}},
		directory.Profile{UserID: "carol", Phone: &phone},
		directory.Profile{UserID: "dave", Prefs: directory.Prefs{SMS: true}},
	)
	sms := &smsRecorder{}
	d, err := notify.NewDispatcher(quietLogger(), dir, notify.Config{Workers: 1, QueueSize: 8, DeliveryTimeout: time.Second}, []notify.Transport{sms})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	r := NewRelay(quietLogger(), NewHub(quietLogger()), d)
	conv := conversation.Conversation{ID: "c", Participants: []string{"alice", "bob", "carol", "dave"}}
	r.ConversationStarted(conv, "alice")
	r.MessageCreated(conv, conversation.Message{ID: "m1", ConversationID: "c", SenderID: "alice", Body: "hi"})

	// Run drains queued jobs before returning.
	cancel()
	<-done

	want := []string{"bob:+15550100:new_conversation", "bob:+15550100:new_message"}
	if got := sms.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("sms deliveries=%v want=%v", got, want)
	}
}

func TestRelay_NilNotifier(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	r := NewRelay(quietLogger(), h, nil)
	r.MessageCreated(conversation.Conversation{ID: "c", Participants: []string{"a", "b"}}, conversation.Message{ID: "m", SenderID: "a", Attachment: "s3://x"})
}

func TestOriginPolicy(t *testing.T) {
	t.Parallel()

	p := newOriginPolicy(true, []string{"https://app.haven.test", "http://localhost:3000"})
	if !slices.Equal(p.patterns, []string{"app.haven.test", "localhost"}) {
		t.Fatalf("patterns=%v", p.patterns)
	}

	cases := []struct {
		origin string
		ok     bool
	}{
		{"", false},
		{"https://app.haven.test", true},
		{"http://localhost:8080", true},
		{"https://evil.test", false},
	}
	for _, tc := range cases {
		r := newRequestWithOrigin(tc.origin)
		if err := p.check(r); (err == nil) != tc.ok {
			t.Fatalf("origin %q: err=%v want ok=%v", tc.origin, err, tc.ok)
		}
	}

	open := newOriginPolicy(false, nil)
	if err := open.check(newRequestWithOrigin("")); err != nil {
		t.Fatalf("origin not required: %v", err)
	}
}
