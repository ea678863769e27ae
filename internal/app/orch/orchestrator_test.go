package orch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/mocks"
	"github.com/dkeye/Relay/internal/domain"
	"go.uber.org/mock/gomock"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// take returns the messages received since the last call.
func (c *recConn) take(t *testing.T) []core.Message {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()

	out := make([]core.Message, 0, len(frames))
	for _, f := range frames {
		var m core.Message
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("undecodable frame %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func newOrch() *Orchestrator {
	return &Orchestrator{
		Sessions: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.DropPolicy{},
		Now:      func() time.Time { return fixedNow },
	}
}

func joined(t *testing.T, o *Orchestrator, name string) (core.SessionID, *recConn) {
	t.Helper()
	c := &recConn{}
	sid := o.Connect(c)
	if err := o.Join(sid, name); err != nil {
		t.Fatalf("Join(%q) failed: %v", name, err)
	}
	return sid, c
}

func drain(t *testing.T, conns ...*recConn) {
	t.Helper()
	for _, c := range conns {
		c.take(t)
	}
}

func ofType(msgs []core.Message, typ core.EventType) []core.Message {
	var out []core.Message
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func decodeUsers(t *testing.T, m core.Message) []domain.User {
	t.Helper()
	var users []domain.User
	if err := json.Unmarshal([]byte(m.Content), &users); err != nil {
		t.Fatalf("user_list content %q: %v", m.Content, err)
	}
	return users
}

func decodeRooms(t *testing.T, m core.Message) []domain.Room {
	t.Helper()
	var rooms []domain.Room
	if err := json.Unmarshal([]byte(m.Content), &rooms); err != nil {
		t.Fatalf("room_list content %q: %v", m.Content, err)
	}
	return rooms
}

func TestJoin_WelcomeAndUserList(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "alice")

	msgs := ca.take(t)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want welcome, user_list, room_list", len(msgs))
	}

	welcome := msgs[0]
	if welcome.Type != core.EventJoin || welcome.Content != "Welcome alice!" {
		t.Errorf("welcome = %+v", welcome)
	}
	if welcome.UserID != domain.UserID(a) {
		t.Errorf("welcome userId = %q, want %q", welcome.UserID, a)
	}
	if welcome.SenderID != core.ServerID || welcome.Sender != core.ServerName {
		t.Errorf("welcome sender = %q/%q", welcome.SenderID, welcome.Sender)
	}
	if welcome.TimeStamp != fixedNow.UnixMilli() {
		t.Errorf("timeStamp = %d, want %d", welcome.TimeStamp, fixedNow.UnixMilli())
	}

	users := decodeUsers(t, msgs[1])
	if len(users) != 1 || users[0].ID != domain.UserID(a) || users[0].Username != "alice" {
		t.Errorf("user_list = %+v, want [{%s alice}]", users, a)
	}
	if msgs[2].Type != core.EventRoomList || len(decodeRooms(t, msgs[2])) != 0 {
		t.Errorf("room_list = %+v, want empty list", msgs[2])
	}
}

func TestJoin_ListsReachEveryJoinedSession(t *testing.T) {
	o := newOrch()
	_, ca := joined(t, o, "alice")
	lurker := &recConn{}
	o.Connect(lurker)
	drain(t, ca)

	b, _ := joined(t, o, "bob")

	lists := ofType(ca.take(t), core.EventUserList)
	if len(lists) != 1 {
		t.Fatalf("alice got %d user lists, want 1", len(lists))
	}
	users := decodeUsers(t, lists[0])
	if len(users) != 2 || users[1].ID != domain.UserID(b) {
		t.Errorf("user_list = %+v, want alice then bob", users)
	}
	if got := lurker.take(t); len(got) != 0 {
		t.Errorf("un-joined session received %d messages", len(got))
	}
}

func TestJoin_Rename(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "alice")
	drain(t, ca)

	if err := o.Join(a, "alicia"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	msgs := ca.take(t)
	if len(msgs) == 0 || msgs[0].Content != "Welcome alicia!" {
		t.Fatalf("rename welcome = %+v", msgs)
	}
	users := decodeUsers(t, ofType(msgs, core.EventUserList)[0])
	if len(users) != 1 || users[0].Username != "alicia" {
		t.Errorf("user_list after rename = %+v", users)
	}
}

func TestJoin_TruncatesLongName(t *testing.T) {
	o := newOrch()
	o.MaxNameLen = 4
	sid, c := joined(t, o, "abcdefgh")

	msgs := c.take(t)
	if len(msgs) == 0 || msgs[0].Content != "Welcome abcd!" {
		t.Fatalf("welcome = %+v, want truncated name", msgs)
	}
	if s, _ := o.Sessions.Get(sid); s.Username != "abcd" {
		t.Errorf("Username = %q, want abcd", s.Username)
	}
	if users := decodeUsers(t, ofType(msgs, core.EventUserList)[0]); len(users) != 1 || users[0].Username != "abcd" {
		t.Errorf("user_list = %+v", users)
	}
}

func TestJoin_EmptyNameRejected(t *testing.T) {
	o := newOrch()
	c := &recConn{}
	sid := o.Connect(c)

	if err := o.Join(sid, ""); !errors.Is(err, core.ErrMalformedEvent) || !errors.Is(err, domain.ErrUsernameEmpty) {
		t.Errorf("Join(\"\") = %v, want ErrMalformedEvent wrapping ErrUsernameEmpty", err)
	}
	if got := c.take(t); len(got) != 0 {
		t.Errorf("got %d messages for rejected name, want 0", len(got))
	}
	if s, _ := o.Sessions.Get(sid); s.Joined() {
		t.Errorf("session joined with empty name")
	}
}

func TestDispatch_RejectedJoinCountsOnce(t *testing.T) {
	o := newOrch()
	sid := o.Connect(&recConn{})

	o.Dispatch(sid, &core.JoinEvent{Name: ""})
	o.Dispatch(sid, &core.JoinEvent{Name: "alice"})

	st := o.Stats()
	if st.Malformed != 1 || st.Dispatched != 1 {
		t.Errorf("stats = %+v, want 1 malformed 1 dispatched", st)
	}
}

func TestDirectMessage(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "alice")
	b, cb := joined(t, o, "bob")
	drain(t, ca, cb)

	o.DirectMessage(a, b, "hi bob")

	got := cb.take(t)
	if len(got) != 1 {
		t.Fatalf("bob got %d messages, want 1", len(got))
	}
	m := got[0]
	if m.Type != core.EventDirectMessage || m.Content != "hi bob" {
		t.Errorf("dm = %+v", m)
	}
	if m.SenderID != string(a) || m.Sender != "alice" || m.RecipientID != b {
		t.Errorf("dm addressing = %q/%q -> %q", m.SenderID, m.Sender, m.RecipientID)
	}
	if m.TimeStamp != fixedNow.UnixMilli() {
		t.Errorf("dm timeStamp = %d", m.TimeStamp)
	}
	if len(ca.take(t)) != 0 {
		t.Errorf("sender received a copy of its own dm")
	}
}

func TestDirectMessage_UnknownRecipient(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "alice")
	b, cb := joined(t, o, "bob")
	o.Disconnect(b)
	drain(t, ca, cb)

	o.DirectMessage(a, "never-registered", "hello?")
	o.DirectMessage(a, b, "still there?")

	if n := len(ca.take(t)) + len(cb.take(t)); n != 0 {
		t.Errorf("got %d deliveries, want 0", n)
	}
}

func TestDirectMessage_UnjoinedRecipient(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "alice")
	c := &recConn{}
	b := o.Connect(c)
	drain(t, ca)

	o.DirectMessage(a, b, "hi")

	if len(c.take(t)) != 0 {
		t.Errorf("un-joined session received a dm")
	}
}

func TestRoomScenario_General(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	b, cb := joined(t, o, "B")
	drain(t, ca, cb)

	o.CreateRoom(a, "general")
	msgs := ca.take(t)
	created := ofType(msgs, core.EventCreateRoom)
	if len(created) != 1 || created[0].RoomID == "" {
		t.Fatalf("create_room reply = %+v", created)
	}
	id := created[0].RoomID
	if want := fmt.Sprintf("Room general created with Id %s", id); created[0].Content != want {
		t.Errorf("create_room content = %q, want %q", created[0].Content, want)
	}
	if lists := ofType(cb.take(t), core.EventRoomList); len(lists) != 1 || len(decodeRooms(t, lists[0])) != 1 {
		t.Errorf("bob did not get the new room list")
	}

	o.JoinRoom(b, id)
	if got := ofType(cb.take(t), core.EventJoinRoom); len(got) != 1 || got[0].Content != "You joined room general" {
		t.Errorf("join_room reply = %+v", got)
	}
	if got := ca.take(t); len(got) != 1 || got[0].Content != "B joined the room" || got[0].RoomID != id {
		t.Errorf("alice notice = %+v", got)
	}

	o.Disconnect(b)
	msgs = ca.take(t)
	left := ofType(msgs, core.EventLeaveRoom)
	if len(left) != 1 || left[0].Content != "B left the room" {
		t.Errorf("leave notice = %+v", left)
	}
	if room, ok := o.Rooms.Get(id); !ok || len(room.Users) != 1 {
		t.Errorf("room after B left = %+v, %v", room, ok)
	}

	o.LeaveRoom(a, id)
	if _, ok := o.Rooms.Get(id); ok {
		t.Errorf("room still exists after last member left")
	}
	lists := ofType(ca.take(t), core.EventRoomList)
	if len(lists) != 1 {
		t.Fatalf("got %d room lists after delete, want 1", len(lists))
	}
	if rooms := decodeRooms(t, lists[0]); len(rooms) != 0 {
		t.Errorf("room_list = %+v, want empty", rooms)
	}
}

func TestJoinRoom_Idempotent(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	b, cb := joined(t, o, "B")
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID
	drain(t, ca, cb)

	o.JoinRoom(b, id)
	o.JoinRoom(b, id)

	room, _ := o.Rooms.Get(id)
	if len(room.Users) != 2 {
		t.Errorf("member count = %d, want 2", len(room.Users))
	}
	if got := ca.take(t); len(got) != 1 {
		t.Errorf("alice got %d join notices, want 1", len(got))
	}
	if got := cb.take(t); len(got) != 2 {
		t.Errorf("bob got %d confirmations, want 2", len(got))
	}
}

func TestJoinRoom_UnknownRoom(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	drain(t, ca)

	o.JoinRoom(a, "missing")

	if got := ca.take(t); len(got) != 0 {
		t.Errorf("got %d messages for unknown room, want 0", len(got))
	}
}

func TestLeaveRoom_NotifiesRemaining(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	b, cb := joined(t, o, "B")
	c, cc := joined(t, o, "C")
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID
	o.JoinRoom(b, id)
	o.JoinRoom(c, id)
	drain(t, ca, cb, cc)

	o.LeaveRoom(b, id)

	for name, conn := range map[string]*recConn{"A": ca, "C": cc} {
		got := conn.take(t)
		if len(got) != 1 {
			t.Errorf("%s got %d messages, want 1", name, len(got))
			continue
		}
		m := got[0]
		if m.Type != core.EventLeaveRoom || m.Content != "B left the room" || m.RoomID != id {
			t.Errorf("%s got %+v", name, m)
		}
	}
	if got := cb.take(t); len(got) != 0 {
		t.Errorf("leaver got %d messages, want 0", len(got))
	}
	room, ok := o.Rooms.Get(id)
	if !ok || len(room.Users) != 2 {
		t.Errorf("room = %+v, %v, want 2 members", room, ok)
	}
	if room.Has(domain.UserID(b)) {
		t.Errorf("leaver still listed as member")
	}
}

func TestLeaveRoom_NotMember(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	b, cb := joined(t, o, "B")
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID
	drain(t, ca, cb)

	o.LeaveRoom(b, id)

	if n := len(ca.take(t)) + len(cb.take(t)); n != 0 {
		t.Errorf("got %d messages for non-member leave, want 0", n)
	}
	if _, ok := o.Rooms.Get(id); !ok {
		t.Errorf("room removed by non-member leave")
	}
}

func TestCreateRoom_OnlyMemberDisconnects(t *testing.T) {
	o := newOrch()
	a, _ := joined(t, o, "A")
	_, cb := joined(t, o, "B")
	o.CreateRoom(a, "solo")
	id := o.Rooms.ListAll()[0].ID
	drain(t, cb)

	o.Disconnect(a)

	if _, ok := o.Rooms.Get(id); ok {
		t.Errorf("room survived its only member")
	}
	msgs := cb.take(t)
	if len(ofType(msgs, core.EventLeaveRoom)) != 0 {
		t.Errorf("non-member got a leave notice")
	}
	lists := ofType(msgs, core.EventRoomList)
	if len(lists) != 1 || len(decodeRooms(t, lists[0])) != 0 {
		t.Errorf("room_list after disconnect = %+v", lists)
	}
}

func TestCreateRoom_TruncatesName(t *testing.T) {
	o := newOrch()
	o.MaxNameLen = 3
	a, _ := joined(t, o, "A")

	o.CreateRoom(a, "general")

	if name := o.Rooms.ListAll()[0].Name; name != "gen" {
		t.Errorf("room name = %q, want gen", name)
	}
}

func TestRoomMessage_ExactlyOncePerMember(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	b, cb := joined(t, o, "B")
	c, cc := joined(t, o, "C")
	_, cd := joined(t, o, "D")
	o.CreateRoom(a, "trio")
	id := o.Rooms.ListAll()[0].ID
	o.JoinRoom(b, id)
	o.JoinRoom(c, id)
	drain(t, ca, cb, cc, cd)

	o.RoomMessage(a, id, "hello room")

	for name, conn := range map[string]*recConn{"A": ca, "B": cb, "C": cc} {
		got := conn.take(t)
		if len(got) != 1 {
			t.Errorf("%s got %d copies, want 1", name, len(got))
			continue
		}
		if got[0].Type != core.EventRoomMessage || got[0].Content != "hello room" || got[0].SenderID != string(a) || got[0].RoomID != id {
			t.Errorf("%s got %+v", name, got[0])
		}
	}
	if got := cd.take(t); len(got) != 0 {
		t.Errorf("non-member got %d copies", len(got))
	}
}

func TestDisconnect_UserListExcludesGone(t *testing.T) {
	o := newOrch()
	var conns []*recConn
	var ids []core.SessionID
	for i := range 4 {
		sid, c := joined(t, o, fmt.Sprintf("user%d", i))
		ids = append(ids, sid)
		conns = append(conns, c)
	}
	drain(t, conns...)

	o.Disconnect(ids[1])

	for i, c := range conns {
		if i == 1 {
			continue
		}
		lists := ofType(c.take(t), core.EventUserList)
		if len(lists) != 1 {
			t.Fatalf("user%d got %d user lists, want 1", i, len(lists))
		}
		users := decodeUsers(t, lists[0])
		if len(users) != 3 {
			t.Errorf("user%d: user_list has %d entries, want 3", i, len(users))
		}
		for _, u := range users {
			if u.ID == domain.UserID(ids[1]) {
				t.Errorf("user_list still contains disconnected %s", ids[1])
			}
		}
	}
	if got := conns[1].take(t); len(got) != 0 {
		t.Errorf("disconnected session got %d messages", len(got))
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	o := newOrch()
	a, _ := joined(t, o, "A")
	_, cb := joined(t, o, "B")
	drain(t, cb)

	o.Disconnect(a)
	first := len(cb.take(t))
	o.Disconnect(a)
	o.Disconnect("never-registered")

	if first != 2 {
		t.Errorf("first disconnect sent %d messages, want 2", first)
	}
	if got := cb.take(t); len(got) != 0 {
		t.Errorf("repeated disconnect sent %d messages", len(got))
	}
}

func TestDisconnect_UnjoinedSessionUsesID(t *testing.T) {
	o := newOrch()
	a, ca := joined(t, o, "A")
	c := &recConn{}
	anon := o.Connect(c)
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID
	o.JoinRoom(anon, id)
	drain(t, ca)

	o.Disconnect(anon)

	left := ofType(ca.take(t), core.EventLeaveRoom)
	if len(left) != 1 || left[0].Content != fmt.Sprintf("%s left the room", anon) {
		t.Errorf("leave notice = %+v", left)
	}
}

func TestBackpressure_DropKeepsConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := newOrch()
	a, ca := joined(t, o, "A")
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID

	slow := mocks.NewMockSignalConnection(ctrl)
	slow.EXPECT().TrySend(gomock.Any()).Return(core.ErrBackpressure).Times(1)
	slow.EXPECT().Close().Times(0)
	sid := o.Connect(slow)
	o.Rooms.AddMember(id, sid)
	drain(t, ca)

	o.RoomMessage(a, id, "fast and slow")

	if got := ca.take(t); len(got) != 1 {
		t.Errorf("fast member got %d copies, want 1", len(got))
	}
	st := o.Stats()
	if st.Dropped != 1 || st.Kicked != 0 {
		t.Errorf("stats = %+v, want 1 dropped 0 kicked", st)
	}
}

func TestBackpressure_KickClosesSlowMember(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := newOrch()
	o.Policy = app.KickPolicy{}
	a, ca := joined(t, o, "A")
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID

	slow := mocks.NewMockSignalConnection(ctrl)
	slow.EXPECT().TrySend(gomock.Any()).Return(core.ErrBackpressure).Times(1)
	slow.EXPECT().Close().Times(1)
	sid := o.Connect(slow)
	o.Rooms.AddMember(id, sid)
	drain(t, ca)

	o.RoomMessage(a, id, "too fast")

	if got := ca.take(t); len(got) != 1 {
		t.Errorf("fast member got %d copies, want 1", len(got))
	}
	if o.Stats().Kicked != 1 {
		t.Errorf("Kicked = %d, want 1", o.Stats().Kicked)
	}
}

func TestBackpressure_ClosedConnNotKicked(t *testing.T) {
	ctrl := gomock.NewController(t)
	o := newOrch()
	o.Policy = app.KickPolicy{}
	a, _ := joined(t, o, "A")
	o.CreateRoom(a, "general")
	id := o.Rooms.ListAll()[0].ID

	gone := mocks.NewMockSignalConnection(ctrl)
	gone.EXPECT().TrySend(gomock.Any()).Return(core.ErrClosed).Times(1)
	gone.EXPECT().Close().Times(0)
	sid := o.Connect(gone)
	o.Rooms.AddMember(id, sid)

	o.RoomMessage(a, id, "anyone?")
}

func TestOnFrame_Counts(t *testing.T) {
	o := newOrch()
	c := &recConn{}
	sid := o.Connect(c)

	o.OnFrame(sid, []byte(`{"type":"join","content":"alice"}`))
	o.OnFrame(sid, []byte(`{"type":"typing"}`))
	o.OnFrame(sid, []byte(`{"type":"room_message","content":"x"}`))
	o.OnFrame(sid, []byte(`not json`))

	st := o.Stats()
	if st.Received != 4 || st.Dispatched != 1 || st.Unknown != 1 || st.Malformed != 2 {
		t.Errorf("stats = %+v", st)
	}
	if s, _ := o.Sessions.Get(sid); s.Username != "alice" {
		t.Errorf("join via OnFrame not applied: %+v", s)
	}
}

type panickyRegistry struct {
	*app.Registry
}

func (panickyRegistry) SetDisplayName(core.SessionID, string) bool {
	panic("boom")
}

func TestDispatch_RecoversPanic(t *testing.T) {
	o := newOrch()
	o.Sessions = panickyRegistry{app.NewRegistry()}
	c := &recConn{}
	sid := o.Connect(c)

	o.Dispatch(sid, &core.JoinEvent{Name: "alice"})
	o.Dispatch(sid, &core.CreateRoomEvent{Name: "after"})

	st := o.Stats()
	if st.Panics != 1 || st.Dispatched != 1 {
		t.Errorf("stats = %+v, want 1 panic 1 dispatched", st)
	}
	if len(o.Rooms.ListAll()) != 1 {
		t.Errorf("handler after panic did not run")
	}
}

func TestConcurrentTraffic(t *testing.T) {
	o := newOrch()
	owner, _ := joined(t, o, "owner")
	o.CreateRoom(owner, "busy")
	id := o.Rooms.ListAll()[0].ID

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &recConn{}
			sid := o.Connect(c)
			o.Join(sid, fmt.Sprintf("u%d", i))
			o.JoinRoom(sid, id)
			o.RoomMessage(sid, id, "hi")
			o.DirectMessage(sid, owner, "hey")
			o.LeaveRoom(sid, id)
			o.Disconnect(sid)
		}(i)
	}
	wg.Wait()

	if users := o.UserList(); len(users) != 1 {
		t.Errorf("user list = %+v, want only owner", users)
	}
	room, ok := o.Rooms.Get(id)
	if !ok || len(room.Users) != 1 {
		t.Errorf("room = %+v, %v, want owner only", room, ok)
	}
}
