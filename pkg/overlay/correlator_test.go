package overlay

import (
	"errors"
	"testing"
)

func TestCorrelatorRedrawsCollidingIdentifiers(t *testing.T) {
	c := newCorrelator()
	ids := []uint32{5, 5, 5, 6}
	c.nextID = func() uint32 {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := c.register()
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	second, err := c.register()
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	if first.id != 5 || second.id != 6 {
		t.Fatalf("ids=%d,%d, want 5,6", first.id, second.id)
	}
}

func TestCorrelatorRandomIdentifiersInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := randomRequestID()
		if id < minRequestID || id >= maxRequestID {
			t.Fatalf("randomRequestID=%d, want [%d,%d)", id, minRequestID, maxRequestID)
		}
	}
}

func TestCorrelatorResolveFulfillsOnce(t *testing.T) {
	c := newCorrelator()
	p, err := c.register()
	if err != nil {
		t.Fatalf("register error: %v", err)
	}

	if !c.resolve(p.id, Envelope{Cmd: CommandGetGuildList}) {
		t.Fatal("resolve=false, want true")
	}
	if c.resolve(p.id, Envelope{Cmd: CommandGetGuildList}) {
		t.Fatal("second resolve=true, want false")
	}
	if c.fail(p.id, errors.New("late")) {
		t.Fatal("fail after resolve=true, want false")
	}

	res := <-p.done
	if res.err != nil || res.envelope.Cmd != CommandGetGuildList {
		t.Fatalf("result=%+v, want get_guild_list reply", res)
	}
	if got := c.pendingCount(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
}

func TestCorrelatorUnknownReply(t *testing.T) {
	c := newCorrelator()
	if c.resolve(42, Envelope{Cmd: CommandAuthorize}) {
		t.Fatal("resolve(unknown)=true, want false")
	}
}

func TestCorrelatorCloseAllReleasesPending(t *testing.T) {
	c := newCorrelator()
	var pending []*pendingRequest
	for i := 0; i < 5; i++ {
		p, err := c.register()
		if err != nil {
			t.Fatalf("register error: %v", err)
		}
		pending = append(pending, p)
	}

	if got := c.closeAll(ErrConnectionClosed); got != 5 {
		t.Fatalf("closeAll released=%d, want 5", got)
	}
	for _, p := range pending {
		res := <-p.done
		if !errors.Is(res.err, ErrConnectionClosed) {
			t.Fatalf("result err=%v, want ErrConnectionClosed", res.err)
		}
	}
	if _, err := c.register(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("register after close error=%v, want ErrConnectionClosed", err)
	}
}
