package sd

import (
	"net"
	"testing"
	"time"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestCache_OfferAndLookup(t *testing.T) {
	c := NewCache()
	svc := RemoteService{ServiceID: 0x1234, InstanceID: 1, MajorVersion: 1, MinorVersion: 10, Addr: udpAddr(30500)}
	c.Offer(svc)

	got, ok := c.Lookup(0x1234, 1)
	if !ok || got != svc {
		t.Fatalf("Lookup = %+v, %v, want %+v, true", got, ok, svc)
	}
}

func TestCache_LookupAnyInstance(t *testing.T) {
	c := NewCache()
	svc := RemoteService{ServiceID: 0x1234, InstanceID: 7, Addr: udpAddr(30500)}
	c.Offer(svc)

	got, ok := c.Lookup(0x1234, AnyInstance)
	if !ok || got.InstanceID != 7 {
		t.Fatalf("Lookup(AnyInstance) = %+v, %v", got, ok)
	}
}

func TestCache_StopOfferRemoves(t *testing.T) {
	c := NewCache()
	svc := RemoteService{ServiceID: 0x1234, InstanceID: 1, Addr: udpAddr(1)}
	c.Offer(svc)
	c.StopOffer(0x1234, 1)
	if _, ok := c.Lookup(0x1234, 1); ok {
		t.Fatal("expected service removed after StopOffer")
	}
}

func TestCache_OfferReplacesEndpointSilently(t *testing.T) {
	c := NewCache()
	c.Offer(RemoteService{ServiceID: 1, InstanceID: 1, Addr: udpAddr(100)})
	c.Offer(RemoteService{ServiceID: 1, InstanceID: 1, Addr: udpAddr(200)})
	got, _ := c.Lookup(1, 1)
	if got.Addr.(*net.UDPAddr).Port != 200 {
		t.Fatalf("expected replaced endpoint port 200, got %v", got.Addr)
	}
}

func TestCache_AwaitAny_ResolvesImmediatelyIfCached(t *testing.T) {
	c := NewCache()
	c.Offer(RemoteService{ServiceID: 5, InstanceID: 1, Addr: udpAddr(1)})

	select {
	case svc := <-c.AwaitAny(5):
		if svc.ServiceID != 5 {
			t.Fatalf("got %+v", svc)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate delivery")
	}
}

func TestCache_AwaitAny_WakesOnLaterOffer(t *testing.T) {
	c := NewCache()
	waiter := c.AwaitAny(9)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Offer(RemoteService{ServiceID: 9, InstanceID: 1, Addr: udpAddr(1)})
	}()

	select {
	case svc := <-waiter:
		if svc.ServiceID != 9 {
			t.Fatalf("got %+v", svc)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for offer")
	}
}

func TestCache_CancelWait(t *testing.T) {
	c := NewCache()
	waiter := c.AwaitAny(11)
	c.CancelWait(11, waiter)
	if len(c.waiters[11]) != 0 {
		t.Fatal("expected waiter removed")
	}
}
