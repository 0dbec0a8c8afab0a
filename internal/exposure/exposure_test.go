package exposure

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDirectoryExposeUnexpose(t *testing.T) {
	d := NewDirectory()
	h := NewHandles("main")

	if err := d.Expose(h.Queue("orders", "orders", "ANYCAST"), struct{}{}); err != nil {
		t.Fatalf("expose queue: %v", err)
	}
	if err := d.Expose(h.Address("orders"), "addr"); err != nil {
		t.Fatalf("expose address: %v", err)
	}
	if err := d.Expose(h.Address("orders"), 42); err != nil {
		t.Fatalf("re-expose address: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("expected 2 exposed objects, got %d", d.Len())
	}
	if obj, _ := d.Lookup(h.Address("orders")); obj != 42 {
		t.Fatalf("expected replacement object, got %v", obj)
	}

	want := []Entry{
		{Handle: `broker="main",component=addresses,address="orders"`, Type: "int"},
		{Handle: `broker="main",component=addresses,address="orders",subcomponent=queues,routing-type="anycast",queue="orders"`, Type: "struct {}"},
	}
	if diff := cmp.Diff(want, d.List("")); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if got := d.List("subcomponent=queues"); len(got) != 1 {
		t.Fatalf("expected one queue entry, got %v", got)
	}

	if err := d.Unexpose(h.Address("orders")); err != nil {
		t.Fatalf("unexpose: %v", err)
	}
	if err := d.Unexpose(h.Address("orders")); !errors.Is(err, ErrNotExposed) {
		t.Fatalf("expected ErrNotExposed, got %v", err)
	}
}

func TestDirectoryRejectsInvalid(t *testing.T) {
	d := NewDirectory()
	if err := d.Expose(" ", 1); !errors.Is(err, ErrEmptyHandle) {
		t.Fatalf("expected ErrEmptyHandle, got %v", err)
	}
	if err := d.Expose("x", nil); err == nil {
		t.Fatalf("expected nil object to be rejected")
	}
}

func TestHandles(t *testing.T) {
	h := NewHandles("main")
	cases := map[string]string{
		h.Broker():                          `broker="main"`,
		h.Security():                        `broker="main",component=security`,
		h.Acceptor("amqp"):                  `broker="main",component=acceptors,name="amqp"`,
		h.Divert("audit", "orders"):         `broker="main",component=addresses,address="orders",subcomponent=diverts,divert="audit"`,
		h.RemoteBrokerConnection("n1", "m"): `broker="main",component=remote-broker-connections,name="m",node-id="n1"`,
		h.ConnectionRouter("r"):             `broker="main",component=connection-routers,name="r"`,
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}
