package resource

import "testing"

func TestParseName(t *testing.T) {
	cases := []struct {
		in       string
		wantKind Kind
		wantName string
	}{
		{in: "broker", wantKind: KindBroker, wantName: ""},
		{in: "security", wantKind: KindSecurity, wantName: ""},
		{in: "address.orders", wantKind: KindAddress, wantName: "orders"},
		{in: "queue.orders", wantKind: KindQueue, wantName: "orders"},
		{in: "queue.orders.dlq", wantKind: KindQueue, wantName: "orders.dlq"},
		{in: "acceptor.amqp", wantKind: KindAcceptor, wantName: "amqp"},
		{in: "broadcastgroup.bg", wantKind: KindBroadcastGroup, wantName: "bg"},
		{in: "brokerconnection.mirror", wantKind: KindBrokerConnection, wantName: "mirror"},
		{in: "remotebrokerconnection.node1.mirror", wantKind: KindRemoteBrokerConnection, wantName: "node1.mirror"},
		{in: "bridge.b1", wantKind: KindBridge, wantName: "b1"},
		{in: "clusterconnection.c", wantKind: KindClusterConnection, wantName: "c"},
		{in: "connectionrouter.r", wantKind: KindConnectionRouter, wantName: "r"},
		{in: "divert.audit", wantKind: KindDivert, wantName: "audit"},
		{in: "broker.extra", wantKind: KindUntyped, wantName: "broker.extra"},
		{in: "jms.topic.news", wantKind: KindUntyped, wantName: "jms.topic.news"},
		{in: ".hidden", wantKind: KindUntyped, wantName: ".hidden"},
		{in: "plain", wantKind: KindUntyped, wantName: "plain"},
		{in: "", wantKind: KindUntyped, wantName: ""},
	}
	for _, tc := range cases {
		kind, name := ParseName(tc.in)
		if kind != tc.wantKind || name != tc.wantName {
			t.Fatalf("ParseName(%q) = (%q, %q), want (%q, %q)", tc.in, kind, name, tc.wantKind, tc.wantName)
		}
	}
}

func TestNameRoundTrip(t *testing.T) {
	for _, kind := range Kinds {
		if kind == KindUntyped {
			continue
		}
		composite := Name(kind, "orders")
		gotKind, gotName := ParseName(composite)
		if gotKind != kind {
			t.Fatalf("kind for %q = %q, want %q", composite, gotKind, kind)
		}
		if kind == KindBroker || kind == KindSecurity {
			if gotName != "" {
				t.Fatalf("expected empty name for singleton %q, got %q", kind, gotName)
			}
			continue
		}
		if gotName != "orders" {
			t.Fatalf("name for %q = %q, want orders", composite, gotName)
		}
	}
	if got := Name(KindUntyped, "a.b"); got != "a.b" {
		t.Fatalf("untyped name = %q, want a.b", got)
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind(" Queue "); !ok || k != KindQueue {
		t.Fatalf("expected queue, got %q ok=%v", k, ok)
	}
	if _, ok := ParseKind("topic"); ok {
		t.Fatalf("expected unknown kind")
	}
}
