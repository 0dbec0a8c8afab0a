package config

import "testing"

func FuzzParseFormatRoundTrip(f *testing.F) {
	f.Add([]byte("broker dev\n"))
	f.Add([]byte(`
admin_api { listen 127.0.0.1:8161
}
security {
  token "raw:a b" {
    user admin
  }
}
`))
	f.Add([]byte(`
# seeded resources
resources {
  queue orders {
    filter "a = 'x\"y'"
    address {env.ORDERS_ADDRESS}
  }
  address empty {}
}
`))

	f.Add([]byte(`
grpc_api {
  listen :9090
  rate_limit 2.5 10
}
resources {
  cluster_connection my-cluster {
    member node-b tcp://node-b:61616
  }
}
`))

	f.Fuzz(func(t *testing.T, input []byte) {
		cfg, err := Parse(input)
		if err != nil {
			return
		}

		formatted, err := Format(cfg)
		if err != nil {
			t.Fatalf("format parsed config: %v", err)
		}

		cfg2, err := Parse(formatted)
		if err != nil {
			t.Fatalf("parse formatted config: %v\nformatted:\n%s", err, string(formatted))
		}

		again, err := Format(cfg2)
		if err != nil {
			t.Fatalf("format re-parsed config: %v", err)
		}
		if string(again) != string(formatted) {
			t.Fatalf("format not stable:\n%s\nthen:\n%s", formatted, again)
		}

		_ = ValidateWithResult(cfg2)
	})
}
