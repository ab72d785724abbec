package mqtt

import "testing"

func TestBrokerURL(t *testing.T) {
	cases := map[string]string{
		"mqtt://broker:1883":  "tcp://broker:1883",
		"mqtts://broker:8883": "ssl://broker:8883",
		"broker:1883":         "tcp://broker:1883",
		"tcp://broker:1883":   "tcp://broker:1883",
		" ws://broker:9001 ":  "ws://broker:9001",
	}
	for in, want := range cases {
		if got := BrokerURL(in); got != want {
			t.Fatalf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
