// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wire

import (
	"net"
	"testing"
	"time"
)

func TestFloatCodeRoundTripSmallValues(t *testing.T) {
	for v := uint32(0); v < 128; v++ {
		code := EncodeFloatCode(v)
		if code != uint8(v) {
			t.Fatalf("value %d: expected verbatim code, got %d", v, code)
		}
		if got := DecodeFloatCode(code); got != v {
			t.Fatalf("value %d: decode mismatch, got %d", v, got)
		}
	}
}

func TestFloatCodeRoundTripExactLargeValues(t *testing.T) {
	// 200 = (9|0x10)<<3, an exactly representable large value.
	code := EncodeFloatCode(200)
	if got := DecodeFloatCode(code); got != 200 {
		t.Fatalf("expected exact round trip for 200, got %d", got)
	}
}

func TestFloatCodeRoundsUpInexactValues(t *testing.T) {
	code := EncodeFloatCode(201)
	got := DecodeFloatCode(code)
	if got < 201 {
		t.Fatalf("decoded value %d is less than requested 201", got)
	}
}

func TestChecksumSelfConsistent(t *testing.T) {
	q := EncodeQuery(QueryParams{MaxRespTime: 10 * time.Second, QRV: 2, QQI: 125 * time.Second})
	if Checksum(q) != 0 {
		t.Fatalf("expected checksum to validate to 0, buffer: %x", q)
	}
}

func TestEncodeDecodeGeneralQuery(t *testing.T) {
	q := EncodeQuery(QueryParams{
		MaxRespTime: 10 * time.Second,
		QRV:         2,
		QQI:         125 * time.Second,
	})

	msg, err := Decode(q)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindQuery {
		t.Fatalf("expected KindQuery, got %v", msg.Kind)
	}
	if !msg.QueryGroup.Equal(net.IPv4zero) && msg.QueryGroup != nil {
		t.Errorf("expected general query group to be unspecified, got %v", msg.QueryGroup)
	}
	if msg.MaxRespTime != 10*time.Second {
		t.Errorf("expected max resp time 10s, got %v", msg.MaxRespTime)
	}
	if msg.QRV != 2 {
		t.Errorf("expected QRV 2, got %d", msg.QRV)
	}
	if msg.QQI != 125*time.Second {
		t.Errorf("expected QQI 125s, got %v", msg.QQI)
	}
}

func TestEncodeDecodeGroupAndSourceQuery(t *testing.T) {
	sources := []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2")}
	q := EncodeQuery(QueryParams{
		MaxRespTime: time.Second,
		Group:       net.ParseIP("239.1.1.1"),
		Sources:     sources,
		SFlag:       true,
		QRV:         2,
		QQI:         125 * time.Second,
	})

	msg, err := Decode(q)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !msg.QueryGroup.Equal(net.ParseIP("239.1.1.1")) {
		t.Errorf("expected group 239.1.1.1, got %v", msg.QueryGroup)
	}
	if !msg.SFlag {
		t.Error("expected S flag set")
	}
	if len(msg.QuerySources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(msg.QuerySources))
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	q := EncodeQuery(QueryParams{MaxRespTime: time.Second, QRV: 2, QQI: 125 * time.Second})
	q[3] ^= 0xFF // corrupt checksum

	if _, err := Decode(q); err == nil {
		t.Fatal("expected checksum validation failure")
	}
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	if _, err := Decode([]byte{0x11, 0x00}); err == nil {
		t.Fatal("expected error for too-short packet")
	}
}

func TestRouterAlertOption(t *testing.T) {
	opt := RouterAlertOption()
	if len(opt) != 4 {
		t.Fatalf("expected 4-byte router alert option, got %d bytes", len(opt))
	}
	if opt[0] != 0x94 || opt[1] != 0x04 {
		t.Errorf("unexpected router alert option bytes: %x", opt)
	}
}
