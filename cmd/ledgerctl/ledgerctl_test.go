package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/integrity"
	"github.com/CaioWing/Ledger/internal/ledger"
	"github.com/CaioWing/Ledger/internal/repository/memory"
)

func TestGenerateKey(t *testing.T) {
	var out bytes.Buffer
	if err := generateKey(&out, bytes.NewReader(bytes.Repeat([]byte{0xab}, 16)), 16, "v3"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	secret := strings.Repeat("ab", 16)
	want := "LEDGER_HMAC_KEY_ID=v3\nLEDGER_HMAC_KEY=" + secret + "\n"
	if !strings.HasPrefix(out.String(), want) {
		t.Fatalf("unexpected output %q", out.String())
	}
	if !strings.Contains(out.String(), "v3="+secret) {
		t.Fatalf("missing key spec entry in %q", out.String())
	}

	keys, err := integrity.ParseKeySpec("v3=" + secret)
	if err != nil || len(keys) != 1 {
		t.Fatalf("generated entry does not parse: %v", err)
	}
}

func TestGenerateKeyErrors(t *testing.T) {
	tests := []struct {
		name string
		size int
		id   string
	}{
		{"too short", 8, "v1"},
		{"empty id", 32, " "},
		{"id with separator", 32, "a=b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := generateKey(io.Discard, nil, tt.size, tt.id); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	short := bytes.NewReader([]byte{1, 2, 3})
	if err := generateKey(io.Discard, short, 32, "v1"); err == nil {
		t.Fatal("expected error when randomness runs out")
	}
}

func TestRunVerify(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys, _ := integrity.NewKeyring(integrity.Key{ID: "v1", Secret: []byte("ctl-secret")})
	repo := memory.NewActivityRepo()
	l := ledger.New(repo, keys, log, ledger.Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, ledger.Event{Action: "create", Resource: "users"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	verifier := ledger.NewVerifier(repo, keys, log)

	var out bytes.Buffer
	if err := runVerify(ctx, verifier, ledger.VerifyOptions{}, &out); err != nil {
		t.Fatalf("verify intact chain: %v", err)
	}
	var report domain.VerificationReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if !report.Valid || report.Checked != 3 {
		t.Fatalf("unexpected report %+v", report)
	}

	repo.Remove(2)
	out.Reset()
	err := runVerify(ctx, verifier, ledger.VerifyOptions{CollectAll: true}, &out)
	if err == nil || !strings.Contains(err.Error(), "first at sequence 3") {
		t.Fatalf("expected failure at sequence 3, got %v", err)
	}
	if !strings.Contains(out.String(), `"SequenceGap"`) {
		t.Fatalf("report not printed before failing: %s", out.String())
	}
}
