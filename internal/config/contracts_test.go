package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func writeContracts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write contracts file: %v", err)
	}
	return path
}

func TestLoadContracts(t *testing.T) {
	path := writeContracts(t, `[
		{"name": "pool", "address": "0xAAAAbbbbCCCCddddEEEEffff0000111122223333", "creationBlock": 1200},
		{"name": "router", "address": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "creationBlock": 45}
	]`)

	contracts, err := LoadContracts(path)
	if err != nil {
		t.Fatalf("LoadContracts: %v", err)
	}
	if len(contracts) != 2 {
		t.Fatalf("got %d contracts, want 2", len(contracts))
	}
	if contracts[0].Name != "pool" || contracts[0].CreationBlock != 1200 {
		t.Fatalf("first contract mismatch: %+v", contracts[0])
	}
	want := common.HexToAddress("0xAAAAbbbbCCCCddddEEEEffff0000111122223333")
	if contracts[0].Address != want {
		t.Fatalf("first contract address mismatch: %s", contracts[0].Address.Hex())
	}
}

func TestLoadContractsRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty list", `[]`},
		{"not json", `{`},
		{"missing address", `[{"name": "pool", "creationBlock": 10}]`},
		{"invalid address", `[{"name": "pool", "address": "0x1234", "creationBlock": 10}]`},
		{"zero creation block", `[{"name": "pool", "address": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "creationBlock": 0}]`},
		{"duplicate address", `[
			{"name": "pool", "address": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "creationBlock": 10},
			{"name": "alias", "address": "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "creationBlock": 20}
		]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeContracts(t, tt.content)
			if _, err := LoadContracts(path); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestLoadContractsMissingFile(t *testing.T) {
	if _, err := LoadContracts(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
