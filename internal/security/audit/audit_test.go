package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndVerifyChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := Open(path)

	for i := 0; i < 5; i++ {
		if err := log.Append(Verified, "deadbeef", "cli", ""); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	broken, err := log.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected intact chain, broken = %v", broken)
	}

	entries, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("len(entries) = %d, want 5", len(entries))
	}
	if entries[0].PrevEntrySHA256 != GenesisHash {
		t.Fatalf("first entry prev = %q, want genesis", entries[0].PrevEntrySHA256)
	}
}

func TestCorruptionTriggersChainRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := Open(path)

	if err := log.Append(Signed, "aaa", "cli", ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(Verified, "bbb", "cli", ""); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Append a corrupt (non-JSON) line after the last entry.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	corrupted := append(b, []byte("not json\n")...)
	if err := os.WriteFile(path, corrupted, 0o600); err != nil {
		t.Fatalf("write corrupted log: %v", err)
	}

	broken, err := log.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if len(broken) != 1 || broken[0] != 2 {
		t.Fatalf("broken = %v, want [2]", broken)
	}

	if err := log.Append(TamperDetected, "ccc", "cli", ""); err != nil {
		t.Fatalf("Append after corruption: %v", err)
	}

	entries, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// signed, verified, chain_recovery, tamper_detected
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4: %+v", len(entries), entries)
	}
	if entries[2].Action != ChainRecovery {
		t.Fatalf("entries[2].Action = %q, want chain_recovery", entries[2].Action)
	}

	// The corrupted line itself remains a permanent, truthful record of
	// tampering; only the chain *after* it is restored to integrity.
	broken, err = log.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain after recovery: %v", err)
	}
	if len(broken) != 1 || broken[0] != 2 {
		t.Fatalf("broken after recovery = %v, want [2]", broken)
	}
}
