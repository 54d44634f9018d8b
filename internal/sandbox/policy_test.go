package sandbox

import (
	"strings"
	"testing"
)

func TestEffectiveLevelNeverExceedsSupported(t *testing.T) {
	if got := EffectiveLevel(Full, Standard); got != Standard {
		t.Errorf("EffectiveLevel(Full, Standard) = %v, want Standard", got)
	}
	if got := EffectiveLevel(Minimal, Full); got != Minimal {
		t.Errorf("EffectiveLevel(Minimal, Full) = %v, want Minimal", got)
	}
	if got := EffectiveLevel(None, None); got != None {
		t.Errorf("EffectiveLevel(None, None) = %v, want None", got)
	}
}

func TestPolicyJSONRoundTrip(t *testing.T) {
	p := BuildPolicy("/home/user/workspace", Standard, []string{"/tmp/extra"}, nil, DenyNetwork(), 30, 65536)
	s, err := p.toJSON()
	if err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	got, err := policyFromJSON(s)
	if err != nil {
		t.Fatalf("policyFromJSON: %v", err)
	}
	if got.Workspace != p.Workspace || got.Level != p.Level || got.TimeoutSecs != p.TimeoutSecs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestBuildPolicyIncludesCredentialDenyDirs(t *testing.T) {
	p := BuildPolicy("/workspace", Standard, nil, nil, DenyNetwork(), 30, 65536)
	if len(p.DenyRoots) == 0 {
		t.Fatal("expected default credential deny roots to be populated")
	}
}

func TestPolicyNetworkJSONShape(t *testing.T) {
	p := BuildPolicy("/workspace", Standard, nil, nil, AllowProxyNetwork("127.0.0.1:4000"), 30, 65536)
	s, err := p.toJSON()
	if err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	if !strings.Contains(s, `"mode":"allow-proxy"`) || !strings.Contains(s, `"path":"127.0.0.1:4000"`) {
		t.Fatalf("expected wire-format network field, got %s", s)
	}

	got, err := policyFromJSON(s)
	if err != nil {
		t.Fatalf("policyFromJSON: %v", err)
	}
	if got.Network.Mode != NetworkAllowProxy || got.Network.Path != "127.0.0.1:4000" {
		t.Fatalf("round trip mismatch: got %+v", got.Network)
	}
}

func TestPolicyToConfigMapsNetworkMode(t *testing.T) {
	deny := BuildPolicy("/workspace", Standard, nil, nil, DenyNetwork(), 30, 65536)
	if got := deny.toConfig().NetworkNeed; got != NetworkNone {
		t.Errorf("deny policy: got NetworkNeed %v, want NetworkNone", got)
	}

	proxied := BuildPolicy("/workspace", Standard, nil, nil, AllowProxyNetwork("127.0.0.1:4000"), 30, 65536)
	if got := proxied.toConfig().NetworkNeed; got != NetworkHTTPS {
		t.Errorf("allow-proxy policy: got NetworkNeed %v, want NetworkHTTPS", got)
	}
}

func TestIsSandboxChild(t *testing.T) {
	if !IsSandboxChild(SentinelArgv0) {
		t.Error("expected exact sentinel match")
	}
	if !IsSandboxChild("/usr/local/bin/" + SentinelArgv0) {
		t.Error("expected suffix match on full path")
	}
	if IsSandboxChild("localgpt") {
		t.Error("did not expect plain binary name to match")
	}
}

func TestCapStream(t *testing.T) {
	small := []byte("hello")
	out, truncated := capStream(small, 100)
	if truncated || out != "hello" {
		t.Fatalf("expected no truncation, got %q truncated=%v", out, truncated)
	}

	big := make([]byte, 200)
	for i := range big {
		big[i] = 'x'
	}
	out, truncated = capStream(big, 50)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if len(out) <= 50 {
		t.Fatalf("expected truncated output to include notice beyond cap, len=%d", len(out))
	}
}

func TestCombineOutputSeparatesStreams(t *testing.T) {
	out, truncated := combineOutput([]byte("stdout line"), []byte("stderr line"), 1024)
	if truncated {
		t.Fatal("expected no truncation within budget")
	}
	want := "stdout line" + stderrSeparator + "stderr line"
	if out != want {
		t.Fatalf("combined output = %q, want %q", out, want)
	}

	// No stderr: no separator appears.
	out, _ = combineOutput([]byte("just stdout"), nil, 1024)
	if strings.Contains(out, "STDERR:") {
		t.Fatalf("unexpected separator without stderr: %q", out)
	}
}

func TestCombineOutputCapsEachStream(t *testing.T) {
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'o'
	}

	// stdout consumes the whole budget: stderr still appears, capped to
	// zero raw bytes plus its own notice.
	out, truncated := combineOutput(big, []byte("stderr content"), 50)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.Contains(out, stderrSeparator) {
		t.Fatalf("expected visible stderr separator, got %q", out)
	}
	if strings.Contains(out, "stderr content") {
		t.Fatalf("stderr should have no budget left, got %q", out)
	}

	// Short stdout leaves stderr the remaining budget.
	out, truncated = combineOutput([]byte("ok"), big, 50)
	if !truncated {
		t.Fatal("expected stderr truncation")
	}
	if !strings.HasPrefix(out, "ok"+stderrSeparator) {
		t.Fatalf("expected stdout then separator, got %q", out)
	}
	rawStderr := strings.TrimSuffix(strings.TrimPrefix(out, "ok"+stderrSeparator), truncationNotice)
	if len(rawStderr) != 48 {
		t.Fatalf("expected stderr capped at remaining 48 bytes, got %d", len(rawStderr))
	}
}
