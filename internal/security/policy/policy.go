// Package policy implements the six-state verification of the user's
// workspace security policy (LocalGPT.md): it checks the file exists, is
// signed, and is untampered, then sanitizes its content before it can be
// trusted for a turn.
package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ehrlich-b/localgpt/internal/security/devicekey"
)

// MaxPolicyChars is the hard size cap on sanitized policy content. Oversize
// content is truncated with a visible notice, never rejected outright.
const MaxPolicyChars = 4096

// State names the six terminal outcomes of verification. Exactly one is
// produced per call to Verify; callers must switch on it rather than
// collapse it to a single error.
type State int

const (
	Missing State = iota
	Unsigned
	ManifestCorrupted
	TamperDetected
	SuspiciousContent
	Valid
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Unsigned:
		return "unsigned"
	case ManifestCorrupted:
		return "manifest_corrupted"
	case TamperDetected:
		return "tamper_detected"
	case SuspiciousContent:
		return "suspicious_content"
	case Valid:
		return "valid"
	default:
		return "unknown"
	}
}

// Result is the outcome of Verify. SanitizedContent is populated only for
// Valid; Warnings is populated only for SuspiciousContent.
type Result struct {
	State            State
	SanitizedContent string
	Warnings         []string
}

// injectionMarkers are role/delimiter tokens an attacker might smuggle into
// the policy file to impersonate a system or tool message. Each is replaced
// with a visible placeholder rather than silently dropped, so the content
// stays legible to the user (and audit log) without functioning as a role
// boundary for the model.
var injectionMarkers = []string{
	"<|system|>", "<|user|>", "<|assistant|>", "<|tool|>",
	"[INST]", "[/INST]", "<<SYS>>", "<</SYS>>",
	"<system>", "</system>", "<tool_output>", "</tool_output>",
}

// suspiciousPatterns flag content that reads as an attempt to override the
// agent's instructions rather than constrain it. Matching any of these
// rejects the policy outright (SuspiciousContent) rather than sanitizing
// around it — a policy file is meant to restrict, not to carry commands.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) instructions?`),
	regexp.MustCompile(`(?i)disregard (all |any )?(previous|prior|above) (instructions?|rules?)`),
	regexp.MustCompile(`(?i)you are now\b`),
	regexp.MustCompile(`(?i)new instructions?:`),
	regexp.MustCompile(`(?i)override (your|the) (role|rules|instructions)`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)act as (if you|though you)`),
}

// Verify runs the full state machine against the policy file at
// workspace/LocalGPT.md using the device key in stateDir.
func Verify(workspace, stateDir string) Result {
	content, err := os.ReadFile(policyPath(workspace))
	if os.IsNotExist(err) {
		return Result{State: Missing}
	}
	if err != nil {
		return Result{State: Missing}
	}

	manifest, err := devicekey.ReadManifest(workspace)
	if errors.Is(err, os.ErrNotExist) {
		return Result{State: Unsigned}
	}
	if err != nil {
		return Result{State: ManifestCorrupted}
	}

	key, err := devicekey.ReadDeviceKey(stateDir)
	if err != nil {
		return Result{State: ManifestCorrupted}
	}

	text := string(content)
	if devicekey.ContentSHA256(text) != manifest.ContentSHA256 {
		return Result{State: TamperDetected}
	}
	if devicekey.ComputeHMAC(key, text) != manifest.HMACSHA256 {
		return Result{State: TamperDetected}
	}

	sanitized, warnings := Sanitize(text)
	if len(warnings) > 0 {
		return Result{State: SuspiciousContent, Warnings: warnings}
	}
	return Result{State: Valid, SanitizedContent: sanitized}
}

// Sanitize strips injection markers, flags suspicious patterns, and
// truncates to MaxPolicyChars characters. Tool output goes through
// SanitizeToolOutput instead, where matches are logged rather than
// blocking; here, a non-empty warnings slice means the caller must reject
// the content.
func Sanitize(content string) (string, []string) {
	cleaned := content
	for _, marker := range injectionMarkers {
		cleaned = strings.ReplaceAll(cleaned, marker, "[REDACTED]")
	}

	var warnings []string
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(cleaned) {
			warnings = append(warnings, fmt.Sprintf("matched suspicious pattern: %s", pattern.String()))
		}
	}
	if len(warnings) > 0 {
		return "", warnings
	}

	if runes := []rune(cleaned); len(runes) > MaxPolicyChars {
		cleaned = string(runes[:MaxPolicyChars]) + "\n\n[TRUNCATED: policy exceeded 4096 characters]"
	}
	return cleaned, nil
}

// SanitizeToolOutput strips injection markers and flags suspicious
// patterns the same way Sanitize does, but never blocks: tool output is
// data the turn must still see to react to, so a match is reported as a
// warning for the audit log rather than rejected outright the way a
// policy file match is.
func SanitizeToolOutput(content string) (string, []string) {
	cleaned := content
	for _, marker := range injectionMarkers {
		cleaned = strings.ReplaceAll(cleaned, marker, "[REDACTED]")
	}

	var warnings []string
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(cleaned) {
			warnings = append(warnings, fmt.Sprintf("matched suspicious pattern: %s", pattern.String()))
		}
	}
	return cleaned, warnings
}

func policyPath(workspace string) string {
	return workspace + string(os.PathSeparator) + "LocalGPT.md"
}
