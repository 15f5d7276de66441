package relay

import "testing"

func TestAdmissionLimiterAllowsUntilFailureBudgetExhausted(t *testing.T) {
	l := newAdmissionLimiter(1, 3)
	ip := "203.0.113.9"

	for i := 0; i < 3; i++ {
		if !l.allow(ip) {
			t.Fatalf("attempt %d should be allowed before any failures are recorded", i)
		}
		l.recordFailure(ip)
	}
	if l.allow(ip) {
		t.Fatal("attempt after exhausting the failure budget should be throttled")
	}
}

func TestAdmissionLimiterIsolatesBySourceIP(t *testing.T) {
	l := newAdmissionLimiter(1, 1)

	l.recordFailure("203.0.113.1")
	if l.allow("203.0.113.1") {
		t.Fatal("this IP's single-token budget should be exhausted")
	}
	if !l.allow("203.0.113.2") {
		t.Fatal("a different source IP must have its own independent budget")
	}
}

func TestMcpLogLimiterThrottlesAfterBurst(t *testing.T) {
	l := newMcpLogLimiter(1)

	if !l.allow() {
		t.Fatal("first request within burst should be allowed")
	}
	if l.allow() {
		t.Fatal("second immediate request should be throttled at a rate of 1/s")
	}
}
