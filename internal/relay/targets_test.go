package relay

import "testing"

func newTestServer() *Server {
	return NewServer(DefaultConfig())
}

func TestTargetCreatedInsertsEntry(t *testing.T) {
	s := newTestServer()
	s.onTargetCreated(map[string]any{
		"targetInfo": map[string]any{
			"targetId": "T1",
			"type":     "page",
			"title":    "Example",
			"url":      "https://example.com",
		},
	})

	info, ok := s.targets.byID("T1")
	if !ok {
		t.Fatal("target T1 was not inserted")
	}
	if info.Title != "Example" || info.URL != "https://example.com" {
		t.Fatalf("unexpected target info: %#v", info)
	}
}

func TestTargetAttachedRecordsSession(t *testing.T) {
	s := newTestServer()
	s.onTargetAttached(map[string]any{
		"sessionId": "S1",
		"targetInfo": map[string]any{
			"targetId": "T1",
			"type":     "page",
		},
	})

	info, ok := s.targets.byID("T1")
	if !ok {
		t.Fatal("target T1 was not inserted by attach")
	}
	if !info.Attached || info.SessionID != "S1" {
		t.Fatalf("target not marked attached to S1: %#v", info)
	}

	bySession, ok := s.targets.bySession("S1")
	if !ok || bySession.TargetID != "T1" {
		t.Fatalf("bySession lookup failed: %#v", bySession)
	}
}

func TestTargetDetachedClearsSessionAndAttachment(t *testing.T) {
	s := newTestServer()
	s.onTargetAttached(map[string]any{
		"sessionId":  "S1",
		"targetInfo": map[string]any{"targetId": "T1", "type": "page"},
	})
	s.attachSession("client-a", "S1")

	s.onTargetDetached(map[string]any{"sessionId": "S1"})

	info, _ := s.targets.byID("T1")
	if info.Attached || info.SessionID != "" {
		t.Fatalf("target should be detached: %#v", info)
	}
	if clients := s.sessionAttach["S1"]; len(clients) != 0 {
		t.Fatalf("session attachment table should be cleared, got %#v", clients)
	}
}

func TestTargetInfoChangedUpdatesTitleAndURL(t *testing.T) {
	s := newTestServer()
	s.onTargetCreated(map[string]any{
		"targetInfo": map[string]any{"targetId": "T1", "type": "page", "title": "old", "url": "https://old"},
	})
	s.onTargetInfoChanged(map[string]any{
		"targetInfo": map[string]any{"targetId": "T1", "title": "new", "url": "https://new"},
	})

	info, _ := s.targets.byID("T1")
	if info.Title != "new" || info.URL != "https://new" {
		t.Fatalf("target info not updated: %#v", info)
	}
}

func TestTargetDestroyedRemovesEntry(t *testing.T) {
	s := newTestServer()
	s.onTargetCreated(map[string]any{"targetInfo": map[string]any{"targetId": "T1", "type": "page"}})
	s.onTargetDestroyed(map[string]any{"targetId": "T1"})

	if _, ok := s.targets.byID("T1"); ok {
		t.Fatal("target T1 should have been removed")
	}
}
