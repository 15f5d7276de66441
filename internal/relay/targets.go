package relay

import "sync"

// targetTable maintains targetId -> TargetInfo derived entirely from
// extension-originated events. It is mutated by the extension's reader
// goroutine and reset whenever an extension epoch is retired (which may run
// on another goroutine); the lock also guards reads from the CDP
// interceptor and HTTP status handler.
type targetTable struct {
	mu       sync.RWMutex
	byTarget map[string]*TargetInfo
}

func newTargetTable() *targetTable {
	return &targetTable{byTarget: make(map[string]*TargetInfo)}
}

func (t *targetTable) upsert(info *TargetInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byTarget[info.TargetID] = info
}

func (t *targetTable) updateInfo(targetID string, title, url *string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.byTarget[targetID]
	if !ok {
		return
	}
	if title != nil {
		info.Title = *title
	}
	if url != nil {
		info.URL = *url
	}
}

func (t *targetTable) setSession(targetID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.byTarget[targetID]; ok {
		info.SessionID = sessionID
		info.Attached = sessionID != ""
	}
}

func (t *targetTable) clearSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, info := range t.byTarget {
		if info.SessionID == sessionID {
			info.SessionID = ""
			info.Attached = false
		}
	}
}

func (t *targetTable) remove(targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byTarget, targetID)
}

func (t *targetTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byTarget = make(map[string]*TargetInfo)
}

func (t *targetTable) byID(targetID string) (*TargetInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.byTarget[targetID]
	return info, ok
}

func (t *targetTable) bySession(sessionID string) (*TargetInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, info := range t.byTarget {
		if info.SessionID == sessionID {
			return info, true
		}
	}
	return nil, false
}

// onTargetCreated handles Target.targetCreated{targetInfo} from the
// extension: insert or update.
func (s *Server) onTargetCreated(params any) {
	m, ok := asMap(params)
	if !ok {
		return
	}
	info := decodeTargetInfo(m)
	if info == nil {
		return
	}
	s.targets.upsert(info)
}

// onTargetAttached handles Target.attachedToTarget{sessionId, targetInfo}.
func (s *Server) onTargetAttached(params any) {
	m, ok := asMap(params)
	if !ok {
		return
	}
	sessionID := stringField(m, "sessionId")
	infoRaw, _ := m["targetInfo"].(map[string]any)
	if sessionID == "" || infoRaw == nil {
		return
	}

	targetType := stringField(infoRaw, "type")
	if targetType != "" && targetType != "page" {
		return
	}
	if targetType == "" {
		targetType = "page"
	}

	browserContextID := stringField(infoRaw, "browserContextId")
	if browserContextID == "" {
		browserContextID = "default"
	}

	info := &TargetInfo{
		TargetID:         stringField(infoRaw, "targetId"),
		Type:             targetType,
		Title:            stringField(infoRaw, "title"),
		URL:              stringField(infoRaw, "url"),
		Attached:         true,
		BrowserContextID: browserContextID,
		SessionID:        sessionID,
	}
	s.targets.upsert(info)
}

// onTargetDetached handles Target.detachedFromTarget{sessionId}.
func (s *Server) onTargetDetached(params any) {
	m, ok := asMap(params)
	if !ok {
		return
	}
	sessionID := stringField(m, "sessionId")
	if sessionID == "" {
		return
	}
	s.targets.clearSession(sessionID)
	s.detachSession(sessionID)
}

// onTargetInfoChanged handles Target.targetInfoChanged{targetInfo}.
func (s *Server) onTargetInfoChanged(params any) {
	m, ok := asMap(params)
	if !ok {
		return
	}
	infoRaw, _ := m["targetInfo"].(map[string]any)
	if infoRaw == nil {
		return
	}
	targetID := stringField(infoRaw, "targetId")
	if targetID == "" {
		return
	}
	var title, url *string
	if v, ok := infoRaw["title"].(string); ok {
		title = &v
	}
	if v, ok := infoRaw["url"].(string); ok {
		url = &v
	}
	s.targets.updateInfo(targetID, title, url)
}

// onTargetDestroyed handles Target.targetDestroyed{targetId}.
func (s *Server) onTargetDestroyed(params any) {
	m, ok := asMap(params)
	if !ok {
		return
	}
	targetID := stringField(m, "targetId")
	if targetID == "" {
		return
	}
	s.targets.remove(targetID)
}

// decodeTargetInfo builds a TargetInfo from a params map whose "targetInfo"
// key holds the raw CDP shape. It returns nil when that key is absent or has
// no targetId.
func decodeTargetInfo(m map[string]any) *TargetInfo {
	infoRaw, _ := m["targetInfo"].(map[string]any)
	if infoRaw == nil {
		return nil
	}
	targetID := stringField(infoRaw, "targetId")
	if targetID == "" {
		return nil
	}
	browserContextID := stringField(infoRaw, "browserContextId")
	return &TargetInfo{
		TargetID:         targetID,
		Type:             stringField(infoRaw, "type"),
		Title:            stringField(infoRaw, "title"),
		URL:              stringField(infoRaw, "url"),
		Attached:         boolField(infoRaw, "attached"),
		BrowserContextID: browserContextID,
	}
}

func (t *targetTable) snapshot() []*TargetInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*TargetInfo, 0, len(t.byTarget))
	for _, info := range t.byTarget {
		cp := *info
		out = append(out, &cp)
	}
	return out
}
