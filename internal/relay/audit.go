package relay

import (
	"log/slog"
	"time"
)

// sensitiveCommands are CDP methods whose invocation is logged at warn for
// operator visibility. Params are never logged even for these — only the
// fact that the method was called, by which client, on which session.
var sensitiveCommands = map[string]bool{
	"Runtime.evaluate":               true,
	"Runtime.callFunctionOn":         true,
	"Page.navigate":                  true,
	"Network.setCookie":              true,
	"Network.deleteCookies":          true,
	"Network.setExtraHTTPHeaders":    true,
	"Storage.clearDataForOrigin":     true,
	"Input.dispatchKeyEvent":         true,
	"DOM.setAttributeValue":          true,
	"Page.setDocumentContent":        true,
	"Fetch.fulfillRequest":           true,
	"Debugger.setBreakpointByUrl":    true,
	"Security.setIgnoreCertErrors":   true,
	"Browser.grantPermissions":       true,
	"Target.createBrowserContext":    true,
	"Emulation.setUserAgentOverride": true,
}

type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(base *slog.Logger) *auditLogger {
	return &auditLogger{logger: base.With("component", "cdp-relay")}
}

func (l *auditLogger) logCommand(clientID, method, sessionID string) {
	if l == nil {
		return
	}

	attrs := []any{
		"client", truncateID(clientID),
		"method", method,
		"ts", time.Now().Unix(),
	}
	if sessionID != "" {
		attrs = append(attrs, "session", truncateID(sessionID))
	}

	if sensitiveCommands[method] {
		l.logger.Warn("cdp_sensitive_command", attrs...)
	} else {
		l.logger.Info("cdp_command", attrs...)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
