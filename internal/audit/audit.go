// Package audit logs CLI command invocations with the resolved process
// configuration, so operators can trace which store, backend and provider a
// run used. Secret keys are recorded as "set" or "unset", never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type envKey struct {
	name   string
	secret bool
}

// group collects the env vars of one concern under a nested log attribute.
type group struct {
	name string
	keys []envKey
}

// groups is the ordered audit layout. Attribute names inside a group are the
// lowercased env var names with the group prefix removed.
var groups = []group{
	{"embedding", []envKey{
		{"EMBEDDING_PROVIDER", false},
		{"EMBEDDING_MODEL", false},
		{"EMBEDDING_DIMENSIONS", false},
		{"EMBEDDING_ENDPOINT", false},
		{"EMBEDDING_TIMEOUT", false},
		{"EMBEDDING_API_KEY", true},
		{"OPENAI_API_KEY", true},
		{"AZURE_OPENAI_API_KEY", true},
		{"GOOGLE_API_KEY", true},
		{"OLLAMA_HOST", false},
	}},
	{"store", []envKey{
		{"BRANDRAG_DB", false},
		{"VECTOR_BACKEND", false},
		{"QDRANT_HOST", false},
		{"QDRANT_PORT", false},
		{"QDRANT_COLLECTION", false},
		{"QDRANT_API_KEY", true},
	}},
	{"server", []envKey{
		{"BRANDRAG_HOST", false},
		{"BRANDRAG_PORT", false},
		{"BRANDRAG_API_KEY", true},
		{"BRANDRAG_RATE_LIMIT", false},
		{"BRANDRAG_RATE_BURST", false},
		{"CLEANUP_INTERVAL", false},
	}},
	{"logging", []envKey{
		{"LOG_LEVEL", false},
		{"LOG_FORMAT", false},
	}},
}

var secretKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, g := range groups {
		for _, k := range g.keys {
			if k.secret {
				m[k.name] = true
			}
		}
	}
	return m
}()

// LogCommandStart emits one INFO entry describing the command about to run.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, g := range groups {
		attrs = append(attrs, groupAttr(g))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

func groupAttr(g group) slog.Attr {
	inner := make([]any, 0, len(g.keys))
	for _, k := range g.keys {
		inner = append(inner, slog.String(attrName(g.name, k.name), SanitiseKey(k.name, os.Getenv(k.name))))
	}
	return slog.Group(g.name, inner...)
}

// attrName maps ("store", "QDRANT_HOST") to "qdrant_host" and
// ("embedding", "EMBEDDING_MODEL") to "model".
func attrName(group, key string) string {
	name := strings.ToLower(key)
	if trimmed, ok := strings.CutPrefix(name, group+"_"); ok {
		return trimmed
	}
	return name
}

// SanitiseKey returns "set" or "unset" for secret keys and the value (or
// "unset") for everything else.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case secretKeys[key]:
		return "set"
	default:
		return value
	}
}

// sanitiseConfigPath shortens the home directory to "~"; an empty path is
// reported as "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil {
		if rest, ok := strings.CutPrefix(p, home); ok {
			return "~" + rest
		}
	}
	return p
}
