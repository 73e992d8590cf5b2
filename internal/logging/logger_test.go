// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return FromZap(zap.New(core)), logs
}

func TestRedaction(t *testing.T) {
	log, logs := observed()

	log.Info("request",
		"api_key", "sk-abcdef",
		"Authorization", "Bearer xyz",
		"output_tokens", 42,
		"model", "gpt-4o",
		"note", "Bearer leaked",
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, redacted, fields["api_key"])
	assert.Equal(t, redacted, fields["Authorization"])
	assert.EqualValues(t, 42, fields["output_tokens"])
	assert.Equal(t, "gpt-4o", fields["model"])
	assert.Equal(t, redacted, fields["note"])
}

func TestRedaction_NestedMap(t *testing.T) {
	log, logs := observed()
	log.Warn("headers", "headers", map[string]string{"Authorization": "x", "Accept": "text/event-stream"})

	fields := logs.All()[0].ContextMap()
	headers, ok := fields["headers"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, redacted, headers["Authorization"])
	assert.Equal(t, "text/event-stream", headers["Accept"])
}

func TestFingerprintHashed(t *testing.T) {
	log, logs := observed()
	log.With("fingerprint", "default:https://api:gpt:1a2b3c4d").Debug("hit")

	fields := logs.All()[0].ContextMap()
	v, _ := fields["fingerprint"].(string)
	assert.True(t, strings.HasPrefix(v, "hash:"))
	assert.Len(t, v, len("hash:")+12)
}

func TestOddKeyValues(t *testing.T) {
	out := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	assert.Equal(t, []interface{}{"a", 1, "dangling"}, out)
}

func TestNew(t *testing.T) {
	l, err := New("production", "debug")
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = New("dev", "loud")
	assert.Error(t, err)

	assert.NotNil(t, OrNop(nil))
}
