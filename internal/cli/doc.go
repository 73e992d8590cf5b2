// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigstream command tree.
//
// Commands:
//
//	ask         one question, streamed; repeat --model to compare models
//	chat        interactive session with live config reload and line editing
//	regenerate  new version of a saved conversation's last reply
//	replay      fold a captured SSE or NDJSON stream offline
//	cache       list, top and clear the provider success cache
//	history     list, search, show, retitle, export and delete conversations
//	config      show, get, set, path and keys
//	models      models offered by the configured service
//	usage       token usage trends
//
// Every command accepts --format text|json|yaml. Errors are returned from
// RunE and mapped to exit codes by Execute.
package cli
