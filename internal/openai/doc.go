// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai adapts the go-openai SDK's chat-completion stream to the
// chunk event family.
package openai
