// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging wraps zap with key-value helpers and secret redaction.
//
// Values logged under credential-like keys (api_key, authorization, secret,
// password, token) are replaced with "[REDACTED]"; token counters such as
// output_tokens are kept. Cache fingerprints are logged as a short hash.
package logging
