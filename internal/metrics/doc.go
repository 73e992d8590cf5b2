// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics declares the Prometheus collectors for streaming attempts,
// provider transports and the outcome cache.
package metrics
