// Copyright 2026 LedgerGate
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging for LedgerGate services.
//
// Every entry carries the component, deployment instance, and optional
// user/request attribution so billing operations can be traced per user
// across log aggregation.
package logger
