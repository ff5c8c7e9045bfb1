// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package keyspace maps logical resource names onto shared-store keys.
//
// Every key has the shape {prefix}:{domain}:{scope}:{identifier}. Components
// are percent-escaped so a ':' inside an identifier can never shift a
// component boundary; two distinct logical resources therefore never share a
// key, and the same logical resource always yields the same key.
//
// Key formats:
//
//	{prefix}:lock:{namespace}:{key}
//	{prefix}:telemetry:project:{projectID}
//	{prefix}:draft:session:{sessionID}
package keyspace

import (
	"strconv"
	"strings"
)

// DefaultPrefix is used when a Builder is created with an empty prefix.
const DefaultPrefix = "coord"

// Domains owned by this module.
const (
	DomainLock      = "lock"
	DomainTelemetry = "telemetry"
	DomainDraft     = "draft"
)

var escaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Builder computes keys under one fixed prefix. The zero value is not
// usable; create with New. Builder is immutable and safe for concurrent use.
type Builder struct {
	prefix string
}

// New creates a Builder for the given prefix.
//
// # Inputs
//
//   - prefix: Namespace for every key. Empty means DefaultPrefix. The prefix
//     is escaped like any other component.
//
// # Outputs
//
//   - Builder: Ready to use.
func New(prefix string) Builder {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Builder{prefix: escape(prefix)}
}

// Prefix returns the escaped prefix.
func (b Builder) Prefix() string {
	return b.prefix
}

// Key builds {prefix}:{domain}:{scope}:{identifier}.
func (b Builder) Key(domain, scope, identifier string) string {
	var sb strings.Builder
	sb.Grow(len(b.prefix) + len(domain) + len(scope) + len(identifier) + 3)
	sb.WriteString(b.prefix)
	sb.WriteByte(':')
	sb.WriteString(escape(domain))
	sb.WriteByte(':')
	sb.WriteString(escape(scope))
	sb.WriteByte(':')
	sb.WriteString(escape(identifier))
	return sb.String()
}

// Lock returns the key guarding resource key within namespace.
func (b Builder) Lock(namespace, key string) string {
	return b.Key(DomainLock, namespace, key)
}

// Telemetry returns the counter hash key for a project.
func (b Builder) Telemetry(projectID int64) string {
	return b.Key(DomainTelemetry, "project", strconv.FormatInt(projectID, 10))
}

// Draft returns the key holding a session's draft state.
func (b Builder) Draft(sessionID string) string {
	return b.Key(DomainDraft, "session", sessionID)
}

func escape(s string) string {
	if !strings.ContainsAny(s, "%:") {
		return s
	}
	return escaper.Replace(s)
}
