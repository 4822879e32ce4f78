// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration shared by can-relay and
// can-gateway.
//
// One file carries a relay section, a gateway section and a logging
// section; each binary validates the parts it uses with
// [Config.ValidateRelay] or [Config.ValidateGateway]. The file is
// named by --config or the CANBRIDGE_CONFIG environment variable.
// Without either, [Default] applies. Command-line flags override file
// values, and only flags the user actually set do so.
//
// Path fields may use ${VAR} and ${VAR:-default}; nothing else reads
// the environment.
package config
