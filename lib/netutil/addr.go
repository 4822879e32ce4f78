// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// JoinHostPort validates port and joins it with host. Port 0 is
// accepted and asks the kernel for an ephemeral port.
func JoinHostPort(host string, port int) (string, error) {
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("port %d out of range 0-65535", port)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
