package store

import (
	"crypto/sha256"
	"net"
	"os"
	"runtime"
	"strings"
)

// MachineSecret derives the at-rest key material from properties of the
// running machine: the primary network interface hardware address, the host
// name, and the CPU architecture. Copying the shard directory to another
// machine leaves it undecryptable.
func MachineSecret() []byte {
	parts := []string{primaryHardwareAddr(), hostname(), runtime.GOARCH}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return sum[:]
}

func primaryHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
