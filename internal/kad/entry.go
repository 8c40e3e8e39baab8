package kad

import (
	"net"
	"strconv"
	"time"
)

// Address is where a node can be reached.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func AddressFromUDP(addr *net.UDPAddr) Address {
	if addr == nil {
		return Address{}
	}
	return Address{Host: addr.IP.String(), Port: addr.Port}
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// UDPAddr resolves the address for sending datagrams.
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", a.String())
}

// Entry is a known node plus the liveness metadata kept by its bucket.
type Entry struct {
	ID          NodeID    `json:"id"`
	Addr        Address   `json:"addr"`
	LastSeen    time.Time `json:"last_seen"`
	FailedCount int       `json:"failed_count"`
}
