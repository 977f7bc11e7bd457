package asyncmc

// Servers provides the current list of server addresses.
// Implementations may be static or dynamic (service discovery).
type Servers interface {
	List() []string
}

type staticServers struct {
	addresses []string
}

// StaticServers returns a fixed server list.
func StaticServers(addresses ...string) Servers {
	return &staticServers{addresses: addresses}
}

func (s *staticServers) List() []string {
	return s.addresses
}
