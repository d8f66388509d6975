package comm

// Structs

// Membership is the external collaborator reporting the
// current peer set. The broadcast layer performs no
// discovery of its own beyond what this service reports.
type Membership interface {

	// OtherMembers returns the sync addresses of all
	// peers, keyed by replica name, excluding the
	// replica asking.
	OtherMembers() map[string]string
}

// StaticMembership serves a fixed peer table, the one
// assembled from config file and environment at start.
type StaticMembership struct {
	self  string
	peers map[string]string
}

// Functions

// NewStaticMembership builds a membership view for self
// out of the supplied peer table. A peer entry matching
// self is dropped so that replicas do not broadcast to
// themselves.
func NewStaticMembership(self string, peers map[string]string) *StaticMembership {

	others := make(map[string]string, len(peers))

	for name, addr := range peers {

		if name == self {
			continue
		}

		others[name] = addr
	}

	return &StaticMembership{
		self:  self,
		peers: others,
	}
}

// OtherMembers returns a copy of the peer table.
func (m *StaticMembership) OtherMembers() map[string]string {

	others := make(map[string]string, len(m.peers))
	for name, addr := range m.peers {
		others[name] = addr
	}

	return others
}
