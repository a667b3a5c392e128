package workflow

import (
	"fmt"

	"github.com/cloudcompose/ecsroll/pkg/stores"
)

// NodeState is the replacement state of one node. States advance strictly
// in order: StateInitial, StateShuttingDown, StateTerminated.
type NodeState uint8

const (
	// StateInitial means replacement has not been requested yet.
	StateInitial NodeState = iota

	// StateShuttingDown means replacement was requested and the old
	// instance may still be running.
	StateShuttingDown

	// StateTerminated means the old instance is gone and the cluster was
	// healthy afterwards.
	StateTerminated
)

var stateNames = [...]string{
	StateInitial:      "initial",
	StateShuttingDown: "replacing",
	StateTerminated:   "terminated",
}

// String returns the persisted name of the state.
func (s NodeState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("NodeState(%d)", s)
}

// Validate rejects values outside the enumeration.
func (s NodeState) Validate() error {
	if int(s) >= len(stateNames) {
		return fmt.Errorf("invalid node state %d", s)
	}
	return nil
}

// Next returns the successor state. The second result is false for
// StateTerminated, which has none.
func (s NodeState) Next() (NodeState, bool) {
	switch s {
	case StateInitial:
		return StateShuttingDown, true
	case StateShuttingDown:
		return StateTerminated, true
	default:
		return s, false
	}
}

// ParseNodeState parses a persisted state name.
func ParseNodeState(name string) (NodeState, error) {
	for i, n := range stateNames {
		if n == name {
			return NodeState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s NodeState) MarshalText() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *NodeState) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Node is one compute instance taking part in a campaign.
type Node struct {
	PrivateAddress string    `json:"private_ip"`
	InstanceID     string    `json:"instance_id"`
	InstanceName   string    `json:"instance_name"`
	ClusterName    string    `json:"cluster_name"`
	State          NodeState `json:"state"`
	Completed      bool      `json:"completed"`
}

func (n Node) String() string {
	return fmt.Sprintf("%s (%s): %s", n.InstanceName, n.InstanceID, n.State)
}

func (n Node) record() stores.NodeRecord {
	return stores.NodeRecord{
		PrivateIP:    n.PrivateAddress,
		InstanceName: n.InstanceName,
		InstanceID:   n.InstanceID,
		State:        n.State.String(),
		Completed:    n.Completed,
	}
}

func nodeFromRecord(cluster string, r stores.NodeRecord) (Node, error) {
	state, err := ParseNodeState(r.State)
	if err != nil {
		return Node{}, err
	}
	return Node{
		PrivateAddress: r.PrivateIP,
		InstanceID:     r.InstanceID,
		InstanceName:   r.InstanceName,
		ClusterName:    cluster,
		State:          state,
		Completed:      r.Completed,
	}, nil
}
