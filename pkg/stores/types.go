package stores

import (
	"context"
	"time"
)

// NodeRecord is the persisted form of one node in a campaign.
type NodeRecord struct {
	PrivateIP    string `json:"private_ip"`
	InstanceName string `json:"instance_name"`
	InstanceID   string `json:"instance_id"`
	State        string `json:"state"`
	Completed    bool   `json:"completed"`
}

// Snapshot is the checkpoint of one campaign. The cursor is not stored; it
// is the index of the first node that is not completed.
type Snapshot struct {
	ClusterName string       `json:"cluster_name"`
	CampaignID  string       `json:"campaign_id"`
	SavedAt     time.Time    `json:"saved_at"`
	Nodes       []NodeRecord `json:"nodes"`
}

// Cursor returns the index of the first node that is not completed, or
// len(Nodes) when every node is.
func (s *Snapshot) Cursor() int {
	for i, n := range s.Nodes {
		if !n.Completed {
			return i
		}
	}
	return len(s.Nodes)
}

// WorkflowStore checkpoints and restores campaigns keyed by cluster name.
type WorkflowStore interface {
	Save(ctx context.Context, snapshot *Snapshot) error

	// Load returns nil without error when no snapshot exists.
	Load(ctx context.Context, cluster string) (*Snapshot, error)

	// Delete succeeds when no snapshot exists.
	Delete(ctx context.Context, cluster string) error
}

// Transition is one node state change recorded in the history journal.
type Transition struct {
	ID          int64     `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	ClusterName string    `json:"cluster_name"`
	InstanceID  string    `json:"instance_id"`
	FromState   string    `json:"from_state"`
	ToState     string    `json:"to_state"`
	Completed   bool      `json:"completed"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// HistoryConfig holds history journal configuration.
type HistoryConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
