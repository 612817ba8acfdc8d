package tcpdisco

import (
	"github.com/google/uuid"

	"github.com/otterscale/gridnode/internal/core"
)

// wireNode is the exported, JSON-serializable projection of core.Node.
// core.Node's Attributes fields are deliberately unexported (typed
// accessors only, spec.md §9 Design Note), so every wire boundary
// needs an explicit DTO rather than relying on struct-tag reflection
// over the domain type.
type wireNode struct {
	ID               string   `json:"id"`
	Order            int64    `json:"order"`
	Addresses        []string `json:"addresses"`
	Daemon           bool     `json:"daemon"`
	DeploymentMode   int      `json:"deployment_mode"`
	PeerClassLoading bool     `json:"peer_class_loading"`
	DataCenterID     int8     `json:"data_center_id,omitempty"`
	HasDataCenterID  bool     `json:"has_data_center_id"`
	ProductVersion   string   `json:"product_version"`
}

func toWireNode(n core.Node) wireNode {
	dc, hasDC := n.Attributes.DataCenterID()
	return wireNode{
		ID:               n.ID.String(),
		Order:            int64(n.Order),
		Addresses:        n.Addresses,
		Daemon:           n.Daemon,
		DeploymentMode:   int(n.Attributes.DeploymentMode()),
		PeerClassLoading: n.Attributes.PeerClassLoading(),
		DataCenterID:     dc,
		HasDataCenterID:  hasDC,
		ProductVersion:   n.Attributes.ProductVersion().String(),
	}
}

func fromWireNode(w wireNode) (core.Node, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return core.Node{}, err
	}

	opts := []core.AttributesOption{
		core.WithDeploymentMode(core.DeploymentMode(w.DeploymentMode)),
		core.WithPeerClassLoading(w.PeerClassLoading),
	}
	if w.HasDataCenterID {
		opts = append(opts, core.WithDataCenterID(w.DataCenterID))
	}
	if w.ProductVersion != "" {
		opts = append(opts, core.WithProductVersion(core.ParseVersion(w.ProductVersion)))
	}

	return core.Node{
		ID:         id,
		Order:      core.Order(w.Order),
		Addresses:  w.Addresses,
		Daemon:     w.Daemon,
		Attributes: core.NewAttributes(opts...),
	}, nil
}

// wireMessageType identifies the kind of a tcpdisco protocol message.
type wireMessageType string

const (
	msgHello   wireMessageType = "HELLO"
	msgWelcome wireMessageType = "WELCOME"
	msgJoined  wireMessageType = "JOINED"
	msgLeft    wireMessageType = "LEFT"
	msgFailed  wireMessageType = "FAILED"
	msgPing    wireMessageType = "PING"
	msgPong    wireMessageType = "PONG"
)

// wireMessage is the single envelope exchanged over every tcpdisco
// connection, newline-delimited JSON.
type wireMessage struct {
	Type        wireMessageType `json:"type"`
	Node        wireNode        `json:"node,omitempty"`
	Snapshot    []wireNode      `json:"snapshot,omitempty"`
	TopVer      int64           `json:"top_ver,omitempty"`
	Token       string          `json:"token,omitempty"`
	JoinPayload [][]byte        `json:"join_payload,omitempty"`
}
