package idgen

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Generator issues merchant-facing identifiers. Implementations must be safe
// for concurrent use and must not repeat an id across restarts or instances.
type Generator interface {
	// MerchantTransID returns an app_trans_id of the form yyMMdd_<n>.
	MerchantTransID(now time.Time) string
	// RefundID returns an m_refund_id of the form yyMMdd_<appid>_<n>.
	RefundID(now time.Time) string
}

// ProviderZone is the zone the provider uses for the yyMMdd prefix (GMT+7).
var ProviderZone = time.FixedZone("ICT", 7*60*60)

// Snowflake generates ids from a snowflake node. The node id must be unique per
// running instance; the embedded millisecond clock keeps ids increasing across
// restarts.
type Snowflake struct {
	node  *snowflake.Node
	appID string
}

func NewSnowflake(nodeID int64, appID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node, appID: strconv.FormatInt(appID, 10)}, nil
}

func (s *Snowflake) MerchantTransID(now time.Time) string {
	return datePrefix(now) + "_" + s.node.Generate().String()
}

func (s *Snowflake) RefundID(now time.Time) string {
	return datePrefix(now) + "_" + s.appID + "_" + s.node.Generate().String()
}

func datePrefix(now time.Time) string {
	return now.In(ProviderZone).Format("060102")
}
