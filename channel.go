package qrelay

import "context"

// ChannelDirectory implements the channel-lookup queries of §4.8 (C9,
// connection role): apps resolve the channel currently hosting their
// platform's device key; platforms resolve the least-loaded channel for a
// named service.
type ChannelDirectory struct {
	session *Session
	metrics Metrics
	now     func() int64
}

// NewChannelDirectory builds a lookup helper over session. now defaults to
// time.Now().Unix() when nil; tests may override it for deterministic
// liveness-window behavior.
func NewChannelDirectory(session *Session, metrics Metrics, now func() int64) *ChannelDirectory {
	if now == nil {
		now = unixNow
	}
	return &ChannelDirectory{session: session, metrics: metrics, now: now}
}

// LookupForApp resolves name for an app client identified by (userID,
// deviceKey): among the connection_device_channel rows for that pair,
// among channels still live, pick the one with the greatest last_update
// (§4.8).
func (c *ChannelDirectory) LookupForApp(ctx context.Context, userID uint32, deviceKey, name string) (ChannelRow, ResultCode, error) {
	if c.metrics != nil {
		c.metrics.IncrementChannelLookup()
	}
	rows, err := c.session.ConnectionChannelsForDevice(ctx, userID, deviceKey)
	if err != nil {
		return ChannelRow{}, ResultGeneric, err
	}
	now := c.now()
	var best ChannelRow
	found := false
	for _, row := range rows {
		ch, ok, err := c.session.LiveChannelByID(ctx, row.ChannelID, name, now)
		if err != nil {
			return ChannelRow{}, ResultGeneric, err
		}
		if !ok {
			continue
		}
		if !found || ch.LastUpdate > best.LastUpdate {
			best, found = ch, true
		}
	}
	if !found {
		return ChannelRow{}, ResultNoChannel, nil
	}
	return best, ResultNone, nil
}

// LookupForPlatform resolves name for a platform client: among live
// channel_list rows with that name, pick the one with the minimum
// assistant_connections (§4.8).
func (c *ChannelDirectory) LookupForPlatform(ctx context.Context, name string) (ChannelRow, ResultCode, error) {
	if c.metrics != nil {
		c.metrics.IncrementChannelLookup()
	}
	rows, err := c.session.LiveChannelsByName(ctx, name, c.now())
	if err != nil {
		return ChannelRow{}, ResultGeneric, err
	}
	var best ChannelRow
	found := false
	for _, row := range rows {
		if !found || row.AssistantConnections < best.AssistantConnections {
			best, found = row, true
		}
	}
	if !found {
		return ChannelRow{}, ResultNoChannel, nil
	}
	return best, ResultNone, nil
}
